package ranking

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/doujins-org/rankkit/retrieve"
	"github.com/doujins-org/rankkit/stats"
)

// Weights are the composite score's per-signal weights. They must sum to 1
// within 1e-6; Validate rejects anything else at configuration load so the
// composite stays in [0, 1] by construction.
type Weights struct {
	Semantic    float64 `koanf:"semantic" json:"semantic"`
	Popularity  float64 `koanf:"popularity" json:"popularity"`
	Exploration float64 `koanf:"exploration" json:"exploration"`
	Freshness   float64 `koanf:"freshness" json:"freshness"`
}

// DefaultWeights returns the production defaults.
func DefaultWeights() Weights {
	return Weights{Semantic: 0.50, Popularity: 0.25, Exploration: 0.15, Freshness: 0.10}
}

const weightSumTolerance = 1e-6

func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"semantic":    w.Semantic,
		"popularity":  w.Popularity,
		"exploration": w.Exploration,
		"freshness":   w.Freshness,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("weight %s must be in [0, 1], got %v", name, v)
		}
	}
	sum := w.Semantic + w.Popularity + w.Exploration + w.Freshness
	if math.Abs(sum-1.0) > weightSumTolerance {
		return fmt.Errorf("weights must sum to 1, got %v", sum)
	}
	return nil
}

// Scored is a candidate with its per-signal scores attached. Blended starts
// equal to Composite and is overwritten by the rerank blend when enabled.
type Scored struct {
	retrieve.Candidate

	Semantic    float64
	Popularity  float64
	Exploration float64
	Freshness   float64
	Composite   float64

	// Neural is the raw cross-encoder score when reranking ran.
	Neural *float64

	// Blended is the score diversification ranks on.
	Blended float64
}

// Scorer combines the four normalized signals into a composite score.
type Scorer struct {
	weights     Weights
	popularity  *Popularity
	exploration *Exploration
	freshness   *Freshness
}

func NewScorer(weights Weights, popularity *Popularity, exploration *Exploration, freshness *Freshness) (*Scorer, error) {
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	if popularity == nil || exploration == nil || freshness == nil {
		return nil, fmt.Errorf("all estimators are required")
	}
	return &Scorer{
		weights:     weights,
		popularity:  popularity,
		exploration: exploration,
		freshness:   freshness,
	}, nil
}

// Score computes composite scores for all candidates and returns them
// ordered by descending composite, ties broken by descending semantic then
// ascending item ID. Statistics missing from byItem are treated as zero
// (cold-start prior behavior). rng is only used in Thompson mode.
func (s *Scorer) Score(candidates []retrieve.Candidate, byItem map[string]stats.ItemStatistics, now time.Time, rng *rand.Rand) []Scored {
	out := make([]Scored, 0, len(candidates))
	for _, c := range candidates {
		st := byItem[c.ItemID]

		semantic := c.Semantic()
		popularity := s.popularity.Score(st)
		exploration := s.exploration.Score(st, rng)
		freshness := s.freshness.Score(c.CreatedAt, now)

		composite := s.weights.Semantic*semantic +
			s.weights.Popularity*popularity +
			s.weights.Exploration*exploration +
			s.weights.Freshness*freshness

		out = append(out, Scored{
			Candidate:   c,
			Semantic:    semantic,
			Popularity:  popularity,
			Exploration: exploration,
			Freshness:   freshness,
			Composite:   composite,
			Blended:     composite,
		})
	}

	SortByComposite(out)
	return out
}

// SortByComposite orders in place by descending composite with the
// deterministic tie-break.
func SortByComposite(scored []Scored) {
	sort.SliceStable(scored, func(i, j int) bool {
		return lessRanked(scored[i], scored[j], scored[i].Composite, scored[j].Composite)
	})
}

// SortByBlended orders in place by descending blended score with the same
// tie-break, used after the rerank blend.
func SortByBlended(scored []Scored) {
	sort.SliceStable(scored, func(i, j int) bool {
		return lessRanked(scored[i], scored[j], scored[i].Blended, scored[j].Blended)
	})
}

func lessRanked(a, b Scored, ka, kb float64) bool {
	if ka != kb {
		return ka > kb
	}
	if a.Semantic != b.Semantic {
		return a.Semantic > b.Semantic
	}
	return a.ItemID < b.ItemID
}

// TopK truncates an already-sorted slice to at most k entries.
func TopK(scored []Scored, k int) []Scored {
	if k <= 0 {
		return nil
	}
	if len(scored) > k {
		return scored[:k]
	}
	return scored
}
