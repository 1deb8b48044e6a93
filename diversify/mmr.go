package diversify

import (
	"math"

	"github.com/doujins-org/rankkit/internal/normalize"
	"github.com/doujins-org/rankkit/internal/textnormalize"
	"github.com/doujins-org/rankkit/ranking"
)

// Selection is one diversified result with its MMR diagnostics. Rank is the
// 1-based insertion order.
type Selection struct {
	ranking.Scored

	MMRScore   float64
	Redundancy float64
	Rank       int
}

// Diversifier selects a diverse top-n from blended candidates:
//
//	mmr(c | S) = lambda*rel(c) - (1-lambda)*max_{s in S} cos(c, s)
//
// with rel(c) the blended score and the max over an empty S defined as 0.
// Selection is round-based within genre slot allocations; ties break by
// descending rel, then ascending item ID, so two runs over identical inputs
// produce identical orderings.
type Diversifier struct {
	lambda      float64
	minPerGenre int
}

func NewDiversifier(lambda float64, minPerGenre int) *Diversifier {
	if lambda < 0 {
		lambda = 0
	}
	if lambda > 1 {
		lambda = 1
	}
	if minPerGenre < 0 {
		minPerGenre = 0
	}
	return &Diversifier{lambda: lambda, minPerGenre: minPerGenre}
}

type mmrCandidate struct {
	ranking.Scored
	genre string
	unit  []float32 // L2-normalized embedding, nil when absent or zero
}

// Select returns at most n diversified results in insertion order.
func (d *Diversifier) Select(candidates []ranking.Scored, n int) []Selection {
	if n <= 0 || len(candidates) == 0 {
		return []Selection{}
	}
	if n > len(candidates) {
		n = len(candidates)
	}

	// Normalize embeddings once per request so redundancy is a dot product.
	pool := make([]mmrCandidate, 0, len(candidates))
	counts := map[string]int{}
	for _, c := range candidates {
		// Bucket on the normalized label so "Hip-Hop" and "hip hop" share
		// a slot allocation.
		genre := textnormalize.Heavy(c.Genre)
		if genre == "" {
			genre = UnknownGenre
		}
		var unit []float32
		if len(c.Embedding) > 0 {
			if u, ok := normalize.L2Copy(c.Embedding); ok {
				unit = u
			}
		}
		pool = append(pool, mmrCandidate{Scored: c, genre: genre, unit: unit})
		counts[genre]++
	}

	slots := AllocateSlots(counts, n, d.minPerGenre)

	selected := make([]Selection, 0, n)
	selectedUnits := make([][]float32, 0, n)
	taken := make([]bool, len(pool))

	pick := func(constrained bool) bool {
		bestIdx := -1
		var bestScore, bestRedundancy float64
		for i := range pool {
			if taken[i] {
				continue
			}
			if constrained && slots[pool[i].genre] <= 0 {
				continue
			}
			redundancy := maxSimilarity(pool[i].unit, selectedUnits)
			score := d.lambda*pool[i].Blended - (1-d.lambda)*redundancy
			if bestIdx < 0 || better(score, pool[i], bestScore, pool[bestIdx]) {
				bestIdx, bestScore, bestRedundancy = i, score, redundancy
			}
		}
		if bestIdx < 0 {
			return false
		}
		taken[bestIdx] = true
		if constrained {
			slots[pool[bestIdx].genre]--
		}
		selected = append(selected, Selection{
			Scored:     pool[bestIdx].Scored,
			MMRScore:   bestScore,
			Redundancy: bestRedundancy,
			Rank:       len(selected) + 1,
		})
		selectedUnits = append(selectedUnits, pool[bestIdx].unit)
		return true
	}

	// Constrained rounds across all buckets still owed slots.
	for len(selected) < n {
		if !pick(true) {
			break
		}
	}
	// Slot allocations exhausted before n (small or skewed pool): fill from
	// any unselected candidates by the same MMR rule.
	for len(selected) < n {
		if !pick(false) {
			break
		}
	}
	return selected
}

// better reports whether (score, c) beats the current best with the
// deterministic tie-break: higher mmr, then higher rel, then lower item ID.
func better(score float64, c mmrCandidate, bestScore float64, best mmrCandidate) bool {
	if score != bestScore {
		return score > bestScore
	}
	if c.Blended != best.Blended {
		return c.Blended > best.Blended
	}
	return c.ItemID < best.ItemID
}

// maxSimilarity returns the highest cosine similarity between unit and the
// already-selected set; 0 for an empty set or missing embeddings.
func maxSimilarity(unit []float32, selected [][]float32) float64 {
	if unit == nil || len(selected) == 0 {
		return 0
	}
	best := math.Inf(-1)
	any := false
	for _, s := range selected {
		if s == nil || len(s) != len(unit) {
			continue
		}
		any = true
		if sim := dot(unit, s); sim > best {
			best = sim
		}
	}
	if !any {
		return 0
	}
	return best
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
