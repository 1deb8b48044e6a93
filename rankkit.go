// Package rankkit ranks audio catalog items for a search query in stages:
// vector retrieval, composite scoring over debiased engagement statistics,
// optional cross-encoder reranking and genre-aware MMR diversification.
//
// The pipeline degrades instead of failing: a statistics outage scores
// cold-start, a reranker outage keeps composite order. Only retrieval is
// fatal, because without candidates there is nothing to rank.
package rankkit

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/doujins-org/rankkit/diversify"
	"github.com/doujins-org/rankkit/embedder"
	"github.com/doujins-org/rankkit/ranking"
	"github.com/doujins-org/rankkit/rerank"
	"github.com/doujins-org/rankkit/retrieve"
	"github.com/doujins-org/rankkit/stats"
)

// Request is one ranked search. Limit overrides the configured result count
// when positive (capped at the configured rerank depth). Seed pins the
// Thompson sampler for reproducible sessions; 0 draws a weak seed.
// IncludeScores attaches the per-signal breakdown to every result; off by
// default so the common response carries only item ids, ranks and metadata.
type Request struct {
	Query         string           `json:"query"`
	SessionID     string           `json:"session_id,omitempty"`
	Filters       retrieve.Filters `json:"filters,omitempty"`
	Limit         int              `json:"limit,omitempty"`
	Seed          int64            `json:"seed,omitempty"`
	IncludeScores bool             `json:"include_scores,omitempty"`
}

// ScoreBreakdown exposes every signal that produced a result's position.
type ScoreBreakdown struct {
	Semantic    float64  `json:"semantic"`
	Popularity  float64  `json:"popularity"`
	Exploration float64  `json:"exploration"`
	Freshness   float64  `json:"freshness"`
	Composite   float64  `json:"composite"`
	Neural      *float64 `json:"neural,omitempty"`
	Blended     float64  `json:"blended"`
	MMR         float64  `json:"mmr"`
	Redundancy  float64  `json:"redundancy"`
}

// Result is one ranked item. Rank is 1-based display position. Score is nil
// unless the request asked for the breakdown.
type Result struct {
	ItemID   string          `json:"item_id"`
	Rank     int             `json:"rank"`
	Title    string          `json:"title,omitempty"`
	AudioURL string          `json:"audio_url,omitempty"`
	Genre    string          `json:"genre,omitempty"`
	Mood     string          `json:"mood,omitempty"`
	Format   string          `json:"format,omitempty"`
	BPM      int             `json:"bpm,omitempty"`
	Score    *ScoreBreakdown `json:"score,omitempty"`
}

// StageTimings reports wall time per pipeline stage.
type StageTimings struct {
	Embed     time.Duration
	Retrieve  time.Duration
	Stats     time.Duration
	Score     time.Duration
	Rerank    time.Duration
	Diversify time.Duration
	Total     time.Duration
}

// MarshalJSON reports each stage in fractional milliseconds under stable
// wire names, so clients never have to interpret Duration nanoseconds.
func (t StageTimings) MarshalJSON() ([]byte, error) {
	ms := func(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }
	return json.Marshal(struct {
		Embed     float64 `json:"embed_ms"`
		Retrieval float64 `json:"retrieval_ms"`
		Stats     float64 `json:"stats_ms"`
		Ranking   float64 `json:"ranking_ms"`
		Rerank    float64 `json:"rerank_ms"`
		Diversity float64 `json:"diversity_ms"`
		Total     float64 `json:"total_ms"`
	}{ms(t.Embed), ms(t.Retrieve), ms(t.Stats), ms(t.Score), ms(t.Rerank), ms(t.Diversify), ms(t.Total)})
}

// Response carries ranked results plus degradation flags. RerankSkipped is
// set when reranking was disabled, unavailable or failed; StatsDegraded when
// statistics could not be read and scoring fell back to the cold prior.
type Response struct {
	Results       []Result     `json:"results"`
	Timings       StageTimings `json:"timings"`
	RerankSkipped bool         `json:"rerank_skipped,omitempty"`
	StatsDegraded bool         `json:"stats_degraded,omitempty"`
}

// Options wires the pipeline's collaborators. Embedder, Retriever and Store
// are required. Reranker nil disables the neural blend regardless of config.
// RecordImpressions defaults true; tests and offline evaluation turn it off.
type Options struct {
	Embedder  embedder.Embedder
	Retriever retrieve.Retriever
	Store     stats.Store
	Reranker  rerank.Reranker
	Logger    *zerolog.Logger

	DisableImpressionRecording bool
}

// Pipeline coordinates the ranking stages. Safe for concurrent use.
type Pipeline struct {
	cfg Config

	embedder  embedder.Embedder
	retriever retrieve.Retriever
	store     stats.Store
	reranker  rerank.Reranker

	bias    *ranking.PositionBias
	scorer  *ranking.Scorer
	div     *diversify.Diversifier
	explore ranking.ExplorationMode

	record bool
	log    zerolog.Logger

	inflight sync.WaitGroup
}

// NewPipeline validates cfg and builds the stage components.
func NewPipeline(cfg Config, opts Options) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrConfigInvalid)
	}
	if opts.Retriever == nil {
		return nil, fmt.Errorf("%w: retriever is required", ErrConfigInvalid)
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("%w: statistics store is required", ErrConfigInvalid)
	}

	scorer, err := ranking.NewScorer(
		cfg.Weights,
		ranking.NewPopularity(cfg.PriorAlpha, cfg.PriorBeta),
		ranking.NewExploration(cfg.PriorAlpha, cfg.PriorBeta, ranking.ExplorationMode(cfg.ExplorationMode)),
		ranking.NewFreshness(cfg.FreshnessHalfLifeDays),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}

	log := zerolog.Nop()
	if opts.Logger != nil {
		log = opts.Logger.With().Str("component", "rankkit").Logger()
	}

	return &Pipeline{
		cfg:       cfg,
		embedder:  opts.Embedder,
		retriever: opts.Retriever,
		store:     opts.Store,
		reranker:  opts.Reranker,
		bias:      ranking.NewPositionBias(cfg.BiasAlpha, cfg.BiasFloor),
		scorer:    scorer,
		div:       diversify.NewDiversifier(cfg.MMRLambda, cfg.MinPerGenre),
		explore:   ranking.ExplorationMode(cfg.ExplorationMode),
		record:    !opts.DisableImpressionRecording,
		log:       log,
	}, nil
}

// Bias exposes the position-bias model so callers can reuse its Weight as
// the store's debiasing weight function.
func (p *Pipeline) Bias() *ranking.PositionBias { return p.bias }

// Search runs the full pipeline. Cancellation mid-flight returns best-effort
// results from the stages that completed; in-flight impression records are
// never cancelled.
func (p *Pipeline) Search(ctx context.Context, req Request) (*Response, error) {
	started := time.Now()

	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("%w: query must not be empty", ErrInvalidInput)
	}
	n := p.cfg.ResultN
	if req.Limit > 0 {
		n = req.Limit
		if n > p.cfg.RerankK {
			n = p.cfg.RerankK
		}
	}

	resp := &Response{Results: []Result{}}

	// Embed. Fatal: retrieval cannot run without a query vector.
	t := time.Now()
	queryVec, err := p.embedder.EmbedText(ctx, query)
	resp.Timings.Embed = time.Since(t)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %v", ErrRetrievalFailed, err)
	}

	// Retrieve K1 nearest candidates. Fatal on error; empty is a valid
	// answer.
	t = time.Now()
	candidates, err := p.retriever.Retrieve(ctx, queryVec, p.cfg.RetrieveK, req.Filters)
	resp.Timings.Retrieve = time.Since(t)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRetrievalFailed, err)
	}
	if len(candidates) == 0 {
		resp.Timings.Total = time.Since(started)
		return resp, nil
	}

	// Batched statistics read. Degrades to the cold prior.
	t = time.Now()
	var byItem map[string]stats.ItemStatistics
	if ctx.Err() == nil {
		ids := make([]string, len(candidates))
		for i, c := range candidates {
			ids[i] = c.ItemID
		}
		byItem, err = p.store.GetMany(ctx, ids)
		if err != nil {
			p.log.Warn().Err(fmt.Errorf("%w: %v", ErrStatsRead, err)).Msg("statistics read failed, scoring cold")
			byItem = nil
			resp.StatsDegraded = true
		}
	} else {
		resp.StatsDegraded = true
	}
	resp.Timings.Stats = time.Since(t)

	// Composite scoring, top K2.
	t = time.Now()
	var rng *rand.Rand
	if p.explore == ranking.ModeThompson {
		seed := req.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		rng = rand.New(rand.NewSource(seed))
	}
	scored := ranking.TopK(p.scorer.Score(candidates, byItem, time.Now(), rng), p.cfg.RerankK)
	resp.Timings.Score = time.Since(t)

	// Neural blend. Degrades to composite order.
	t = time.Now()
	if p.cfg.RerankEnabled && p.reranker != nil && ctx.Err() == nil {
		if err := p.rerankBlend(ctx, query, scored); err != nil {
			p.log.Warn().Err(err).Msg("rerank failed, keeping composite order")
			resp.RerankSkipped = true
		} else {
			ranking.SortByBlended(scored)
		}
	} else {
		resp.RerankSkipped = true
	}
	resp.Timings.Rerank = time.Since(t)

	// Diversify top N.
	t = time.Now()
	selections := p.div.Select(scored, n)
	resp.Timings.Diversify = time.Since(t)

	resp.Results = make([]Result, len(selections))
	for i, sel := range selections {
		resp.Results[i] = Result{
			ItemID:   sel.ItemID,
			Rank:     sel.Rank,
			Title:    sel.Title,
			AudioURL: sel.AudioURL,
			Genre:    sel.Genre,
			Mood:     sel.Mood,
			Format:   sel.Format,
			BPM:      sel.BPM,
		}
		if req.IncludeScores {
			resp.Results[i].Score = &ScoreBreakdown{
				Semantic:    sel.Semantic,
				Popularity:  sel.Popularity,
				Exploration: sel.Exploration,
				Freshness:   sel.Freshness,
				Composite:   sel.Composite,
				Neural:      sel.Neural,
				Blended:     sel.Blended,
				MMR:         sel.MMRScore,
				Redundancy:  sel.Redundancy,
			}
		}
	}

	if p.record && len(resp.Results) > 0 {
		p.recordImpressions(ctx, req.SessionID, resp.Results)
	}

	resp.Timings.Total = time.Since(started)
	p.log.Debug().
		Int("candidates", len(candidates)).
		Int("results", len(resp.Results)).
		Bool("rerank_skipped", resp.RerankSkipped).
		Bool("stats_degraded", resp.StatsDegraded).
		Dur("total", resp.Timings.Total).
		Msg("search ranked")
	return resp, nil
}

func (p *Pipeline) rerankBlend(ctx context.Context, query string, scored []ranking.Scored) error {
	cands := make([]retrieve.Candidate, len(scored))
	for i, s := range scored {
		cands[i] = s.Candidate
	}
	scores, err := p.reranker.Rerank(ctx, query, rerank.Documents(cands, 0))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRerankFailed, err)
	}
	if err := rerank.Blend(scored, scores, p.cfg.BlendLambda); err != nil {
		return fmt.Errorf("%w: %v", ErrRerankFailed, err)
	}
	return nil
}

// recordImpressions writes one impression per displayed result at its
// display rank. Runs detached from the request context so cancellation
// never loses feedback; failures are logged, never surfaced.
func (p *Pipeline) recordImpressions(ctx context.Context, sessionID string, results []Result) {
	detached := context.WithoutCancel(ctx)
	now := time.Now()

	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()

		g, gctx := errgroup.WithContext(detached)
		g.SetLimit(8)
		for _, r := range results {
			r := r
			g.Go(func() error {
				ev := stats.Event{Kind: stats.KindImpression, Rank: r.Rank, At: now, SessionID: sessionID}
				if err := p.store.Record(gctx, r.ItemID, ev); err != nil {
					p.log.Warn().Err(fmt.Errorf("%w: %v", ErrStatsWrite, err)).
						Str("item_id", r.ItemID).Int("rank", r.Rank).
						Msg("impression record failed")
				}
				return nil
			})
		}
		_ = g.Wait()
	}()
}

// RecordFeedback writes one explicit feedback event (click, like, skip,
// play_complete) at the displayed rank.
func (p *Pipeline) RecordFeedback(ctx context.Context, itemID string, ev stats.Event) error {
	if strings.TrimSpace(itemID) == "" {
		return fmt.Errorf("%w: item id must not be empty", ErrInvalidInput)
	}
	if !ev.Kind.Valid() {
		return fmt.Errorf("%w: unknown event kind %q", ErrInvalidInput, ev.Kind)
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	if err := p.store.Record(ctx, itemID, ev); err != nil {
		return fmt.Errorf("%w: %v", ErrStatsWrite, err)
	}
	return nil
}

// Drain blocks until background impression recording has finished. Called
// on shutdown so detached writes are not lost.
func (p *Pipeline) Drain() {
	p.inflight.Wait()
}
