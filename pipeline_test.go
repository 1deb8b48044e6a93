package rankkit

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doujins-org/rankkit/rerank"
	"github.com/doujins-org/rankkit/retrieve"
	"github.com/doujins-org/rankkit/stats"
)

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Model() string   { return "fake" }
func (f *fakeEmbedder) Dimensions() int { return len(f.vec) }
func (f *fakeEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return f.vec, f.err
}
func (f *fakeEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, f.err
}

type fakeRetriever struct {
	candidates []retrieve.Candidate
	err        error
	gotK       int
}

func (f *fakeRetriever) Retrieve(ctx context.Context, vec []float32, k int, filters retrieve.Filters) ([]retrieve.Candidate, error) {
	f.gotK = k
	return f.candidates, f.err
}

type failingStore struct {
	stats.Store
}

func (failingStore) GetMany(ctx context.Context, ids []string) (map[string]stats.ItemStatistics, error) {
	return nil, errors.New("connection refused")
}

type fakeReranker struct {
	scores func(docs []rerank.Document) []float64
	err    error
}

func (f *fakeReranker) Model() string { return "fake-reranker" }
func (f *fakeReranker) Rerank(ctx context.Context, query string, docs []rerank.Document) ([]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.scores(docs), nil
}

func catalogCandidates(n int) []retrieve.Candidate {
	out := make([]retrieve.Candidate, n)
	created := time.Now().Add(-30 * 24 * time.Hour)
	for i := range out {
		out[i] = retrieve.Candidate{
			ItemID:    fmt.Sprintf("trk_%03d", i+1),
			Distance:  float32(i) * 0.01,
			Genre:     []string{"pop", "folk", "jazz"}[i%3],
			Title:     fmt.Sprintf("Track %d", i+1),
			CreatedAt: &created,
		}
	}
	return out
}

func testPipeline(t *testing.T, mutate func(*Config, *Options)) (*Pipeline, *fakeRetriever) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.RerankEnabled = false
	retriever := &fakeRetriever{candidates: catalogCandidates(60)}
	opts := Options{
		Embedder:                   &fakeEmbedder{vec: []float32{1, 0, 0}},
		Retriever:                  retriever,
		Store:                      stats.NewMemoryStore(nil),
		DisableImpressionRecording: true,
	}
	if mutate != nil {
		mutate(&cfg, &opts)
	}
	p, err := NewPipeline(cfg, opts)
	require.NoError(t, err)
	return p, retriever
}

func TestPipeline_EndToEnd(t *testing.T) {
	p, retriever := testPipeline(t, nil)

	resp, err := p.Search(context.Background(), Request{Query: "late night synths", IncludeScores: true})
	require.NoError(t, err)
	require.Len(t, resp.Results, 20)
	assert.Equal(t, 500, retriever.gotK)
	assert.True(t, resp.RerankSkipped, "rerank disabled must flag the response")
	assert.False(t, resp.StatsDegraded)

	seen := map[string]bool{}
	for i, r := range resp.Results {
		assert.Equal(t, i+1, r.Rank)
		assert.False(t, seen[r.ItemID], "duplicate item %s", r.ItemID)
		seen[r.ItemID] = true
		require.NotNil(t, r.Score)
		assert.GreaterOrEqual(t, r.Score.Composite, 0.0)
		assert.LessOrEqual(t, r.Score.Composite, 1.0)
	}
	assert.GreaterOrEqual(t, resp.Timings.Total, time.Duration(0))
}

func TestPipeline_ScoresOmittedByDefault(t *testing.T) {
	p, _ := testPipeline(t, nil)

	resp, err := p.Search(context.Background(), Request{Query: "q"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	for _, r := range resp.Results {
		assert.Nil(t, r.Score)
	}

	// The lean wire shape is item_id and rank plus catalog metadata, with no
	// score object at all.
	raw, err := json.Marshal(resp.Results[0])
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Contains(t, fields, "item_id")
	assert.Contains(t, fields, "rank")
	assert.NotContains(t, fields, "score")
}

func TestStageTimings_MarshalsMilliseconds(t *testing.T) {
	timings := StageTimings{
		Retrieve: 12*time.Millisecond + 500*time.Microsecond,
		Score:    3 * time.Millisecond,
		Total:    20 * time.Millisecond,
	}
	raw, err := json.Marshal(timings)
	require.NoError(t, err)

	var fields map[string]float64
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.InDelta(t, 12.5, fields["retrieval_ms"], 1e-9)
	assert.InDelta(t, 3.0, fields["ranking_ms"], 1e-9)
	assert.InDelta(t, 20.0, fields["total_ms"], 1e-9)
	for _, key := range []string{"embed_ms", "stats_ms", "rerank_ms", "diversity_ms"} {
		assert.Contains(t, fields, key)
	}
}

func TestPipeline_InvalidInput(t *testing.T) {
	p, _ := testPipeline(t, nil)
	_, err := p.Search(context.Background(), Request{Query: "   "})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestPipeline_RetrievalFailureIsFatal(t *testing.T) {
	p, retriever := testPipeline(t, nil)
	retriever.err = errors.New("index offline")

	_, err := p.Search(context.Background(), Request{Query: "q"})
	require.ErrorIs(t, err, ErrRetrievalFailed)
}

func TestPipeline_EmbedFailureIsFatal(t *testing.T) {
	p, _ := testPipeline(t, func(cfg *Config, opts *Options) {
		opts.Embedder = &fakeEmbedder{err: errors.New("provider 500")}
	})
	_, err := p.Search(context.Background(), Request{Query: "q"})
	require.ErrorIs(t, err, ErrRetrievalFailed)
}

func TestPipeline_EmptyCatalog(t *testing.T) {
	p, retriever := testPipeline(t, nil)
	retriever.candidates = nil

	resp, err := p.Search(context.Background(), Request{Query: "q"})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestPipeline_StatsOutageDegradesToColdStart(t *testing.T) {
	p, _ := testPipeline(t, func(cfg *Config, opts *Options) {
		opts.Store = failingStore{Store: stats.NewMemoryStore(nil)}
	})

	resp, err := p.Search(context.Background(), Request{Query: "q", IncludeScores: true})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.True(t, resp.StatsDegraded)

	// Cold prior: every popularity estimate sits at a0/(a0+b0) = 0.1.
	for _, r := range resp.Results {
		assert.InDelta(t, 0.1, r.Score.Popularity, 1e-9)
	}
}

func TestPipeline_RerankBlendReorders(t *testing.T) {
	p, _ := testPipeline(t, func(cfg *Config, opts *Options) {
		cfg.RerankEnabled = true
		opts.Reranker = &fakeReranker{scores: func(docs []rerank.Document) []float64 {
			// Strongly prefer the composite tail so the blend must reorder.
			out := make([]float64, len(docs))
			for i := range docs {
				if docs[i].ItemID == "trk_050" {
					out[i] = 1.0
				}
			}
			return out
		}}
	})

	resp, err := p.Search(context.Background(), Request{Query: "q", IncludeScores: true})
	require.NoError(t, err)
	assert.False(t, resp.RerankSkipped)

	found := false
	for _, r := range resp.Results[:5] {
		if r.ItemID == "trk_050" {
			found = true
			require.NotNil(t, r.Score)
			require.NotNil(t, r.Score.Neural)
			assert.Equal(t, 1.0, *r.Score.Neural)
			// blended = 0.6*neural + 0.4*composite
			assert.InDelta(t, 0.6+0.4*r.Score.Composite, r.Score.Blended, 1e-9)
		}
	}
	assert.True(t, found, "neurally boosted item must reach the top")
}

func TestPipeline_RerankFailureKeepsCompositeOrder(t *testing.T) {
	build := func(rr rerank.Reranker) (*Pipeline, *Response) {
		p, _ := testPipeline(t, func(cfg *Config, opts *Options) {
			cfg.RerankEnabled = true
			opts.Reranker = rr
		})
		resp, err := p.Search(context.Background(), Request{Query: "q"})
		require.NoError(t, err)
		return p, resp
	}

	_, degraded := build(&fakeReranker{err: errors.New("cross-encoder timeout")})
	assert.True(t, degraded.RerankSkipped)

	_, baseline := build(nil)
	require.Len(t, degraded.Results, len(baseline.Results))
	for i := range baseline.Results {
		assert.Equal(t, baseline.Results[i].ItemID, degraded.Results[i].ItemID,
			"degraded run must match the no-rerank ordering at rank %d", i+1)
	}
}

func TestPipeline_RerankBadScoresDegrade(t *testing.T) {
	p, _ := testPipeline(t, func(cfg *Config, opts *Options) {
		cfg.RerankEnabled = true
		opts.Reranker = &fakeReranker{scores: func(docs []rerank.Document) []float64 {
			out := make([]float64, len(docs))
			out[0] = 1.7 // out of range
			return out
		}}
	})
	resp, err := p.Search(context.Background(), Request{Query: "q"})
	require.NoError(t, err)
	assert.True(t, resp.RerankSkipped)
}

func TestPipeline_RecordsImpressionsAtDisplayRanks(t *testing.T) {
	store := stats.NewMemoryStore(func(rank int) float64 { return float64(rank) })
	p, _ := testPipeline(t, func(cfg *Config, opts *Options) {
		cfg.ResultN = 5
		opts.Store = store
		opts.DisableImpressionRecording = false
	})

	resp, err := p.Search(context.Background(), Request{Query: "q", SessionID: "sess-1"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 5)
	p.Drain()

	for _, r := range resp.Results {
		st, err := store.Get(context.Background(), r.ItemID)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), st.Impressions)
		// Weight function is the rank itself, so the debiased impression
		// proves the display rank was recorded.
		assert.InDelta(t, float64(r.Rank), st.DebiasedImpressions, 1e-9)
	}
}

func TestPipeline_CancellationReturnsBestEffort(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rr := &fakeReranker{scores: func(docs []rerank.Document) []float64 {
		t.Fatal("reranker must not run after cancellation")
		return nil
	}}
	retriever := &cancellingRetriever{cancel: cancel, candidates: catalogCandidates(30)}
	p, _ := testPipeline(t, func(cfg *Config, opts *Options) {
		cfg.RerankEnabled = true
		opts.Retriever = retriever
		opts.Reranker = rr
	})

	resp, err := p.Search(ctx, Request{Query: "q"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results, "completed retrieval must still produce results")
	assert.True(t, resp.RerankSkipped)
	assert.True(t, resp.StatsDegraded)
}

type cancellingRetriever struct {
	cancel     context.CancelFunc
	candidates []retrieve.Candidate
}

func (c *cancellingRetriever) Retrieve(ctx context.Context, vec []float32, k int, f retrieve.Filters) ([]retrieve.Candidate, error) {
	c.cancel()
	return c.candidates, nil
}

func TestPipeline_LimitOverride(t *testing.T) {
	p, _ := testPipeline(t, nil)

	resp, err := p.Search(context.Background(), Request{Query: "q", Limit: 3})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 3)

	// Overrides cap at the rerank depth.
	resp, err = p.Search(context.Background(), Request{Query: "q", Limit: 10_000})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 50)
}

func TestPipeline_RecordFeedback(t *testing.T) {
	store := stats.NewMemoryStore(nil)
	p, _ := testPipeline(t, func(cfg *Config, opts *Options) {
		opts.Store = store
	})

	err := p.RecordFeedback(context.Background(), "trk_001", stats.Event{Kind: stats.KindClick, Rank: 2})
	require.NoError(t, err)

	st, err := store.Get(context.Background(), "trk_001")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), st.Clicks)

	require.ErrorIs(t, p.RecordFeedback(context.Background(), "", stats.Event{Kind: stats.KindClick, Rank: 1}), ErrInvalidInput)
	require.ErrorIs(t, p.RecordFeedback(context.Background(), "trk_001", stats.Event{Kind: "hover", Rank: 1}), ErrInvalidInput)
}

func TestNewPipeline_Validation(t *testing.T) {
	cfg := DefaultConfig()
	_, err := NewPipeline(cfg, Options{})
	require.ErrorIs(t, err, ErrConfigInvalid)

	cfg.RetrieveK = 10 // below rerank_k
	_, err = NewPipeline(cfg, Options{
		Embedder:  &fakeEmbedder{vec: []float32{1}},
		Retriever: &fakeRetriever{},
		Store:     stats.NewMemoryStore(nil),
	})
	require.ErrorIs(t, err, ErrConfigInvalid)
}
