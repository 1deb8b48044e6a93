package rerank

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// HTTPConfig configures a cross-encoder served over HTTP (TEI or
// Jina-compatible /rerank endpoints).
type HTTPConfig struct {
	BaseURL    string
	APIKey     string        // optional bearer token
	Model      string        // optional; sent when the endpoint multiplexes models
	Timeout    time.Duration // per-attempt; 0 means 30s
	MaxRetries int           // retries after the first attempt; 0 means 2
}

// HTTPReranker calls a remote cross-encoder. Retries 429/408/5xx with
// exponential backoff; all other failures surface immediately.
type HTTPReranker struct {
	client     *http.Client
	url        string
	apiKey     string
	model      string
	maxRetries int
}

func NewHTTP(cfg HTTPConfig) (*HTTPReranker, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 2
	}
	return &HTTPReranker{
		client:     &http.Client{Timeout: timeout},
		url:        strings.TrimRight(cfg.BaseURL, "/") + "/rerank",
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		maxRetries: retries,
	}, nil
}

func (r *HTTPReranker) Model() string { return r.model }

type rerankRequest struct {
	Query    string   `json:"query"`
	Texts    []string `json:"texts"`
	Model    string   `json:"model,omitempty"`
	Truncate bool     `json:"truncate"`
}

// TEI answers a bare array, Jina wraps it in a results object. Both carry
// the original index so responses may arrive sorted by score.
type rerankResult struct {
	Index          int      `json:"index"`
	Score          *float64 `json:"score"`
	RelevanceScore *float64 `json:"relevance_score"`
}

type rerankEnvelope struct {
	Results []rerankResult `json:"results"`
}

func (r *HTTPReranker) Rerank(ctx context.Context, query string, docs []Document) ([]float64, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}
	body, err := json.Marshal(rerankRequest{Query: query, Texts: texts, Model: r.model, Truncate: true})
	if err != nil {
		return nil, fmt.Errorf("encode rerank request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, expBackoff(500*time.Millisecond, attempt, 10*time.Second)); err != nil {
				return nil, err
			}
		}
		scores, retryable, err := r.once(ctx, body, len(docs))
		if err == nil {
			return scores, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
	}
	return nil, lastErr
}

func (r *HTTPReranker) once(ctx context.Context, body []byte, n int) (scores []float64, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		// Transport errors (timeouts, resets) are worth one more try.
		return nil, true, fmt.Errorf("rerank request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("rerank endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
		return nil, retryableStatus(resp.StatusCode), err
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("read rerank response: %w", err)
	}
	results, err := decodeResults(raw)
	if err != nil {
		return nil, false, err
	}
	return assembleScores(results, n)
}

func decodeResults(raw []byte) ([]rerankResult, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var results []rerankResult
		if err := json.Unmarshal(trimmed, &results); err != nil {
			return nil, fmt.Errorf("decode rerank response: %w", err)
		}
		return results, nil
	}
	var env rerankEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}
	return env.Results, nil
}

func assembleScores(results []rerankResult, n int) ([]float64, bool, error) {
	scores := make([]float64, n)
	seen := make([]bool, n)
	for _, res := range results {
		if res.Index < 0 || res.Index >= n {
			return nil, false, fmt.Errorf("rerank result index %d out of range [0, %d)", res.Index, n)
		}
		score := res.Score
		if score == nil {
			score = res.RelevanceScore
		}
		if score == nil {
			return nil, false, fmt.Errorf("rerank result %d carries no score", res.Index)
		}
		scores[res.Index] = *score
		seen[res.Index] = true
	}
	for i, ok := range seen {
		if !ok {
			return nil, false, fmt.Errorf("rerank response missing score for document %d", i)
		}
	}
	return scores, false, nil
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusRequestTimeout ||
		(code >= 500 && code <= 599)
}

func expBackoff(base time.Duration, attempt int, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	if d > max {
		return max
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
