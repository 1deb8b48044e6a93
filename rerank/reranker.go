// Package rerank scores query/document pairs with a cross-encoder and
// blends the neural score into the composite ranking signal.
package rerank

import (
	"context"
	"fmt"

	"github.com/doujins-org/rankkit/ranking"
)

// Document is one query/passage pair side for the cross-encoder.
type Document struct {
	ItemID string
	Text   string
}

// Reranker scores documents against a query. Scores are parallel to docs
// and must lie in [0, 1].
type Reranker interface {
	Model() string
	Rerank(ctx context.Context, query string, docs []Document) ([]float64, error)
}

// DefaultBlendLambda weights the neural score against the composite when
// blending.
const DefaultBlendLambda = 0.60

// Blend writes blended = lambda*neural + (1-lambda)*composite into each
// item. It rejects the whole batch when scores and items disagree in length
// or any score falls outside [0, 1]; callers degrade to composite order in
// that case.
func Blend(items []ranking.Scored, scores []float64, lambda float64) error {
	if lambda < 0 || lambda > 1 {
		return fmt.Errorf("blend lambda %v outside [0, 1]", lambda)
	}
	if len(scores) != len(items) {
		return fmt.Errorf("got %d rerank scores for %d items", len(scores), len(items))
	}
	for i, s := range scores {
		if s < 0 || s > 1 {
			return fmt.Errorf("rerank score %v for item %q outside [0, 1]", s, items[i].ItemID)
		}
	}
	for i := range items {
		neural := scores[i]
		items[i].Neural = &neural
		items[i].Blended = lambda*neural + (1-lambda)*items[i].Composite
	}
	return nil
}
