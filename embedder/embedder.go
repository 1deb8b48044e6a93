// Package embedder turns search queries and catalog passages into the
// unit-length vectors the retriever indexes against.
package embedder

import "context"

// Embedder produces L2-normalized embeddings. EmbedText serves the query
// path; EmbedTexts batches catalog passages for backfill.
type Embedder interface {
	Model() string
	Dimensions() int
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}
