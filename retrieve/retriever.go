// Package retrieve defines the candidate retrieval contract and a
// pgvector-backed implementation.
package retrieve

import (
	"context"
	"time"
)

// Filters narrows retrieval by catalog attributes. Zero values mean "no
// filter". BPM bounds are inclusive.
type Filters struct {
	Genre  string
	Mood   string
	Format string
	BPMMin int
	BPMMax int
}

// Candidate is a retrieved item paired with its retrieval distance and the
// attributes the ranking stages need.
type Candidate struct {
	ItemID string

	// Distance is the cosine distance to the query embedding, in [0, 2].
	Distance float32

	// Embedding is the stored item embedding, reused for MMR redundancy.
	Embedding []float32

	Genre       string
	Mood        string
	Format      string
	BPM         int
	Title       string
	AudioURL    string
	Description string
	CreatedAt   *time.Time
}

// Semantic maps the cosine distance to a similarity in [0, 1].
//
// The retriever contract fixes the convention: Distance is pgvector's cosine
// distance (1 - cos) in [0, 2], so similarity = 1 - distance/2. This keeps
// the semantic signal bounded by construction even for opposed vectors.
func (c Candidate) Semantic() float64 {
	s := 1.0 - float64(c.Distance)/2.0
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// Retriever produces at most k candidates sorted by ascending cosine
// distance. The ranking core treats it as an opaque capability; index
// internals (HNSW parameters, quantization) live behind it.
type Retriever interface {
	Retrieve(ctx context.Context, queryVec []float32, k int, f Filters) ([]Candidate, error)
}
