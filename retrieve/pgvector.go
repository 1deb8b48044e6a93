package retrieve

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

const itemsTable = "items"

func quoteIdent(ident string) (string, error) {
	ident = strings.TrimSpace(ident)
	if ident == "" {
		return "", fmt.Errorf("empty identifier")
	}
	for _, r := range ident {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			continue
		}
		return "", fmt.Errorf("invalid identifier %q", ident)
	}
	return `"` + ident + `"`, nil
}

func halfvecType(dim int) string {
	return fmt.Sprintf("halfvec(%d)", dim)
}

// PGOptions tunes the Postgres retriever.
type PGOptions struct {
	// TwoStage enables binary-quantize oversampling followed by exact
	// halfvec cosine rescoring.
	TwoStage bool

	// OversampleFactor controls stage-1 fanout vs the final k when
	// TwoStage is set. Defaults to 5.
	OversampleFactor int
}

// PGRetriever runs cosine KNN over the `<schema>.items` table via pgvector.
// HNSW index construction and maintenance belong to the database; this type
// only issues queries.
type PGRetriever struct {
	pool   *pgxpool.Pool
	schema string
	dim    int
	opts   PGOptions
}

func NewPGRetriever(pool *pgxpool.Pool, schema string, dim int, opts PGOptions) (*PGRetriever, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if strings.TrimSpace(schema) == "" {
		return nil, fmt.Errorf("schema is required")
	}
	if dim <= 0 {
		return nil, fmt.Errorf("embedding dimension is required")
	}
	if opts.OversampleFactor <= 1 {
		opts.OversampleFactor = 5
	}
	return &PGRetriever{pool: pool, schema: schema, dim: dim, opts: opts}, nil
}

func (r *PGRetriever) Retrieve(ctx context.Context, queryVec []float32, k int, f Filters) ([]Candidate, error) {
	if k <= 0 || len(queryVec) == 0 {
		return []Candidate{}, nil
	}
	if len(queryVec) != r.dim {
		return nil, fmt.Errorf("query vector has %d dimensions, expected %d", len(queryVec), r.dim)
	}

	quotedSchema, err := quoteIdent(r.schema)
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	table := quotedSchema + "." + itemsTable
	half := halfvecType(r.dim)
	vec := pgvector.NewHalfVector(queryVec)

	where := "WHERE embedding IS NOT NULL"
	var args []any
	argN := 1
	addFilter := func(cond string, v any) {
		where += fmt.Sprintf(" AND "+cond, argN)
		args = append(args, v)
		argN++
	}
	if f.Genre != "" {
		addFilter("genre = $%d", f.Genre)
	}
	if f.Mood != "" {
		addFilter("mood = $%d", f.Mood)
	}
	if f.Format != "" {
		addFilter("format = $%d", f.Format)
	}
	if f.BPMMin > 0 {
		addFilter("bpm >= $%d", f.BPMMin)
	}
	if f.BPMMax > 0 {
		addFilter("bpm <= $%d", f.BPMMax)
	}

	const cols = `item_id, title, audio_url, description, genre, mood, format, bpm, created_at, embedding`

	var sql string
	if !r.opts.TwoStage {
		sql = fmt.Sprintf(`
			SELECT
				%s,
				(embedding::%s <=> ($%d::%s))::float4 AS distance
			FROM %s
			%s
			ORDER BY embedding::%s <=> ($%d::%s)
			LIMIT $%d
		`, cols, half, argN, half, table, where, half, argN, half, argN+1)
		args = append(args, vec, k)
	} else {
		oversample := k * r.opts.OversampleFactor
		// Stage 1 pulls approximate candidates by Hamming distance over
		// binary quantization; stage 2 rescores by exact cosine distance.
		sql = fmt.Sprintf(`
			WITH candidates AS (
				SELECT %s
				FROM %s
				%s
				ORDER BY (binary_quantize(embedding::%s)::bit(%d)) <~> (binary_quantize($%d::%s)::bit(%d))
				LIMIT $%d
			)
			SELECT
				%s,
				(embedding::%s <=> ($%d::%s))::float4 AS distance
			FROM candidates
			ORDER BY embedding::%s <=> ($%d::%s)
			LIMIT $%d
		`, cols, table, where, half, r.dim, argN, half, r.dim, argN+1,
			cols, half, argN+2, half, half, argN+2, half, argN+3)
		args = append(args, vec, oversample, vec, k)
	}

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		var title, genre, mood, format, description, audioURL *string
		var bpm *int
		var createdAt *time.Time
		var emb pgvector.HalfVector
		if err := rows.Scan(&c.ItemID, &title, &audioURL, &description, &genre, &mood,
			&format, &bpm, &createdAt, &emb, &c.Distance); err != nil {
			return nil, err
		}
		if title != nil {
			c.Title = *title
		}
		if audioURL != nil {
			c.AudioURL = *audioURL
		}
		if description != nil {
			c.Description = *description
		}
		if genre != nil {
			c.Genre = *genre
		}
		if mood != nil {
			c.Mood = *mood
		}
		if format != nil {
			c.Format = *format
		}
		if bpm != nil {
			c.BPM = *bpm
		}
		c.CreatedAt = createdAt
		c.Embedding = emb.Slice()
		out = append(out, c)
	}
	return out, rows.Err()
}

var _ Retriever = (*PGRetriever)(nil)
