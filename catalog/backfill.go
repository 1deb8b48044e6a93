package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/doujins-org/rankkit/embedder"
	"github.com/doujins-org/rankkit/rerank"
	"github.com/doujins-org/rankkit/retrieve"
)

// BackfillOptions bounds one backfill run so large catalogs don't block
// startup; call RunBackfill periodically until it reports zero work.
type BackfillOptions struct {
	PageSize   int
	MaxItems   int
	MaxRuntime time.Duration
}

func (o *BackfillOptions) withDefaults() BackfillOptions {
	out := *o
	if out.PageSize <= 0 {
		out.PageSize = 200
	}
	if out.MaxItems <= 0 {
		out.MaxItems = 10_000
	}
	if out.MaxRuntime <= 0 {
		out.MaxRuntime = 30 * time.Second
	}
	return out
}

// RunBackfill embeds items whose embedding is NULL, in item_id keyset pages,
// and returns how many items were embedded. The embedding input is the same
// passage text the reranker sees, so retrieval and reranking stay aligned.
func RunBackfill(ctx context.Context, pool *pgxpool.Pool, schema string, emb embedder.Embedder, opts BackfillOptions) (int, error) {
	if pool == nil {
		return 0, fmt.Errorf("pool is required")
	}
	if emb == nil {
		return 0, fmt.Errorf("embedder is required")
	}
	store, err := NewStore(pool, schema)
	if err != nil {
		return 0, err
	}
	items, err := store.table("items")
	if err != nil {
		return 0, err
	}

	cfg := opts.withDefaults()
	start := time.Now()
	cursor := ""
	embedded := 0

	for embedded < cfg.MaxItems && time.Since(start) < cfg.MaxRuntime {
		q := fmt.Sprintf(`
			SELECT item_id, title, description, genre, mood, format, COALESCE(bpm, 0)
			FROM %s
			WHERE embedding IS NULL AND item_id > $1
			ORDER BY item_id
			LIMIT $2
		`, items)
		rows, err := pool.Query(ctx, q, cursor, cfg.PageSize)
		if err != nil {
			return embedded, fmt.Errorf("list unembedded items: %w", err)
		}

		var page []retrieve.Candidate
		for rows.Next() {
			var c retrieve.Candidate
			var title, description, genre, mood, format *string
			if err := rows.Scan(&c.ItemID, &title, &description, &genre, &mood, &format, &c.BPM); err != nil {
				rows.Close()
				return embedded, fmt.Errorf("scan item: %w", err)
			}
			for dst, src := range map[*string]*string{
				&c.Title: title, &c.Description: description,
				&c.Genre: genre, &c.Mood: mood, &c.Format: format,
			} {
				if src != nil {
					*dst = *src
				}
			}
			page = append(page, c)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return embedded, fmt.Errorf("list unembedded items: %w", err)
		}
		if len(page) == 0 {
			return embedded, nil
		}

		texts := make([]string, len(page))
		for i, c := range page {
			text := rerank.Passage(c, 0)
			if strings.TrimSpace(text) == "" {
				text = c.ItemID
			}
			texts[i] = text
		}
		vecs, err := emb.EmbedTexts(ctx, texts)
		if err != nil {
			return embedded, fmt.Errorf("embed page: %w", err)
		}
		if len(vecs) != len(page) {
			return embedded, fmt.Errorf("expected %d embeddings, got %d", len(page), len(vecs))
		}

		for i, c := range page {
			if err := store.UpsertEmbedding(ctx, c.ItemID, vecs[i]); err != nil {
				return embedded, fmt.Errorf("store embedding for %s: %w", c.ItemID, err)
			}
			embedded++
			if embedded >= cfg.MaxItems {
				break
			}
		}
		cursor = page[len(page)-1].ItemID
	}
	return embedded, nil
}
