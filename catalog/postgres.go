// Package catalog manages the items table the retrieval stage reads from:
// upserting items with their embeddings and removing items together with
// their accumulated statistics.
package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

// Item is one catalog row. CreatedAt zero means "now" on insert.
type Item struct {
	ItemID      string
	Title       string
	AudioURL    string
	Description string
	Genre       string
	Mood        string
	Format      string
	BPM         int
	CreatedAt   time.Time
}

// Store writes the items table in the host application's schema.
type Store struct {
	pool   *pgxpool.Pool
	schema string
}

func NewStore(pool *pgxpool.Pool, schema string) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if strings.TrimSpace(schema) == "" {
		return nil, fmt.Errorf("schema is required")
	}
	return &Store{pool: pool, schema: schema}, nil
}

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

func (s *Store) table(name string) (string, error) {
	qs, err := quoteIdent(s.schema)
	if err != nil {
		return "", fmt.Errorf("invalid schema: %w", err)
	}
	return qs + "." + name, nil
}

// Upsert writes one item. A nil embedding leaves any stored embedding in
// place, so metadata updates don't wipe vectors pending backfill.
func (s *Store) Upsert(ctx context.Context, item Item, embedding []float32) error {
	if strings.TrimSpace(item.ItemID) == "" {
		return fmt.Errorf("item id is required")
	}
	items, err := s.table("items")
	if err != nil {
		return err
	}

	createdAt := item.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	var emb any
	if len(embedding) > 0 {
		emb = pgvector.NewHalfVector(embedding)
	}

	q := fmt.Sprintf(`
		INSERT INTO %s (item_id, title, audio_url, description, genre, mood, format, bpm, created_at, updated_at, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), $10)
		ON CONFLICT (item_id) DO UPDATE SET
			title = EXCLUDED.title,
			audio_url = EXCLUDED.audio_url,
			description = EXCLUDED.description,
			genre = EXCLUDED.genre,
			mood = EXCLUDED.mood,
			format = EXCLUDED.format,
			bpm = EXCLUDED.bpm,
			updated_at = now(),
			embedding = COALESCE(EXCLUDED.embedding, %s.embedding)
	`, items, items)

	_, err = s.pool.Exec(ctx, q,
		item.ItemID, item.Title, item.AudioURL, item.Description,
		item.Genre, item.Mood, item.Format, item.BPM, createdAt, emb)
	return err
}

// UpsertEmbedding replaces just the stored vector, the backfill path.
func (s *Store) UpsertEmbedding(ctx context.Context, itemID string, embedding []float32) error {
	if strings.TrimSpace(itemID) == "" {
		return fmt.Errorf("item id is required")
	}
	if len(embedding) == 0 {
		return fmt.Errorf("embedding is empty")
	}
	items, err := s.table("items")
	if err != nil {
		return err
	}
	q := fmt.Sprintf(`UPDATE %s SET embedding = $2, updated_at = now() WHERE item_id = $1`, items)
	tag, err := s.pool.Exec(ctx, q, itemID, pgvector.NewHalfVector(embedding))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("item %q not found", itemID)
	}
	return nil
}

// Delete removes an item and its statistics and interaction rows in one
// transaction, so rankings never read counters for a vanished item.
func (s *Store) Delete(ctx context.Context, itemID string) error {
	if strings.TrimSpace(itemID) == "" {
		return fmt.Errorf("item id is required")
	}
	items, err := s.table("items")
	if err != nil {
		return err
	}
	statistics, err := s.table("item_statistics")
	if err != nil {
		return err
	}
	interactions, err := s.table("interactions")
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, table := range []string{interactions, statistics, items} {
		if _, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE item_id = $1", table), itemID); err != nil {
			return fmt.Errorf("delete from %s: %w", table, err)
		}
	}
	return tx.Commit(ctx)
}
