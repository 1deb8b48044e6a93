package stats

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	itemStatisticsTable = "item_statistics"
	interactionsTable   = "interactions"
)

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

// PostgresStore implements Store on top of rankkit-owned tables in the host
// application's schema.
//
// Record is a single atomic UPSERT: Postgres row-level locking makes
// concurrent increments for the same item linearizable without a
// read-modify-write loop in Go. When LogInteractions is set, each event is
// also appended to `<schema>.interactions` in the same transaction.
type PostgresStore struct {
	pool            *pgxpool.Pool
	schema          string
	weight          WeightFunc
	logInteractions bool
}

type PostgresOptions struct {
	// LogInteractions appends every event to the interactions table in the
	// same transaction as the counter update. Used by propensity calibration.
	LogInteractions bool
}

func NewPostgresStore(pool *pgxpool.Pool, schema string, weight WeightFunc, opts PostgresOptions) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if strings.TrimSpace(schema) == "" {
		return nil, fmt.Errorf("schema is required")
	}
	if weight == nil {
		return nil, fmt.Errorf("weight func is required")
	}
	return &PostgresStore{
		pool:            pool,
		schema:          schema,
		weight:          weight,
		logInteractions: opts.LogInteractions,
	}, nil
}

func (s *PostgresStore) table(name string) (string, error) {
	qs, err := quoteIdent(s.schema)
	if err != nil {
		return "", fmt.Errorf("invalid schema: %w", err)
	}
	return qs + "." + name, nil
}

func (s *PostgresStore) Record(ctx context.Context, itemID string, ev Event) error {
	if strings.TrimSpace(itemID) == "" {
		return fmt.Errorf("itemID is required")
	}
	if !ev.Kind.Valid() {
		return fmt.Errorf("unknown event kind %q", ev.Kind)
	}
	if ev.Rank < 1 {
		return fmt.Errorf("rank must be >= 1, got %d", ev.Rank)
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	var impInc, clickInc, likeInc int64
	var debImp, debClick float64
	w := s.weight(ev.Rank)
	switch ev.Kind {
	case KindImpression:
		impInc, debImp = 1, w
	case KindClick:
		clickInc, debClick = 1, w
	case KindLike:
		likeInc = 1
	}

	statsTable, err := s.table(itemStatisticsTable)
	if err != nil {
		return err
	}

	upsert := fmt.Sprintf(`
		INSERT INTO %s (
			item_id, impression_count, click_count, like_count,
			debiased_impressions, debiased_clicks, last_event_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (item_id) DO UPDATE SET
			impression_count = %s.impression_count + EXCLUDED.impression_count,
			click_count = %s.click_count + EXCLUDED.click_count,
			like_count = %s.like_count + EXCLUDED.like_count,
			debiased_impressions = %s.debiased_impressions + EXCLUDED.debiased_impressions,
			debiased_clicks = %s.debiased_clicks + EXCLUDED.debiased_clicks,
			last_event_at = GREATEST(%s.last_event_at, EXCLUDED.last_event_at),
			updated_at = now()
	`, statsTable, statsTable, statsTable, statsTable, statsTable, statsTable, statsTable)

	if !s.logInteractions {
		_, err := s.pool.Exec(ctx, upsert, itemID, impInc, clickInc, likeInc, debImp, debClick, at)
		return err
	}

	interactions, err := s.table(interactionsTable)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, upsert, itemID, impInc, clickInc, likeInc, debImp, debClick, at); err != nil {
		return err
	}
	logSQL := fmt.Sprintf(`
		INSERT INTO %s (id, item_id, action, position_shown, session_id, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)
	`, interactions)
	if _, err := tx.Exec(ctx, logSQL, uuid.New(), itemID, string(ev.Kind), ev.Rank, ev.SessionID, at); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) Get(ctx context.Context, itemID string) (ItemStatistics, error) {
	out, err := s.GetMany(ctx, []string{itemID})
	if err != nil {
		return ItemStatistics{}, err
	}
	return out[itemID], nil
}

// GetMany reads all requested rows in a single query. Missing rows come back
// zeroed so callers never distinguish cold items from absent ones.
func (s *PostgresStore) GetMany(ctx context.Context, itemIDs []string) (map[string]ItemStatistics, error) {
	out := make(map[string]ItemStatistics, len(itemIDs))
	for _, id := range itemIDs {
		out[id] = ItemStatistics{}
	}
	if len(itemIDs) == 0 {
		return out, nil
	}

	statsTable, err := s.table(itemStatisticsTable)
	if err != nil {
		return nil, err
	}

	q := fmt.Sprintf(`
		SELECT item_id, impression_count, click_count, like_count,
		       debiased_impressions, debiased_clicks, last_event_at
		FROM %s
		WHERE item_id = ANY($1::text[])
	`, statsTable)

	rows, err := s.pool.Query(ctx, q, itemIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var st ItemStatistics
		var lastEvent *time.Time
		if err := rows.Scan(&id, &st.Impressions, &st.Clicks, &st.Likes,
			&st.DebiasedImpressions, &st.DebiasedClicks, &lastEvent); err != nil {
			return nil, err
		}
		if lastEvent != nil {
			st.LastEventAt = *lastEvent
		}
		out[id] = st
	}
	return out, rows.Err()
}

// Delete removes the statistics row and its interaction log entries in one
// transaction, so an item and its statistics are destroyed together.
func (s *PostgresStore) Delete(ctx context.Context, itemID string) error {
	if strings.TrimSpace(itemID) == "" {
		return fmt.Errorf("itemID is required")
	}
	statsTable, err := s.table(itemStatisticsTable)
	if err != nil {
		return err
	}
	interactions, err := s.table(interactionsTable)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE item_id = $1", interactions), itemID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE item_id = $1", statsTable), itemID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

var _ Store = (*PostgresStore)(nil)

// GlobalStats summarizes engagement across the whole catalog.
type GlobalStats struct {
	TotalItems       int64
	TotalClicks      int64
	TotalImpressions int64
	MaxClicks        int64
	GlobalCTR        float64
}

// Global returns catalog-wide engagement totals, useful for dashboards and
// sanity checks on the feedback loop.
func (s *PostgresStore) Global(ctx context.Context) (GlobalStats, error) {
	statsTable, err := s.table(itemStatisticsTable)
	if err != nil {
		return GlobalStats{}, err
	}
	q := fmt.Sprintf(`
		SELECT
			COUNT(*),
			COALESCE(SUM(click_count), 0),
			COALESCE(SUM(impression_count), 0),
			COALESCE(MAX(click_count), 0)
		FROM %s
	`, statsTable)

	var g GlobalStats
	if err := s.pool.QueryRow(ctx, q).Scan(&g.TotalItems, &g.TotalClicks, &g.TotalImpressions, &g.MaxClicks); err != nil {
		return GlobalStats{}, err
	}
	if g.TotalImpressions > 0 {
		g.GlobalCTR = float64(g.TotalClicks) / float64(g.TotalImpressions)
	}
	return g, nil
}

// TopItem is one row of the engagement leaderboard.
type TopItem struct {
	ItemID      string
	Clicks      uint64
	Impressions uint64
	CTREstimate float64
}

// TopItems returns the most engaged items ordered by the given metric
// ("clicks", "impressions" or "ctr").
func (s *PostgresStore) TopItems(ctx context.Context, metric string, limit int) ([]TopItem, error) {
	if limit <= 0 {
		return nil, nil
	}
	statsTable, err := s.table(itemStatisticsTable)
	if err != nil {
		return nil, err
	}

	orderCol := "click_count"
	switch metric {
	case "", "clicks":
	case "impressions":
		orderCol = "impression_count"
	case "ctr":
		orderCol = "ctr_estimate"
	default:
		return nil, fmt.Errorf("unknown metric %q", metric)
	}

	q := fmt.Sprintf(`
		SELECT item_id, click_count, impression_count, COALESCE(ctr_estimate, 0)
		FROM %s
		ORDER BY %s DESC, item_id ASC
		LIMIT $1
	`, statsTable, orderCol)

	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TopItem
	for rows.Next() {
		var t TopItem
		if err := rows.Scan(&t.ItemID, &t.Clicks, &t.Impressions, &t.CTREstimate); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// RefreshEstimates recomputes the cached Bayesian CTR estimate and variance
// for every item with at least one impression. Intended to run periodically;
// the serving path never depends on these columns being fresh.
func (s *PostgresStore) RefreshEstimates(ctx context.Context, priorAlpha, priorBeta float64) (int64, error) {
	if priorAlpha <= 0 || priorBeta <= 0 {
		return 0, fmt.Errorf("priors must be positive")
	}
	statsTable, err := s.table(itemStatisticsTable)
	if err != nil {
		return 0, err
	}

	q := fmt.Sprintf(`
		UPDATE %s
		SET
			ctr_estimate = (debiased_clicks + $1) / (debiased_impressions + $1 + $2),
			ctr_variance = ((debiased_clicks + $1) * (debiased_impressions - debiased_clicks + $2)) /
			               (power(debiased_impressions + $1 + $2, 2) * (debiased_impressions + $1 + $2 + 1)),
			updated_at = now()
		WHERE impression_count > 0
	`, statsTable)

	tag, err := s.pool.Exec(ctx, q, priorAlpha, priorBeta)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// PositionCounts holds per-rank click and impression totals from the
// interaction log.
type PositionCounts struct {
	Clicks      int64
	Impressions int64
}

// PositionDistribution aggregates the interaction log by display rank over
// the trailing window, for propensity calibration. Requires LogInteractions.
func (s *PostgresStore) PositionDistribution(ctx context.Context, since time.Time, maxRank int) (map[int]PositionCounts, error) {
	if !s.logInteractions {
		return nil, fmt.Errorf("interaction logging is disabled")
	}
	if maxRank <= 0 {
		maxRank = 20
	}
	interactions, err := s.table(interactionsTable)
	if err != nil {
		return nil, err
	}

	q := fmt.Sprintf(`
		SELECT position_shown, action, COUNT(*)
		FROM %s
		WHERE created_at >= @since
		  AND position_shown BETWEEN 1 AND @max_rank
		  AND action IN ('impression', 'click')
		GROUP BY position_shown, action
	`, interactions)

	rows, err := s.pool.Query(ctx, q, pgx.NamedArgs{"since": since, "max_rank": maxRank})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int]PositionCounts, maxRank)
	for rows.Next() {
		var rank int
		var action string
		var count int64
		if err := rows.Scan(&rank, &action, &count); err != nil {
			return nil, err
		}
		pc := out[rank]
		switch action {
		case "click":
			pc.Clicks += count
		case "impression":
			pc.Impressions += count
		}
		out[rank] = pc
	}
	return out, rows.Err()
}
