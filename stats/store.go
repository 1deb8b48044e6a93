// Package stats aggregates per-item feedback statistics for ranking.
//
// Counters are updated with inverse-propensity weights so that downstream
// popularity estimates are corrected for position bias. Writes are
// linearizable per item: concurrent Record calls for the same item produce
// the same final state as some serial order of those calls. There is no
// ordering guarantee across items.
package stats

import (
	"context"
	"time"
)

// Kind classifies a feedback event.
type Kind string

const (
	KindImpression   Kind = "impression"
	KindClick        Kind = "click"
	KindLike         Kind = "like"
	KindSkip         Kind = "skip"
	KindPlayComplete Kind = "play_complete"
)

// Valid reports whether k is a known event kind.
func (k Kind) Valid() bool {
	switch k {
	case KindImpression, KindClick, KindLike, KindSkip, KindPlayComplete:
		return true
	}
	return false
}

// Event is one feedback event for an item.
//
// Impressions and clicks are independent events: a click does NOT imply an
// impression, callers must send both. Rank is the 1-based display position
// the item was shown at.
type Event struct {
	Kind      Kind
	Rank      int
	At        time.Time
	SessionID string
}

// ItemStatistics is a consistent snapshot of one item's counters.
//
// Invariants: Impressions and Clicks only ever increase, and
// DebiasedImpressions >= DebiasedClicks >= 0.
type ItemStatistics struct {
	Impressions         uint64
	Clicks              uint64
	Likes               uint64
	DebiasedImpressions float64
	DebiasedClicks      float64
	LastEventAt         time.Time
}

// WeightFunc maps a 1-based display rank to its inverse-propensity weight.
// Implementations must return a finite value >= 1.
type WeightFunc func(rank int) float64

// Store is the statistics capability consumed by the scorer.
//
// Get and GetMany return zeroed statistics for items that have never seen an
// event; rows are created lazily on first Record. GetMany must be one read
// amplification unit, not N.
type Store interface {
	Record(ctx context.Context, itemID string, ev Event) error
	Get(ctx context.Context, itemID string) (ItemStatistics, error)
	GetMany(ctx context.Context, itemIDs []string) (map[string]ItemStatistics, error)

	// Delete removes an item's statistics atomically, for use when the item
	// itself is removed from the catalog.
	Delete(ctx context.Context, itemID string) error
}
