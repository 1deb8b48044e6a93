package stats

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
)

const defaultShards = 64

// MemoryStore is an in-process sharded implementation of Store.
//
// Each item row lives in exactly one shard; Record takes that shard's lock
// for the whole read-modify-write, which gives linearizability per item
// without a global lock.
type MemoryStore struct {
	weight WeightFunc
	shards []memoryShard
}

type memoryShard struct {
	mu   sync.RWMutex
	rows map[string]*ItemStatistics
}

// NewMemoryStore creates a MemoryStore using weight for IPW debiasing. A
// nil weight counts every event at weight 1 (no debiasing).
func NewMemoryStore(weight WeightFunc) *MemoryStore {
	if weight == nil {
		weight = func(int) float64 { return 1 }
	}
	s := &MemoryStore{
		weight: weight,
		shards: make([]memoryShard, defaultShards),
	}
	for i := range s.shards {
		s.shards[i].rows = map[string]*ItemStatistics{}
	}
	return s
}

func (s *MemoryStore) shard(itemID string) *memoryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(itemID))
	return &s.shards[h.Sum32()%uint32(len(s.shards))]
}

func (s *MemoryStore) Record(ctx context.Context, itemID string, ev Event) error {
	if itemID == "" {
		return fmt.Errorf("itemID is required")
	}
	if !ev.Kind.Valid() {
		return fmt.Errorf("unknown event kind %q", ev.Kind)
	}
	if ev.Rank < 1 {
		return fmt.Errorf("rank must be >= 1, got %d", ev.Rank)
	}

	sh := s.shard(itemID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	row, ok := sh.rows[itemID]
	if !ok {
		row = &ItemStatistics{}
		sh.rows[itemID] = row
	}
	apply(row, ev, s.weight)
	return nil
}

// apply folds one event into a row. Shared with the Postgres store's SQL,
// which mirrors the same increments.
func apply(row *ItemStatistics, ev Event, weight WeightFunc) {
	w := weight(ev.Rank)
	switch ev.Kind {
	case KindImpression:
		row.Impressions++
		row.DebiasedImpressions += w
	case KindClick:
		row.Clicks++
		row.DebiasedClicks += w
	case KindLike:
		row.Likes++
	}
	// Skip and play_complete events are logged only; they do not move the
	// debiased counters.
	if ev.At.After(row.LastEventAt) {
		row.LastEventAt = ev.At
	}
}

func (s *MemoryStore) Get(ctx context.Context, itemID string) (ItemStatistics, error) {
	sh := s.shard(itemID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	if row, ok := sh.rows[itemID]; ok {
		return *row, nil
	}
	return ItemStatistics{}, nil
}

func (s *MemoryStore) GetMany(ctx context.Context, itemIDs []string) (map[string]ItemStatistics, error) {
	out := make(map[string]ItemStatistics, len(itemIDs))
	for _, id := range itemIDs {
		sh := s.shard(id)
		sh.mu.RLock()
		if row, ok := sh.rows[id]; ok {
			out[id] = *row
		} else {
			out[id] = ItemStatistics{}
		}
		sh.mu.RUnlock()
	}
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, itemID string) error {
	sh := s.shard(itemID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.rows, itemID)
	return nil
}

var _ Store = (*MemoryStore)(nil)
