package memory

import (
	"context"
	"sync"

	"compute-perps-indexer/internal/domain"
	"compute-perps-indexer/internal/storage"
)

// SnapshotStore is an in-memory implementation of storage.SnapshotStore.
type SnapshotStore struct {
	mu   sync.RWMutex
	data []*domain.PriceSnapshot
}

// NewSnapshotStore creates a new in-memory snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{}
}

// Compile-time interface check.
var _ storage.SnapshotStore = (*SnapshotStore)(nil)

// Insert adds a new price snapshot.
func (s *SnapshotStore) Insert(_ context.Context, snap *domain.PriceSnapshot) error {
	if snap == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *snap
	s.data = append(s.data, &cp)
	return nil
}

// Latest retrieves the most recent snapshot for a market.
func (s *SnapshotStore) Latest(_ context.Context, marketID string) (*domain.PriceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Insertion order breaks timestamp ties, latest insert wins.
	var best *domain.PriceSnapshot
	for _, snap := range s.data {
		if snap.MarketID != marketID {
			continue
		}
		if best == nil || snap.Timestamp >= best.Timestamp {
			best = snap
		}
	}
	if best == nil {
		return nil, storage.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

// LatestAtOrBefore retrieves the most recent snapshot with timestamp <= tsMs.
func (s *SnapshotStore) LatestAtOrBefore(_ context.Context, marketID string, tsMs int64) (*domain.PriceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *domain.PriceSnapshot
	for _, snap := range s.data {
		if snap.MarketID != marketID || snap.Timestamp > tsMs {
			continue
		}
		if best == nil || snap.Timestamp >= best.Timestamp {
			best = snap
		}
	}
	if best == nil {
		return nil, storage.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

// Count returns the number of stored snapshots. Test helper.
func (s *SnapshotStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
