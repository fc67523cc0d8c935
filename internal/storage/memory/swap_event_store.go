// Package memory provides in-memory store implementations mirroring
// the PostgreSQL semantics. Used in tests and for dry runs.
package memory

import (
	"context"
	"sort"
	"sync"

	"compute-perps-indexer/internal/domain"
	"compute-perps-indexer/internal/storage"
)

// swapEventKey is the natural key for swap event deduplication.
type swapEventKey struct {
	MarketID    string
	TxHash      string
	BlockNumber int64
	LogIndex    int
}

// SwapEventStore is an in-memory implementation of storage.SwapEventStore.
type SwapEventStore struct {
	mu   sync.RWMutex
	data []*domain.SwapEvent
	keys map[swapEventKey]bool
}

// NewSwapEventStore creates a new in-memory swap event store.
func NewSwapEventStore() *SwapEventStore {
	return &SwapEventStore{
		keys: make(map[swapEventKey]bool),
	}
}

// Compile-time interface check.
var _ storage.SwapEventStore = (*SwapEventStore)(nil)

// Insert adds a new swap event. Returns ErrDuplicateKey if the natural
// key exists.
func (s *SwapEventStore) Insert(_ context.Context, e *domain.SwapEvent) error {
	if e == nil {
		return storage.ErrInvalidInput
	}

	key := swapEventKey{
		MarketID:    e.MarketID,
		TxHash:      e.TxHash,
		BlockNumber: e.BlockNumber,
		LogIndex:    e.LogIndex,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.keys[key] {
		return storage.ErrDuplicateKey
	}

	cp := *e
	s.data = append(s.data, &cp)
	s.keys[key] = true

	return nil
}

// LastIndexedBlock returns the highest stored block for a market.
func (s *SwapEventStore) LastIndexedBlock(_ context.Context, marketID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var max int64
	found := false
	for _, e := range s.data {
		if e.MarketID != marketID {
			continue
		}
		if !found || e.BlockNumber > max {
			max = e.BlockNumber
			found = true
		}
	}
	if !found {
		return 0, storage.ErrNotFound
	}
	return max, nil
}

// GetByMarketSince retrieves events for a market with timestamp >= sinceMs,
// ordered by (block_number, log_index).
func (s *SwapEventStore) GetByMarketSince(_ context.Context, marketID string, sinceMs int64) ([]*domain.SwapEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.SwapEvent
	for _, e := range s.data {
		if e.MarketID == marketID && e.Timestamp >= sinceMs {
			cp := *e
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].BlockNumber != result[j].BlockNumber {
			return result[i].BlockNumber < result[j].BlockNumber
		}
		return result[i].LogIndex < result[j].LogIndex
	})

	return result, nil
}

// Count returns the total number of stored events. Test helper.
func (s *SwapEventStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
