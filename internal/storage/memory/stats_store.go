package memory

import (
	"context"
	"sync"

	"compute-perps-indexer/internal/domain"
	"compute-perps-indexer/internal/storage"
)

// StatsStore is an in-memory implementation of storage.StatsStore.
type StatsStore struct {
	mu   sync.RWMutex
	data map[string]*domain.MarketStats24h
}

// NewStatsStore creates a new in-memory stats store.
func NewStatsStore() *StatsStore {
	return &StatsStore{
		data: make(map[string]*domain.MarketStats24h),
	}
}

// Compile-time interface check.
var _ storage.StatsStore = (*StatsStore)(nil)

// Upsert inserts or replaces the stats row for a market.
func (s *StatsStore) Upsert(_ context.Context, st *domain.MarketStats24h) error {
	if st == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *st
	s.data[st.MarketID] = &cp
	return nil
}

// Get retrieves the stats row for a market.
func (s *StatsStore) Get(_ context.Context, marketID string) (*domain.MarketStats24h, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.data[marketID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *st
	return &cp, nil
}
