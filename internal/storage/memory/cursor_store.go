package memory

import (
	"context"
	"sync"

	"compute-perps-indexer/internal/storage"
)

// CursorStore is an in-memory implementation of storage.CursorStore.
type CursorStore struct {
	mu   sync.RWMutex
	data map[string]int64
}

// NewCursorStore creates a new in-memory cursor store.
func NewCursorStore() *CursorStore {
	return &CursorStore{
		data: make(map[string]int64),
	}
}

// Compile-time interface check.
var _ storage.CursorStore = (*CursorStore)(nil)

// Get returns the last backfilled block checkpoint for a market.
func (s *CursorStore) Get(_ context.Context, marketID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	block, ok := s.data[marketID]
	if !ok {
		return 0, storage.ErrNotFound
	}
	return block, nil
}

// Set upserts the checkpoint for a market.
func (s *CursorStore) Set(_ context.Context, marketID string, block int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[marketID] = block
	return nil
}
