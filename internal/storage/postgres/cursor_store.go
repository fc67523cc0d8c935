package postgres

import (
	"context"
	"fmt"
	"time"

	"compute-perps-indexer/internal/storage"
)

// CursorStore implements storage.CursorStore using PostgreSQL.
type CursorStore struct {
	pool *Pool
}

// NewCursorStore creates a new CursorStore.
func NewCursorStore(pool *Pool) *CursorStore {
	return &CursorStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CursorStore = (*CursorStore)(nil)

// Get returns the last backfilled block checkpoint for a market.
func (s *CursorStore) Get(ctx context.Context, marketID string) (int64, error) {
	query := `SELECT last_block FROM market_cursors WHERE market_id = $1`

	var block int64
	if err := s.pool.QueryRow(ctx, query, marketID).Scan(&block); err != nil {
		if isNotFoundError(err) {
			return 0, storage.ErrNotFound
		}
		return 0, fmt.Errorf("get cursor: %w", err)
	}
	return block, nil
}

// Set upserts the checkpoint for a market.
func (s *CursorStore) Set(ctx context.Context, marketID string, block int64) error {
	query := `
		INSERT INTO market_cursors (market_id, last_block, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (market_id) DO UPDATE SET
			last_block = EXCLUDED.last_block,
			updated_at = EXCLUDED.updated_at
	`

	_, err := s.pool.Exec(ctx, query, marketID, block, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("set cursor: %w", err)
	}
	return nil
}
