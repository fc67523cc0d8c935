package postgres

import (
	"context"
	"fmt"

	"compute-perps-indexer/internal/domain"
	"compute-perps-indexer/internal/storage"
)

// SnapshotStore implements storage.SnapshotStore using PostgreSQL.
type SnapshotStore struct {
	pool *Pool
}

// NewSnapshotStore creates a new SnapshotStore.
func NewSnapshotStore(pool *Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SnapshotStore = (*SnapshotStore)(nil)

// Insert adds a new price snapshot.
func (s *SnapshotStore) Insert(ctx context.Context, snap *domain.PriceSnapshot) error {
	if snap == nil {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO price_snapshots (market_id, mark_price, oracle_price, block_number, timestamp)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := s.pool.Exec(ctx, query,
		snap.MarketID,
		snap.MarkPrice,
		snap.OraclePrice,
		snap.BlockNumber,
		snap.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert price snapshot: %w", err)
	}
	return nil
}

// Latest retrieves the most recent snapshot for a market.
func (s *SnapshotStore) Latest(ctx context.Context, marketID string) (*domain.PriceSnapshot, error) {
	query := `
		SELECT market_id, mark_price, oracle_price, block_number, timestamp
		FROM price_snapshots
		WHERE market_id = $1
		ORDER BY timestamp DESC, id DESC
		LIMIT 1
	`
	return s.scanOne(ctx, query, marketID)
}

// LatestAtOrBefore retrieves the most recent snapshot with timestamp <= tsMs.
func (s *SnapshotStore) LatestAtOrBefore(ctx context.Context, marketID string, tsMs int64) (*domain.PriceSnapshot, error) {
	query := `
		SELECT market_id, mark_price, oracle_price, block_number, timestamp
		FROM price_snapshots
		WHERE market_id = $1 AND timestamp <= $2
		ORDER BY timestamp DESC, id DESC
		LIMIT 1
	`
	return s.scanOne(ctx, query, marketID, tsMs)
}

func (s *SnapshotStore) scanOne(ctx context.Context, query string, args ...interface{}) (*domain.PriceSnapshot, error) {
	var snap domain.PriceSnapshot
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&snap.MarketID,
		&snap.MarkPrice,
		&snap.OraclePrice,
		&snap.BlockNumber,
		&snap.Timestamp,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get price snapshot: %w", err)
	}
	return &snap, nil
}
