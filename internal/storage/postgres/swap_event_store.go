package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"compute-perps-indexer/internal/domain"
	"compute-perps-indexer/internal/storage"
)

// SwapEventStore implements storage.SwapEventStore using PostgreSQL.
type SwapEventStore struct {
	pool *Pool
}

// NewSwapEventStore creates a new SwapEventStore.
func NewSwapEventStore(pool *Pool) *SwapEventStore {
	return &SwapEventStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SwapEventStore = (*SwapEventStore)(nil)

// Insert adds a new swap event. Returns ErrDuplicateKey if the natural
// key (market_id, tx_hash, block_number, log_index) exists.
func (s *SwapEventStore) Insert(ctx context.Context, e *domain.SwapEvent) error {
	if e == nil {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO swap_events (
			market_id, tx_hash, log_index, block_number, timestamp,
			trader, base_delta, quote_delta, avg_price, notional_usd, is_long, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := s.pool.Exec(ctx, query,
		e.MarketID,
		e.TxHash,
		e.LogIndex,
		e.BlockNumber,
		e.Timestamp,
		e.Trader,
		e.BaseDelta,
		e.QuoteDelta,
		e.AvgPrice,
		e.NotionalUSD,
		e.IsLong,
		e.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert swap event: %w", err)
	}
	return nil
}

// LastIndexedBlock returns the highest stored block for a market.
func (s *SwapEventStore) LastIndexedBlock(ctx context.Context, marketID string) (int64, error) {
	query := `
		SELECT MAX(block_number)
		FROM swap_events
		WHERE market_id = $1
	`

	var block *int64
	if err := s.pool.QueryRow(ctx, query, marketID).Scan(&block); err != nil {
		return 0, fmt.Errorf("last indexed block: %w", err)
	}
	if block == nil {
		return 0, storage.ErrNotFound
	}
	return *block, nil
}

// GetByMarketSince retrieves events for a market with timestamp >= sinceMs,
// ordered by (block_number ASC, log_index ASC).
func (s *SwapEventStore) GetByMarketSince(ctx context.Context, marketID string, sinceMs int64) ([]*domain.SwapEvent, error) {
	query := `
		SELECT market_id, tx_hash, log_index, block_number, timestamp,
		       trader, base_delta, quote_delta, avg_price, notional_usd, is_long, created_at
		FROM swap_events
		WHERE market_id = $1 AND timestamp >= $2
		ORDER BY block_number ASC, log_index ASC
	`

	rows, err := s.pool.Query(ctx, query, marketID, sinceMs)
	if err != nil {
		return nil, fmt.Errorf("get swap events since: %w", err)
	}
	defer rows.Close()

	return scanSwapEvents(rows)
}

// scanSwapEvents scans multiple rows into a slice of SwapEvent.
func scanSwapEvents(rows pgx.Rows) ([]*domain.SwapEvent, error) {
	var events []*domain.SwapEvent

	for rows.Next() {
		var e domain.SwapEvent

		err := rows.Scan(
			&e.MarketID,
			&e.TxHash,
			&e.LogIndex,
			&e.BlockNumber,
			&e.Timestamp,
			&e.Trader,
			&e.BaseDelta,
			&e.QuoteDelta,
			&e.AvgPrice,
			&e.NotionalUSD,
			&e.IsLong,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan swap event row: %w", err)
		}

		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate swap event rows: %w", err)
	}

	return events, nil
}
