package postgres

import (
	"context"
	"fmt"

	"compute-perps-indexer/internal/domain"
	"compute-perps-indexer/internal/storage"
)

// StatsStore implements storage.StatsStore using PostgreSQL.
type StatsStore struct {
	pool *Pool
}

// NewStatsStore creates a new StatsStore.
func NewStatsStore(pool *Pool) *StatsStore {
	return &StatsStore{pool: pool}
}

// Compile-time interface check.
var _ storage.StatsStore = (*StatsStore)(nil)

// Upsert inserts or replaces the stats row for a market.
func (s *StatsStore) Upsert(ctx context.Context, st *domain.MarketStats24h) error {
	if st == nil {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO market_stats_24h (
			market_id, current_price, price_24h_ago, change_24h_percent,
			volume_24h_usd, trades_24h, high_24h, low_24h, last_updated
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (market_id) DO UPDATE SET
			current_price = EXCLUDED.current_price,
			price_24h_ago = EXCLUDED.price_24h_ago,
			change_24h_percent = EXCLUDED.change_24h_percent,
			volume_24h_usd = EXCLUDED.volume_24h_usd,
			trades_24h = EXCLUDED.trades_24h,
			high_24h = EXCLUDED.high_24h,
			low_24h = EXCLUDED.low_24h,
			last_updated = EXCLUDED.last_updated
	`

	_, err := s.pool.Exec(ctx, query,
		st.MarketID,
		st.CurrentPrice,
		st.Price24hAgo,
		st.Change24hPercent,
		st.Volume24hUSD,
		st.Trades24h,
		st.High24h,
		st.Low24h,
		st.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("upsert market stats: %w", err)
	}
	return nil
}

// Get retrieves the stats row for a market.
func (s *StatsStore) Get(ctx context.Context, marketID string) (*domain.MarketStats24h, error) {
	query := `
		SELECT market_id, current_price, price_24h_ago, change_24h_percent,
		       volume_24h_usd, trades_24h, high_24h, low_24h, last_updated
		FROM market_stats_24h
		WHERE market_id = $1
	`

	var st domain.MarketStats24h
	err := s.pool.QueryRow(ctx, query, marketID).Scan(
		&st.MarketID,
		&st.CurrentPrice,
		&st.Price24hAgo,
		&st.Change24hPercent,
		&st.Volume24hUSD,
		&st.Trades24h,
		&st.High24h,
		&st.Low24h,
		&st.LastUpdated,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get market stats: %w", err)
	}
	return &st, nil
}
