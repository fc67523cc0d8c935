package storage

import (
	"context"

	"compute-perps-indexer/internal/domain"
)

// SwapEventStore provides access to the append-only swap event log.
// Implementations must be safe for concurrent use: the per-market
// watchers and the aggregation timers share one store.
type SwapEventStore interface {
	// Insert adds a new swap event. Returns ErrDuplicateKey if
	// (market_id, tx_hash, block_number, log_index) exists; callers
	// rely on this to make re-ingestion over indexed ranges safe.
	Insert(ctx context.Context, e *domain.SwapEvent) error

	// LastIndexedBlock returns the highest block number stored for a
	// market. Returns ErrNotFound if the market has no events yet.
	LastIndexedBlock(ctx context.Context, marketID string) (int64, error)

	// GetByMarketSince retrieves events for a market with timestamp >= sinceMs,
	// ordered by (block_number ASC, log_index ASC).
	GetByMarketSince(ctx context.Context, marketID string, sinceMs int64) ([]*domain.SwapEvent, error)
}

// SnapshotStore provides access to price_snapshots storage.
type SnapshotStore interface {
	// Insert adds a new price snapshot.
	Insert(ctx context.Context, s *domain.PriceSnapshot) error

	// Latest retrieves the most recent snapshot for a market.
	// Returns ErrNotFound if none exist.
	Latest(ctx context.Context, marketID string) (*domain.PriceSnapshot, error)

	// LatestAtOrBefore retrieves the most recent snapshot for a market
	// with timestamp <= tsMs. Returns ErrNotFound if none exist.
	LatestAtOrBefore(ctx context.Context, marketID string, tsMs int64) (*domain.PriceSnapshot, error)
}

// StatsStore provides access to the market_stats_24h read model.
type StatsStore interface {
	// Upsert inserts or replaces the stats row for a market.
	Upsert(ctx context.Context, s *domain.MarketStats24h) error

	// Get retrieves the stats row for a market. Returns ErrNotFound
	// if the market has never been aggregated.
	Get(ctx context.Context, marketID string) (*domain.MarketStats24h, error)
}

// CursorStore persists the per-market backfill checkpoint. It only
// matters for markets with no stored events yet; once events exist the
// event log itself is the cursor.
type CursorStore interface {
	// Get returns the last backfilled block for a market.
	// Returns ErrNotFound if no checkpoint was stored.
	Get(ctx context.Context, marketID string) (int64, error)

	// Set upserts the checkpoint for a market.
	Set(ctx context.Context, marketID string, block int64) error
}

// Archive is an optional analytics mirror for ingested facts. It is
// never on the correctness path: implementations may lag or fail, and
// callers only log archive errors.
type Archive interface {
	AppendEvents(ctx context.Context, events []*domain.SwapEvent) error
	AppendSnapshot(ctx context.Context, s *domain.PriceSnapshot) error
}
