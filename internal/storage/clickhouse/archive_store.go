package clickhouse

import (
	"context"
	"fmt"
	"time"

	"compute-perps-indexer/internal/domain"
	"compute-perps-indexer/internal/storage"
)

// ArchiveStore implements storage.Archive using ClickHouse. Duplicate
// re-ingestion is absorbed by the ReplacingMergeTree engine, so
// appends are unconditional.
type ArchiveStore struct {
	conn *Conn
}

// NewArchiveStore creates a new ArchiveStore.
func NewArchiveStore(conn *Conn) *ArchiveStore {
	return &ArchiveStore{conn: conn}
}

// Compile-time interface check.
var _ storage.Archive = (*ArchiveStore)(nil)

// AppendEvents appends swap events to the archive in one batch.
func (s *ArchiveStore) AppendEvents(ctx context.Context, events []*domain.SwapEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO swap_events_archive (
			market_id, tx_hash, log_index, block_number, timestamp,
			trader, base_delta, quote_delta, avg_price, notional_usd, is_long
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare archive batch: %w", err)
	}

	for _, e := range events {
		err := batch.Append(
			e.MarketID,
			e.TxHash,
			int32(e.LogIndex),
			e.BlockNumber,
			time.UnixMilli(e.Timestamp),
			e.Trader,
			e.BaseDelta,
			e.QuoteDelta,
			e.AvgPrice,
			e.NotionalUSD,
			e.IsLong,
		)
		if err != nil {
			return fmt.Errorf("append swap event to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send archive batch: %w", err)
	}
	return nil
}

// AppendSnapshot appends one price snapshot to the archive.
func (s *ArchiveStore) AppendSnapshot(ctx context.Context, snap *domain.PriceSnapshot) error {
	var oracle interface{}
	if snap.OraclePrice.Valid {
		oracle = snap.OraclePrice.Decimal
	}

	err := s.conn.Exec(ctx, `
		INSERT INTO price_snapshots_archive (market_id, mark_price, oracle_price, block_number, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`, snap.MarketID, snap.MarkPrice, oracle, snap.BlockNumber, time.UnixMilli(snap.Timestamp))
	if err != nil {
		return fmt.Errorf("append snapshot to archive: %w", err)
	}
	return nil
}
