// Package ingest moves swap events from the chain into storage: the
// resumable historical backfiller and the per-market live watcher.
// Both share one idempotent insert path, so a log seen twice (re-run
// backfill, reconnect replay) never double-counts.
package ingest

import (
	"time"

	"compute-perps-indexer/internal/chain"
	"compute-perps-indexer/internal/domain"
)

// EventFromLog converts a decoded chain log into a swap event for a
// market. NotionalUSD and IsLong are derived here so the two write
// paths cannot disagree.
func EventFromLog(marketID string, l *chain.SwapLog) *domain.SwapEvent {
	return &domain.SwapEvent{
		MarketID:    marketID,
		TxHash:      l.TxHash,
		LogIndex:    l.LogIndex,
		BlockNumber: l.BlockNumber,
		Timestamp:   l.Timestamp,
		Trader:      l.Sender,
		BaseDelta:   l.BaseDelta,
		QuoteDelta:  l.QuoteDelta,
		AvgPrice:    l.AvgPrice,
		NotionalUSD: l.QuoteDelta.Abs(),
		IsLong:      l.BaseDelta.IsPositive(),
		CreatedAt:   time.Now().UnixMilli(),
	}
}
