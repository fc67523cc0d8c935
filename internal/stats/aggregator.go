// Package stats recomputes the trailing-24h market summaries.
package stats

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"compute-perps-indexer/internal/domain"
	"compute-perps-indexer/internal/observability"
	"compute-perps-indexer/internal/storage"
)

const window = 24 * time.Hour

var hundred = decimal.NewFromInt(100)

// Aggregator recomputes MarketStats24h rows from the event log and the
// snapshot history. Aggregation is pull-based recomputation: there is
// no incremental state, every refresh reads the full trailing window.
type Aggregator struct {
	events    storage.SwapEventStore
	snapshots storage.SnapshotStore
	stats     storage.StatsStore

	logger *log.Logger
	now    func() time.Time
}

// AggregatorOptions contains configuration for creating an Aggregator.
type AggregatorOptions struct {
	Events    storage.SwapEventStore
	Snapshots storage.SnapshotStore
	Stats     storage.StatsStore
	Logger    *log.Logger
	Now       func() time.Time
}

// NewAggregator creates a new stats aggregator.
func NewAggregator(opts AggregatorOptions) *Aggregator {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Aggregator{
		events:    opts.Events,
		snapshots: opts.Snapshots,
		stats:     opts.Stats,
		logger:    logger,
		now:       now,
	}
}

// Refresh recomputes and upserts the stats row for one market. A window
// with zero events retains the previous row unchanged so quiet markets
// never flash a false "no activity" to consumers.
func (a *Aggregator) Refresh(ctx context.Context, marketID string, trigger string) error {
	now := a.now()
	windowStart := now.Add(-window).UnixMilli()

	events, err := a.events.GetByMarketSince(ctx, marketID, windowStart)
	if err != nil {
		return fmt.Errorf("query window events for %s: %w", marketID, err)
	}
	if len(events) == 0 {
		return nil
	}

	volume := decimal.Zero
	high := events[0].AvgPrice
	low := events[0].AvgPrice
	for _, e := range events {
		volume = volume.Add(e.NotionalUSD)
		if e.AvgPrice.GreaterThan(high) {
			high = e.AvgPrice
		}
		if e.AvgPrice.LessThan(low) {
			low = e.AvgPrice
		}
	}

	current := a.currentPrice(ctx, marketID, events)
	baseline := a.baselinePrice(ctx, marketID, windowStart)

	change := decimal.NullDecimal{}
	if baseline.Valid && !baseline.Decimal.IsZero() {
		change = decimal.NullDecimal{
			Decimal: current.Sub(baseline.Decimal).Div(baseline.Decimal).Mul(hundred),
			Valid:   true,
		}
	}

	row := &domain.MarketStats24h{
		MarketID:         marketID,
		CurrentPrice:     current,
		Price24hAgo:      baseline,
		Change24hPercent: change,
		Volume24hUSD:     volume,
		Trades24h:        int64(len(events)),
		High24h:          high,
		Low24h:           low,
		LastUpdated:      now.UnixMilli(),
	}

	if err := a.stats.Upsert(ctx, row); err != nil {
		return fmt.Errorf("upsert stats for %s: %w", marketID, err)
	}
	observability.RecordStatsRefresh(trigger)
	return nil
}

// currentPrice prefers the latest snapshot's mark price and falls back
// to the most recent trade's average fill price.
func (a *Aggregator) currentPrice(ctx context.Context, marketID string, events []*domain.SwapEvent) decimal.Decimal {
	s, err := a.snapshots.Latest(ctx, marketID)
	if err == nil {
		return s.MarkPrice
	}
	if !errors.Is(err, storage.ErrNotFound) {
		a.logger.Printf("[stats] %s: latest snapshot: %v", marketID, err)
	}
	return events[len(events)-1].AvgPrice
}

// baselinePrice returns the mark price of the most recent snapshot at
// or before the window start. Missing history yields an invalid value,
// never an approximation.
func (a *Aggregator) baselinePrice(ctx context.Context, marketID string, windowStartMs int64) decimal.NullDecimal {
	s, err := a.snapshots.LatestAtOrBefore(ctx, marketID, windowStartMs)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			a.logger.Printf("[stats] %s: baseline snapshot: %v", marketID, err)
		}
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: s.MarkPrice, Valid: true}
}
