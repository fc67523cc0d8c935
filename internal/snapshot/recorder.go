// Package snapshot records periodic price observations per market.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"compute-perps-indexer/internal/chain"
	"compute-perps-indexer/internal/domain"
	"compute-perps-indexer/internal/observability"
	"compute-perps-indexer/internal/storage"
)

// Recorder reads current prices and appends snapshot rows. A failed
// mark price read skips the whole tick for that market: partial
// snapshots are never written. A failed oracle read only leaves the
// oracle column NULL.
type Recorder struct {
	prices    chain.PriceReader
	source    chain.LogSource
	snapshots storage.SnapshotStore
	archive   storage.Archive // optional

	logger *log.Logger
	now    func() time.Time
}

// RecorderOptions contains configuration for creating a Recorder.
type RecorderOptions struct {
	Prices    chain.PriceReader
	Source    chain.LogSource
	Snapshots storage.SnapshotStore
	Archive   storage.Archive
	Logger    *log.Logger
	Now       func() time.Time
}

// NewRecorder creates a new snapshot recorder.
func NewRecorder(opts RecorderOptions) *Recorder {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Recorder{
		prices:    opts.Prices,
		source:    opts.Source,
		snapshots: opts.Snapshots,
		archive:   opts.Archive,
		logger:    logger,
		now:       now,
	}
}

// Record reads prices for one market and appends a snapshot. Returns
// the written snapshot, or nil when the tick was skipped because the
// mark price was unavailable.
func (r *Recorder) Record(ctx context.Context, market *domain.Market) (*domain.PriceSnapshot, error) {
	mark, err := r.prices.MarkPrice(ctx, market.ContractAddress)
	if err != nil {
		observability.RecordSnapshotSkipped()
		if errors.Is(err, chain.ErrPriceUnavailable) {
			r.logger.Printf("[snapshot] %s: mark price unavailable, skipping tick", market.ID)
			return nil, nil
		}
		return nil, fmt.Errorf("read mark price for %s: %w", market.ID, err)
	}

	oracle := decimal.NullDecimal{}
	if v, err := r.prices.OraclePrice(ctx); err != nil {
		if !errors.Is(err, chain.ErrPriceUnavailable) {
			r.logger.Printf("[snapshot] %s: oracle price: %v", market.ID, err)
		}
	} else {
		oracle = decimal.NullDecimal{Decimal: v, Valid: true}
	}

	var block int64
	if r.source != nil {
		if head, err := r.source.BlockNumber(ctx); err == nil {
			block = head
		} else {
			r.logger.Printf("[snapshot] %s: block number: %v", market.ID, err)
		}
	}

	s := &domain.PriceSnapshot{
		MarketID:    market.ID,
		MarkPrice:   mark,
		OraclePrice: oracle,
		BlockNumber: block,
		Timestamp:   r.now().UnixMilli(),
	}

	if err := r.snapshots.Insert(ctx, s); err != nil {
		return nil, fmt.Errorf("insert snapshot for %s: %w", market.ID, err)
	}
	observability.RecordSnapshot()

	if r.archive != nil {
		if err := r.archive.AppendSnapshot(ctx, s); err != nil {
			r.logger.Printf("[snapshot] %s: archive append: %v", market.ID, err)
		}
	}

	return s, nil
}

// RecordAll runs Record for every market, isolating failures: one
// market's error never blocks the others' ticks.
func (r *Recorder) RecordAll(ctx context.Context, markets []*domain.Market) {
	for _, m := range markets {
		if ctx.Err() != nil {
			return
		}
		if _, err := r.Record(ctx, m); err != nil {
			r.logger.Printf("[snapshot] %s: %v", m.ID, err)
		}
	}
}
