package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"compute-perps-indexer/internal/chain"
	"compute-perps-indexer/internal/domain"
	"compute-perps-indexer/internal/observability"
	"compute-perps-indexer/internal/storage"
)

// Backfiller handles resumable historical ingestion for one market at
// a time. A failed run aborts only that market; the caller continues
// with the next one.
type Backfiller struct {
	source    chain.LogSource
	events    storage.SwapEventStore
	cursors   storage.CursorStore
	archive   storage.Archive // optional
	batchSize int64
	logger    *log.Logger
}

// BackfillOptions contains configuration for creating a Backfiller.
type BackfillOptions struct {
	Source    chain.LogSource
	Events    storage.SwapEventStore
	Cursors   storage.CursorStore
	Archive   storage.Archive
	BatchSize int64
	Logger    *log.Logger
}

// NewBackfiller creates a new historical backfiller.
func NewBackfiller(opts BackfillOptions) *Backfiller {
	batchSize := opts.BatchSize
	if batchSize == 0 {
		batchSize = 2000
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Backfiller{
		source:    opts.Source,
		events:    opts.Events,
		cursors:   opts.Cursors,
		archive:   opts.Archive,
		batchSize: batchSize,
		logger:    logger,
	}
}

// BackfillResult contains statistics from one backfill run.
type BackfillResult struct {
	MarketID   string
	FromBlock  int64
	ToBlock    int64
	Inserted   int
	Duplicates int
	Duration   time.Duration
}

// Run backfills a market from its resume point up to the current
// chain head. The resume point is the highest indexed block + 1, the
// stored checkpoint + 1 if the market has no events yet, or the
// market's genesis block.
func (b *Backfiller) Run(ctx context.Context, market *domain.Market) (*BackfillResult, error) {
	from, err := b.resolveFrom(ctx, market)
	if err != nil {
		return &BackfillResult{MarketID: market.ID}, err
	}

	head, err := b.source.BlockNumber(ctx)
	if err != nil {
		return &BackfillResult{MarketID: market.ID}, fmt.Errorf("resolve chain head: %w", err)
	}

	return b.RunRange(ctx, market, from, head)
}

// RunRange backfills a market for an explicit block range. Events are
// applied in ascending (block, log index) order within each batch, so
// cumulative aggregates are deterministic regardless of fetch batching.
func (b *Backfiller) RunRange(ctx context.Context, market *domain.Market, fromBlock, toBlock int64) (*BackfillResult, error) {
	start := time.Now()
	result := &BackfillResult{MarketID: market.ID, FromBlock: fromBlock, ToBlock: toBlock}

	if fromBlock > toBlock {
		b.logger.Printf("[backfill] %s: nothing to do (from=%d head=%d)", market.ID, fromBlock, toBlock)
		return result, nil
	}

	b.logger.Printf("[backfill] %s: blocks [%d, %d]", market.ID, fromBlock, toBlock)

	for batchFrom := fromBlock; batchFrom <= toBlock; batchFrom += b.batchSize {
		batchTo := batchFrom + b.batchSize - 1
		if batchTo > toBlock {
			batchTo = toBlock
		}

		logs, err := b.source.FilterSwapLogs(ctx, market.ContractAddress, batchFrom, batchTo)
		if err != nil {
			result.Duration = time.Since(start)
			observability.RecordBackfillRun("error", result.Duration.Seconds())
			return result, fmt.Errorf("fetch logs [%d,%d]: %w", batchFrom, batchTo, err)
		}

		chain.SortSwapLogs(logs)

		inserted, dupes, err := b.storeLogs(ctx, market.ID, logs)
		result.Inserted += inserted
		result.Duplicates += dupes
		if err != nil {
			result.Duration = time.Since(start)
			observability.RecordBackfillRun("error", result.Duration.Seconds())
			return result, fmt.Errorf("store logs [%d,%d]: %w", batchFrom, batchTo, err)
		}

		// Advance the checkpoint even for empty batches so a market
		// with no trades yet still resumes past scanned ranges.
		if err := b.cursors.Set(ctx, market.ID, batchTo); err != nil {
			b.logger.Printf("[backfill] %s: advance cursor to %d: %v", market.ID, batchTo, err)
		}
	}

	result.Duration = time.Since(start)
	observability.RecordBackfillRun("ok", result.Duration.Seconds())
	b.logger.Printf("[backfill] %s: %d inserted, %d duplicates in %v",
		market.ID, result.Inserted, result.Duplicates, result.Duration)

	return result, nil
}

// resolveFrom determines the first block to fetch for a market.
func (b *Backfiller) resolveFrom(ctx context.Context, market *domain.Market) (int64, error) {
	last, err := b.events.LastIndexedBlock(ctx, market.ID)
	if err == nil {
		return last + 1, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return 0, fmt.Errorf("resolve last indexed block: %w", err)
	}

	checkpoint, err := b.cursors.Get(ctx, market.ID)
	if err == nil {
		return checkpoint + 1, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return 0, fmt.Errorf("resolve cursor: %w", err)
	}

	return market.GenesisBlock, nil
}

// storeLogs inserts decoded logs in order, counting duplicates as
// successes. A store failure stops the batch so the cursor never
// advances past an unstored event; the run retries the range later.
func (b *Backfiller) storeLogs(ctx context.Context, marketID string, logs []*chain.SwapLog) (inserted, dupes int, err error) {
	var applied []*domain.SwapEvent

	defer func() {
		if b.archive != nil && len(applied) > 0 {
			if aerr := b.archive.AppendEvents(ctx, applied); aerr != nil {
				b.logger.Printf("[backfill] %s: archive append: %v", marketID, aerr)
			}
		}
	}()

	for _, l := range logs {
		e := EventFromLog(marketID, l)
		switch err := b.events.Insert(ctx, e); {
		case err == nil:
			inserted++
			applied = append(applied, e)
			observability.RecordEventStored("backfill")
		case errors.Is(err, storage.ErrDuplicateKey):
			dupes++
			observability.RecordDuplicateSkipped("backfill")
		default:
			observability.RecordIngestError("backfill")
			return inserted, dupes, fmt.Errorf("insert tx=%s block=%d: %w", e.TxHash, e.BlockNumber, err)
		}
	}

	return inserted, dupes, nil
}
