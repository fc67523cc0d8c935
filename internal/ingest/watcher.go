package ingest

import (
	"context"
	"errors"
	"log"
	"sync"

	"compute-perps-indexer/internal/chain"
	"compute-perps-indexer/internal/domain"
	"compute-perps-indexer/internal/observability"
	"compute-perps-indexer/internal/storage"
)

// Watcher ingests live swap logs, one subscription per active market.
// Every delivered batch goes through the same idempotent insert path
// as backfill, then triggers one snapshot and one stats refresh via
// the OnApply callback.
type Watcher struct {
	source  chain.LogSource
	events  storage.SwapEventStore
	archive storage.Archive // optional

	// OnApply is invoked once per applied batch with the market id.
	// It runs on the watcher goroutine: the orchestrator hooks the
	// snapshot recorder and stats aggregator here.
	onApply func(ctx context.Context, marketID string)

	logger *log.Logger
}

// WatcherOptions contains configuration for creating a Watcher.
type WatcherOptions struct {
	Source  chain.LogSource
	Events  storage.SwapEventStore
	Archive storage.Archive
	OnApply func(ctx context.Context, marketID string)
	Logger  *log.Logger
}

// NewWatcher creates a new live watcher.
func NewWatcher(opts WatcherOptions) *Watcher {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Watcher{
		source:  opts.Source,
		events:  opts.Events,
		archive: opts.Archive,
		onApply: opts.OnApply,
		logger:  logger,
	}
}

// WatchHandle controls one running market subscription.
type WatchHandle struct {
	MarketID string

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// Stop cancels the subscription and waits for the watcher goroutine to
// finish. After Stop returns, no further event store writes are
// attempted even if the chain delivers late logs. Safe to call more
// than once.
func (h *WatchHandle) Stop() {
	h.stopOnce.Do(func() {
		h.cancel()
	})
	<-h.done
}

// Start opens a live subscription for a market and begins applying
// delivered logs. The returned handle must be stopped on shutdown.
func (w *Watcher) Start(ctx context.Context, market *domain.Market) (*WatchHandle, error) {
	wctx, cancel := context.WithCancel(ctx)

	logs, err := w.source.SubscribeSwapLogs(wctx, market.ContractAddress)
	if err != nil {
		cancel()
		return nil, err
	}

	h := &WatchHandle{
		MarketID: market.ID,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	observability.DefaultMetrics.WatchersActive.Inc()
	go w.run(wctx, market, logs, h.done)

	w.logger.Printf("[watch] %s: subscribed to %s", market.ID, market.ContractAddress)
	return h, nil
}

// run is the per-market watcher loop. All event store writes for the
// subscription happen here, so cancellation + done is a hard guarantee
// that no write outlives Stop.
func (w *Watcher) run(ctx context.Context, market *domain.Market, logs <-chan *chain.SwapLog, done chan<- struct{}) {
	defer close(done)
	defer observability.DefaultMetrics.WatchersActive.Dec()

	for {
		select {
		case <-ctx.Done():
			return

		case l, ok := <-logs:
			if !ok {
				if ctx.Err() == nil {
					w.logger.Printf("[watch] %s: subscription channel closed", market.ID)
				}
				return
			}

			batch := []*chain.SwapLog{l}
			batch = append(batch, drain(logs)...)
			chain.SortSwapLogs(batch)

			w.apply(ctx, market.ID, batch)
			if w.onApply != nil {
				w.onApply(ctx, market.ID)
			}
		}
	}
}

// drain collects any further buffered logs without blocking, so a
// burst is applied as one batch with a single refresh.
func drain(logs <-chan *chain.SwapLog) []*chain.SwapLog {
	var out []*chain.SwapLog
	for {
		select {
		case l, ok := <-logs:
			if !ok {
				return out
			}
			out = append(out, l)
		default:
			return out
		}
	}
}

// apply inserts a batch of logs, suppressing duplicates.
func (w *Watcher) apply(ctx context.Context, marketID string, batch []*chain.SwapLog) {
	var applied []*domain.SwapEvent

	for _, l := range batch {
		e := EventFromLog(marketID, l)
		switch err := w.events.Insert(ctx, e); {
		case err == nil:
			applied = append(applied, e)
			observability.RecordEventStored("watcher")
		case errors.Is(err, storage.ErrDuplicateKey):
			// Redelivery after a reconnect: already stored.
			observability.RecordDuplicateSkipped("watcher")
		default:
			observability.RecordIngestError("watcher")
			w.logger.Printf("[watch] %s: insert tx=%s block=%d: %v", marketID, e.TxHash, e.BlockNumber, err)
		}
	}

	if w.archive != nil && len(applied) > 0 {
		if err := w.archive.AppendEvents(ctx, applied); err != nil {
			w.logger.Printf("[watch] %s: archive append: %v", marketID, err)
		}
	}
}
