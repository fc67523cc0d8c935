// Package orchestrator wires the pipeline together and owns its
// lifecycle: storage setup, per-market backfill, live watchers, the
// snapshot and stats timers, and one idempotent shutdown.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"compute-perps-indexer/internal/chain"
	"compute-perps-indexer/internal/ingest"
	"compute-perps-indexer/internal/query"
	"compute-perps-indexer/internal/registry"
	"compute-perps-indexer/internal/server"
	"compute-perps-indexer/internal/snapshot"
	"compute-perps-indexer/internal/stats"
	"compute-perps-indexer/internal/storage"
	chstore "compute-perps-indexer/internal/storage/clickhouse"
	"compute-perps-indexer/internal/storage/migrations"
	pgstore "compute-perps-indexer/internal/storage/postgres"
)

// Stores groups the storage interfaces the pipeline writes through.
// Tests inject memory implementations here; production builds them
// from PostgresDSN.
type Stores struct {
	Events    storage.SwapEventStore
	Snapshots storage.SnapshotStore
	Stats     storage.StatsStore
	Cursors   storage.CursorStore
	Archive   storage.Archive // optional
}

// Options contains configuration for starting the pipeline.
type Options struct {
	Registry *registry.Registry
	Source   chain.LogSource
	Prices   chain.PriceReader

	// PostgresDSN is the write credential. An empty DSN with no Stores
	// override means read-only mode: Start returns a nil handle and the
	// pipeline performs no writes.
	PostgresDSN   string
	ClickhouseDSN string // optional analytics mirror

	// Stores overrides DSN-based storage construction.
	Stores *Stores

	Backfill  bool
	WatchLive bool

	SnapshotInterval time.Duration
	StatsInterval    time.Duration

	BackfillBatchSize int64

	// Hub, if set, receives every refreshed stats row.
	Hub *server.Hub
	// Queries, if set, has its cache invalidated after each refresh.
	Queries *query.Service

	Logger *log.Logger
}

// Handle controls a running pipeline.
type Handle struct {
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	watchers []*ingest.WatchHandle
	cleanup  func()
	logger   *log.Logger

	shutdownOnce sync.Once
}

// Shutdown stops the pipeline: cancels timers, stops every watcher and
// waits for their goroutines, then closes storage. After Shutdown
// returns no further event store writes occur, even if the chain
// delivers late logs. Safe to call more than once.
func (h *Handle) Shutdown() {
	h.shutdownOnce.Do(func() {
		h.logger.Printf("[orchestrator] shutting down")
		h.cancel()
		for _, w := range h.watchers {
			w.Stop()
		}
		h.wg.Wait()
		if h.cleanup != nil {
			h.cleanup()
		}
		h.logger.Printf("[orchestrator] shutdown complete")
	})
}

// Start brings up the pipeline. In read-only mode (no write
// credentials and no store override) it returns (nil, nil): no handle,
// no writes, not an error.
//
// Startup per active market is sequential and failure-isolated: one
// market's backfill or watcher error is logged and the rest proceed.
func Start(ctx context.Context, opts Options) (*Handle, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	if opts.Stores == nil && opts.PostgresDSN == "" {
		logger.Printf("[orchestrator] no write credentials, starting in read-only mode")
		return nil, nil
	}

	stores, cleanup, err := buildStores(ctx, opts)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	h := &Handle{cancel: cancel, cleanup: cleanup, logger: logger}

	recorder := snapshot.NewRecorder(snapshot.RecorderOptions{
		Prices:    opts.Prices,
		Source:    opts.Source,
		Snapshots: stores.Snapshots,
		Archive:   stores.Archive,
		Logger:    logger,
	})
	aggregator := stats.NewAggregator(stats.AggregatorOptions{
		Events:    stores.Events,
		Snapshots: stores.Snapshots,
		Stats:     stores.Stats,
		Logger:    logger,
	})

	publish := func(ctx context.Context, marketID string) {
		if opts.Queries != nil {
			opts.Queries.Invalidate(ctx, marketID)
		}
		if opts.Hub != nil {
			if row, err := stores.Stats.Get(ctx, marketID); err == nil {
				opts.Hub.Broadcast(row)
			}
		}
	}

	backfiller := ingest.NewBackfiller(ingest.BackfillOptions{
		Source:    opts.Source,
		Events:    stores.Events,
		Cursors:   stores.Cursors,
		Archive:   stores.Archive,
		BatchSize: opts.BackfillBatchSize,
		Logger:    logger,
	})
	watcher := ingest.NewWatcher(ingest.WatcherOptions{
		Source:  opts.Source,
		Events:  stores.Events,
		Archive: stores.Archive,
		Logger:  logger,
		OnApply: func(ctx context.Context, marketID string) {
			if m, err := opts.Registry.Get(marketID); err == nil {
				if _, err := recorder.Record(ctx, m); err != nil {
					logger.Printf("[orchestrator] %s: snapshot after apply: %v", marketID, err)
				}
			}
			if err := aggregator.Refresh(ctx, marketID, "watcher"); err != nil {
				logger.Printf("[orchestrator] %s: stats after apply: %v", marketID, err)
			}
			publish(ctx, marketID)
		},
	})

	// Sequential per-market startup. Failures never stop the loop.
	for _, m := range opts.Registry.ListActive() {
		if runCtx.Err() != nil {
			break
		}

		// The watcher subscribes before the historical sweep so logs
		// mined while the sweep runs still arrive over the subscription;
		// overlap between the two paths is absorbed by the idempotent
		// insert.
		if opts.WatchLive {
			wh, err := watcher.Start(runCtx, m)
			if err != nil {
				logger.Printf("[orchestrator] %s: start watcher: %v", m.ID, err)
			} else {
				h.watchers = append(h.watchers, wh)
			}
		}

		if opts.Backfill {
			if res, err := backfiller.Run(runCtx, m); err != nil {
				logger.Printf("[orchestrator] %s: backfill: %v", m.ID, err)
			} else {
				logger.Printf("[orchestrator] %s: backfill blocks %d-%d, %d inserted, %d duplicates",
					m.ID, res.FromBlock, res.ToBlock, res.Inserted, res.Duplicates)
			}
		}

		if _, err := recorder.Record(runCtx, m); err != nil {
			logger.Printf("[orchestrator] %s: prime snapshot: %v", m.ID, err)
		}
		if err := aggregator.Refresh(runCtx, m.ID, "startup"); err != nil {
			logger.Printf("[orchestrator] %s: prime stats: %v", m.ID, err)
		}
		publish(runCtx, m.ID)
	}

	startTicker(runCtx, &h.wg, opts.SnapshotInterval, func(tickCtx context.Context) {
		recorder.RecordAll(tickCtx, opts.Registry.ListActive())
	})
	startTicker(runCtx, &h.wg, opts.StatsInterval, func(tickCtx context.Context) {
		for _, m := range opts.Registry.ListActive() {
			if tickCtx.Err() != nil {
				return
			}
			if err := aggregator.Refresh(tickCtx, m.ID, "timer"); err != nil {
				logger.Printf("[orchestrator] %s: stats tick: %v", m.ID, err)
			}
			publish(tickCtx, m.ID)
		}
	})

	return h, nil
}

// buildStores assembles storage from the options.
func buildStores(ctx context.Context, opts Options) (*Stores, func(), error) {
	if opts.Stores != nil {
		return opts.Stores, nil, nil
	}
	return OpenStores(ctx, opts.PostgresDSN, opts.ClickhouseDSN)
}

// OpenStores connects to the configured databases and runs migrations
// before handing any store out. Callers that open stores themselves
// (to share the pool with the read side) pass them via Options.Stores
// and own the returned cleanup. The ClickHouse mirror is attached only
// when its DSN is configured.
func OpenStores(ctx context.Context, postgresDSN, clickhouseDSN string) (*Stores, func(), error) {
	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("run postgres migrations: %w", err)
	}

	stores := &Stores{
		Events:    pgstore.NewSwapEventStore(pool),
		Snapshots: pgstore.NewSnapshotStore(pool),
		Stats:     pgstore.NewStatsStore(pool),
		Cursors:   pgstore.NewCursorStore(pool),
	}
	cleanup := func() { pool.Close() }

	if clickhouseDSN != "" {
		conn, err := chstore.NewConn(ctx, clickhouseDSN)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
		}
		if err := migrations.RunClickhouseMigrations(ctx, conn); err != nil {
			conn.Close()
			pool.Close()
			return nil, nil, fmt.Errorf("run clickhouse migrations: %w", err)
		}
		stores.Archive = chstore.NewArchiveStore(conn)
		cleanup = func() {
			conn.Close()
			pool.Close()
		}
	}

	return stores, cleanup, nil
}

// startTicker runs fn at the given interval until ctx is cancelled.
// fn runs synchronously on the ticker goroutine, so a slow run can
// never overlap the next one; ticks that fire meanwhile are dropped.
func startTicker(ctx context.Context, wg *sync.WaitGroup, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		return
	}

	wg.Add(1)
	go func() {
		defer wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
}
