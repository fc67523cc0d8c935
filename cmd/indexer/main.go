// Package main runs the swap indexing pipeline: historical backfill,
// live watchers, snapshot/stats timers, and the read API server.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"compute-perps-indexer/internal/chain"
	"compute-perps-indexer/internal/orchestrator"
	"compute-perps-indexer/internal/query"
	"compute-perps-indexer/internal/registry"
	"compute-perps-indexer/internal/server"
	"compute-perps-indexer/internal/storage"
	"compute-perps-indexer/internal/storage/memory"
)

func main() {
	// Load .env if present; real env vars win.
	_ = godotenv.Load()

	rpcEndpoint := flag.String("rpc-endpoint", os.Getenv("EVM_RPC_ENDPOINT"), "EVM node endpoint (ws:// or wss:// required for live watching)")
	oracleAddress := flag.String("oracle-address", os.Getenv("ORACLE_ADDRESS"), "Reference price feed contract address")
	marketsFile := flag.String("markets", envOr("MARKETS_FILE", "markets.yaml"), "Market registry YAML file")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string (empty: read-only mode)")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse DSN for the analytics mirror (optional)")
	redisAddr := flag.String("redis-addr", os.Getenv("REDIS_ADDR"), "Redis address for the stats read cache (optional)")
	listenAddr := flag.String("listen-addr", envOr("LISTEN_ADDR", ":8080"), "Read API listen address")
	backfill := flag.Bool("backfill", true, "Run historical backfill at startup")
	watchLive := flag.Bool("watch", true, "Start live watchers")
	snapshotInterval := flag.Duration("snapshot-interval", 30*time.Second, "Price snapshot interval")
	statsInterval := flag.Duration("stats-interval", 30*time.Second, "Stats aggregation interval")
	backfillBatch := flag.Int64("backfill-batch", 2000, "Blocks per backfill log query")

	flag.Parse()

	logger := log.New(os.Stdout, "[indexer] ", log.LstdFlags|log.Lshortfile)

	if *rpcEndpoint == "" {
		logger.Fatal("--rpc-endpoint is required")
	}

	reg, err := registry.LoadFile(*marketsFile)
	if err != nil {
		logger.Fatalf("Load market registry: %v", err)
	}
	logger.Printf("Loaded %d markets (%d active)", len(reg.List()), len(reg.ListActive()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var chainOpts []chain.ClientOption
	chainOpts = append(chainOpts, chain.WithLogger(logger))
	if *oracleAddress != "" {
		chainOpts = append(chainOpts, chain.WithOracle(*oracleAddress))
	}
	client, err := chain.Dial(ctx, *rpcEndpoint, chainOpts...)
	if err != nil {
		logger.Fatalf("Dial EVM node: %v", err)
	}
	defer client.Close()

	var cache *redis.Client
	if *redisAddr != "" {
		cache = redis.NewClient(&redis.Options{Addr: *redisAddr})
		if err := cache.Ping(ctx).Err(); err != nil {
			logger.Printf("Redis unreachable, running without read cache: %v", err)
			cache = nil
		}
		if cache != nil {
			defer cache.Close()
		}
	}

	hub := server.NewHub(logger)

	// One pool serves both the pipeline and the read API; migrations run
	// before either side touches a table. Without a DSN the API serves
	// /markets and answers stats lookups with not-found.
	var (
		stores *orchestrator.Stores
		stats  storage.StatsStore
	)
	if *postgresDSN != "" {
		var cleanup func()
		stores, cleanup, err = orchestrator.OpenStores(ctx, *postgresDSN, *clickhouseDSN)
		if err != nil {
			logger.Fatalf("Open storage: %v", err)
		}
		defer cleanup()
		stats = stores.Stats
	} else {
		stats = memory.NewStatsStore()
	}

	queries := query.NewService(query.ServiceOptions{
		Registry: reg,
		Stats:    stats,
		Cache:    cache,
		CacheTTL: *statsInterval,
		Logger:   logger,
	})

	handle, err := orchestrator.Start(ctx, orchestrator.Options{
		Registry:          reg,
		Source:            client,
		Prices:            client,
		Stores:            stores,
		Backfill:          *backfill,
		WatchLive:         *watchLive,
		SnapshotInterval:  *snapshotInterval,
		StatsInterval:     *statsInterval,
		BackfillBatchSize: *backfillBatch,
		Hub:               hub,
		Queries:           queries,
		Logger:            logger,
	})
	if err != nil {
		logger.Fatalf("Start pipeline: %v", err)
	}
	if handle == nil {
		logger.Println("Running in read-only mode: no writes will occur")
	}

	srv := server.New(server.Options{
		Addr:    *listenAddr,
		Queries: queries,
		Hub:     hub,
		Logger:  logger,
	})
	go func() {
		if err := srv.Start(); err != nil {
			logger.Printf("Read API server: %v", err)
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Printf("Received signal %v, shutting down...", sig)
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("Server shutdown: %v", err)
	}
	if handle != nil {
		handle.Shutdown()
	}

	logger.Println("Shutdown complete")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
