// Package query is the read side of the pipeline: stats lookups for
// the trading UI and the edge gateway, with an optional Redis cache in
// front of the stats table.
package query

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"compute-perps-indexer/internal/domain"
	"compute-perps-indexer/internal/registry"
	"compute-perps-indexer/internal/storage"
)

// Service answers read queries. The cache is best-effort: any Redis
// failure falls through to the stats store and is only logged.
type Service struct {
	registry *registry.Registry
	stats    storage.StatsStore

	cache    *redis.Client // optional
	cacheTTL time.Duration

	logger *log.Logger
}

// ServiceOptions contains configuration for creating a query Service.
type ServiceOptions struct {
	Registry *registry.Registry
	Stats    storage.StatsStore
	Cache    *redis.Client
	CacheTTL time.Duration
	Logger   *log.Logger
}

// NewService creates a new query service. CacheTTL should match the
// stats aggregation interval so cached rows are never staler than the
// table itself.
func NewService(opts ServiceOptions) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	return &Service{
		registry: opts.Registry,
		stats:    opts.Stats,
		cache:    opts.Cache,
		cacheTTL: ttl,
		logger:   logger,
	}
}

// Markets returns all registered markets in config order.
func (s *Service) Markets() []*domain.Market {
	return s.registry.List()
}

// Get24hStats returns the trailing-24h stats row for a market.
// Returns registry.ErrUnknownMarket for unregistered ids and
// storage.ErrNotFound when the market was never aggregated.
func (s *Service) Get24hStats(ctx context.Context, marketID string) (*domain.MarketStats24h, error) {
	if _, err := s.registry.Get(marketID); err != nil {
		return nil, err
	}

	if row := s.cacheGet(ctx, marketID); row != nil {
		return row, nil
	}

	row, err := s.stats.Get(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("get stats for %s: %w", marketID, err)
	}

	s.cacheSet(ctx, marketID, row)
	return row, nil
}

// Invalidate drops the cached stats row for a market. Called by the
// orchestrator after each refresh so consumers see new rows promptly.
func (s *Service) Invalidate(ctx context.Context, marketID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, cacheKey(marketID)).Err(); err != nil {
		s.logger.Printf("[query] cache del %s: %v", marketID, err)
	}
}

func cacheKey(marketID string) string {
	return "stats24h:" + marketID
}

func (s *Service) cacheGet(ctx context.Context, marketID string) *domain.MarketStats24h {
	if s.cache == nil {
		return nil
	}

	raw, err := s.cache.Get(ctx, cacheKey(marketID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.logger.Printf("[query] cache get %s: %v", marketID, err)
		}
		return nil
	}

	var row domain.MarketStats24h
	if err := json.Unmarshal(raw, &row); err != nil {
		s.logger.Printf("[query] cache decode %s: %v", marketID, err)
		return nil
	}
	return &row
}

func (s *Service) cacheSet(ctx context.Context, marketID string, row *domain.MarketStats24h) {
	if s.cache == nil {
		return
	}

	raw, err := json.Marshal(row)
	if err != nil {
		s.logger.Printf("[query] cache encode %s: %v", marketID, err)
		return
	}
	if err := s.cache.Set(ctx, cacheKey(marketID), raw, s.cacheTTL).Err(); err != nil {
		s.logger.Printf("[query] cache set %s: %v", marketID, err)
	}
}
