package postgres_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"compute-perps-indexer/internal/domain"
	"compute-perps-indexer/internal/storage"
	pgstore "compute-perps-indexer/internal/storage/postgres"
)

func TestStatsStore_UpsertReplacesRow(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := pgstore.NewStatsStore(pool)

	_, err := store.Get(ctx, "gpu-h100")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	first := &domain.MarketStats24h{
		MarketID:     "gpu-h100",
		CurrentPrice: decimal.NewFromInt(100),
		Volume24hUSD: decimal.NewFromInt(250),
		Trades24h:    1,
		High24h:      decimal.NewFromInt(100),
		Low24h:       decimal.NewFromInt(100),
		LastUpdated:  1000,
	}
	require.NoError(t, store.Upsert(ctx, first))

	second := &domain.MarketStats24h{
		MarketID:         "gpu-h100",
		CurrentPrice:     decimal.NewFromInt(105),
		Price24hAgo:      decimal.NullDecimal{Decimal: decimal.NewFromInt(100), Valid: true},
		Change24hPercent: decimal.NullDecimal{Decimal: decimal.NewFromInt(5), Valid: true},
		Volume24hUSD:     decimal.NewFromInt(600),
		Trades24h:        3,
		High24h:          decimal.NewFromInt(110),
		Low24h:           decimal.NewFromInt(95),
		LastUpdated:      2000,
	}
	require.NoError(t, store.Upsert(ctx, second))

	got, err := store.Get(ctx, "gpu-h100")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Trades24h)
	assert.True(t, got.CurrentPrice.Equal(decimal.NewFromInt(105)))
	assert.True(t, got.Price24hAgo.Valid)
	assert.True(t, got.Price24hAgo.Decimal.Equal(decimal.NewFromInt(100)))
	assert.True(t, got.Change24hPercent.Valid)
	assert.Equal(t, int64(2000), got.LastUpdated)
}

func TestStatsStore_NullInsufficientHistory(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := pgstore.NewStatsStore(pool)

	require.NoError(t, store.Upsert(ctx, &domain.MarketStats24h{
		MarketID:     "gpu-h100",
		CurrentPrice: decimal.NewFromInt(100),
		Volume24hUSD: decimal.NewFromInt(250),
		Trades24h:    1,
		High24h:      decimal.NewFromInt(100),
		Low24h:       decimal.NewFromInt(100),
		LastUpdated:  1000,
	}))

	got, err := store.Get(ctx, "gpu-h100")
	require.NoError(t, err)
	assert.False(t, got.Price24hAgo.Valid, "Price24hAgo must round-trip as NULL")
	assert.False(t, got.Change24hPercent.Valid, "Change24hPercent must round-trip as NULL")
}

func TestCursorStore_Roundtrip(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := pgstore.NewCursorStore(pool)

	_, err := store.Get(ctx, "gpu-h100")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.Set(ctx, "gpu-h100", 500))
	require.NoError(t, store.Set(ctx, "gpu-h100", 700))

	got, err := store.Get(ctx, "gpu-h100")
	require.NoError(t, err)
	assert.Equal(t, int64(700), got)
}
