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

func TestSnapshotStore_InsertAndLatest(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := pgstore.NewSnapshotStore(pool)

	_, err := store.Latest(ctx, "gpu-h100")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	oracle := decimal.NullDecimal{Decimal: decimal.NewFromInt(100), Valid: true}
	require.NoError(t, store.Insert(ctx, &domain.PriceSnapshot{
		MarketID: "gpu-h100", MarkPrice: decimal.NewFromInt(90), OraclePrice: oracle, BlockNumber: 100, Timestamp: 1000,
	}))
	require.NoError(t, store.Insert(ctx, &domain.PriceSnapshot{
		MarketID: "gpu-h100", MarkPrice: decimal.NewFromInt(95), BlockNumber: 110, Timestamp: 2000,
	}))

	got, err := store.Latest(ctx, "gpu-h100")
	require.NoError(t, err)
	assert.True(t, got.MarkPrice.Equal(decimal.NewFromInt(95)), "MarkPrice = %s", got.MarkPrice)
	assert.False(t, got.OraclePrice.Valid, "second snapshot has no oracle price")
}

func TestSnapshotStore_LatestAtOrBefore(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := pgstore.NewSnapshotStore(pool)

	for i, ts := range []int64{1000, 2000, 3000} {
		require.NoError(t, store.Insert(ctx, &domain.PriceSnapshot{
			MarketID:  "gpu-h100",
			MarkPrice: decimal.NewFromInt(int64(90 + i)),
			Timestamp: ts,
		}))
	}

	got, err := store.LatestAtOrBefore(ctx, "gpu-h100", 2500)
	require.NoError(t, err)
	assert.True(t, got.MarkPrice.Equal(decimal.NewFromInt(91)), "MarkPrice = %s", got.MarkPrice)

	// Inclusive boundary.
	got, err = store.LatestAtOrBefore(ctx, "gpu-h100", 2000)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), got.Timestamp)

	_, err = store.LatestAtOrBefore(ctx, "gpu-h100", 500)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSnapshotStore_TimestampTieLatestInsertWins(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := pgstore.NewSnapshotStore(pool)

	require.NoError(t, store.Insert(ctx, &domain.PriceSnapshot{
		MarketID: "gpu-h100", MarkPrice: decimal.NewFromInt(90), Timestamp: 1000,
	}))
	require.NoError(t, store.Insert(ctx, &domain.PriceSnapshot{
		MarketID: "gpu-h100", MarkPrice: decimal.NewFromInt(91), Timestamp: 1000,
	}))

	got, err := store.Latest(ctx, "gpu-h100")
	require.NoError(t, err)
	assert.True(t, got.MarkPrice.Equal(decimal.NewFromInt(91)), "MarkPrice = %s", got.MarkPrice)
}
