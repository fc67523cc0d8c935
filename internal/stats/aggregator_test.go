package stats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"compute-perps-indexer/internal/domain"
	"compute-perps-indexer/internal/storage"
	"compute-perps-indexer/internal/storage/memory"
)

var testNow = time.UnixMilli(1_700_000_000_000)

type fixture struct {
	events    *memory.SwapEventStore
	snapshots *memory.SnapshotStore
	stats     *memory.StatsStore
	agg       *Aggregator
}

func newFixture() *fixture {
	f := &fixture{
		events:    memory.NewSwapEventStore(),
		snapshots: memory.NewSnapshotStore(),
		stats:     memory.NewStatsStore(),
	}
	f.agg = NewAggregator(AggregatorOptions{
		Events:    f.events,
		Snapshots: f.snapshots,
		Stats:     f.stats,
		Now:       func() time.Time { return testNow },
	})
	return f
}

func (f *fixture) addEvent(tx string, block int64, age time.Duration, notional, price int64) {
	f.events.Insert(context.Background(), &domain.SwapEvent{
		MarketID:    "gpu-h100",
		TxHash:      tx,
		BlockNumber: block,
		Timestamp:   testNow.Add(-age).UnixMilli(),
		NotionalUSD: decimal.NewFromInt(notional),
		AvgPrice:    decimal.NewFromInt(price),
	})
}

func (f *fixture) addSnapshot(age time.Duration, mark int64) {
	f.snapshots.Insert(context.Background(), &domain.PriceSnapshot{
		MarketID:  "gpu-h100",
		MarkPrice: decimal.NewFromInt(mark),
		Timestamp: testNow.Add(-age).UnixMilli(),
	})
}

func TestRefresh_WindowExcludesOldTrades(t *testing.T) {
	f := newFixture()
	f.addEvent("0xa", 100, 2*time.Hour, 100, 100)
	f.addEvent("0xb", 50, 30*time.Hour, 50, 90)

	if err := f.agg.Refresh(context.Background(), "gpu-h100", "timer"); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	row, err := f.stats.Get(context.Background(), "gpu-h100")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !row.Volume24hUSD.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Volume24hUSD = %s, want 100", row.Volume24hUSD)
	}
	if row.Trades24h != 1 {
		t.Errorf("Trades24h = %d, want 1", row.Trades24h)
	}
}

func TestRefresh_HighLowAndChange(t *testing.T) {
	f := newFixture()
	f.addEvent("0xa", 100, 10*time.Hour, 100, 95)
	f.addEvent("0xb", 110, 5*time.Hour, 200, 110)
	f.addEvent("0xc", 120, 1*time.Hour, 300, 105)
	f.addSnapshot(25*time.Hour, 100) // baseline before the window start
	f.addSnapshot(1*time.Minute, 105)

	if err := f.agg.Refresh(context.Background(), "gpu-h100", "timer"); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	row, _ := f.stats.Get(context.Background(), "gpu-h100")
	if !row.High24h.Equal(decimal.NewFromInt(110)) {
		t.Errorf("High24h = %s, want 110", row.High24h)
	}
	if !row.Low24h.Equal(decimal.NewFromInt(95)) {
		t.Errorf("Low24h = %s, want 95", row.Low24h)
	}
	if !row.CurrentPrice.Equal(decimal.NewFromInt(105)) {
		t.Errorf("CurrentPrice = %s, want 105 (latest snapshot)", row.CurrentPrice)
	}
	if !row.Price24hAgo.Valid || !row.Price24hAgo.Decimal.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Price24hAgo = %+v, want valid 100", row.Price24hAgo)
	}
	// (105 - 100) / 100 * 100 = 5%
	if !row.Change24hPercent.Valid || !row.Change24hPercent.Decimal.Equal(decimal.NewFromInt(5)) {
		t.Errorf("Change24hPercent = %+v, want valid 5", row.Change24hPercent)
	}
	if !row.Volume24hUSD.Equal(decimal.NewFromInt(600)) {
		t.Errorf("Volume24hUSD = %s, want 600", row.Volume24hUSD)
	}
}

func TestRefresh_NoBaselineSnapshotIsExplicit(t *testing.T) {
	f := newFixture()
	f.addEvent("0xa", 100, 2*time.Hour, 100, 100)
	f.addSnapshot(1*time.Minute, 102) // no snapshot at or before now-24h

	if err := f.agg.Refresh(context.Background(), "gpu-h100", "timer"); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	row, _ := f.stats.Get(context.Background(), "gpu-h100")
	if row.Price24hAgo.Valid {
		t.Errorf("Price24hAgo should be invalid, got %s", row.Price24hAgo.Decimal)
	}
	if row.Change24hPercent.Valid {
		t.Errorf("Change24hPercent should be invalid, got %s", row.Change24hPercent.Decimal)
	}
}

func TestRefresh_NoSnapshotsFallsBackToLastFill(t *testing.T) {
	f := newFixture()
	f.addEvent("0xa", 100, 2*time.Hour, 100, 100)
	f.addEvent("0xb", 110, 1*time.Hour, 100, 107)

	if err := f.agg.Refresh(context.Background(), "gpu-h100", "timer"); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	row, _ := f.stats.Get(context.Background(), "gpu-h100")
	if !row.CurrentPrice.Equal(decimal.NewFromInt(107)) {
		t.Errorf("CurrentPrice = %s, want 107 (latest fill)", row.CurrentPrice)
	}
}

func TestRefresh_EmptyWindowRetainsPreviousRow(t *testing.T) {
	f := newFixture()
	f.addEvent("0xa", 100, 2*time.Hour, 100, 100)

	if err := f.agg.Refresh(context.Background(), "gpu-h100", "timer"); err != nil {
		t.Fatalf("first Refresh failed: %v", err)
	}
	before, _ := f.stats.Get(context.Background(), "gpu-h100")

	// Re-aggregate with an empty window: advance the clock 48h.
	quiet := NewAggregator(AggregatorOptions{
		Events:    f.events,
		Snapshots: f.snapshots,
		Stats:     f.stats,
		Now:       func() time.Time { return testNow.Add(48 * time.Hour) },
	})
	if err := quiet.Refresh(context.Background(), "gpu-h100", "timer"); err != nil {
		t.Fatalf("quiet Refresh failed: %v", err)
	}

	after, err := f.stats.Get(context.Background(), "gpu-h100")
	if err != nil {
		t.Fatalf("Get after quiet refresh failed: %v", err)
	}
	if after.LastUpdated != before.LastUpdated || !after.Volume24hUSD.Equal(before.Volume24hUSD) {
		t.Errorf("stats row changed on empty window: %+v -> %+v", before, after)
	}
}

func TestRefresh_NeverAggregatedStaysNotFound(t *testing.T) {
	f := newFixture()

	if err := f.agg.Refresh(context.Background(), "gpu-h100", "timer"); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if _, err := f.stats.Get(context.Background(), "gpu-h100"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for never-traded market, got %v", err)
	}
}
