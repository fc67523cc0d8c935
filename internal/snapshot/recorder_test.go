package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"compute-perps-indexer/internal/chain/stub"
	"compute-perps-indexer/internal/domain"
	"compute-perps-indexer/internal/storage/memory"
)

const testContract = "0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"

func testMarket() *domain.Market {
	return &domain.Market{
		ID:              "gpu-h100",
		ContractAddress: testContract,
		GenesisBlock:    100,
		Active:          true,
	}
}

func TestRecord(t *testing.T) {
	source := stub.NewSource()
	snapshots := memory.NewSnapshotStore()

	source.SetHead(500)
	source.SetMarkPrice(testContract, decimal.NewFromInt(101))
	oracle := decimal.NewFromInt(100)
	source.SetOraclePrice(&oracle)

	now := time.UnixMilli(1_700_000_000_000)
	r := NewRecorder(RecorderOptions{
		Prices:    source,
		Source:    source,
		Snapshots: snapshots,
		Now:       func() time.Time { return now },
	})

	s, err := r.Record(context.Background(), testMarket())
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if s == nil {
		t.Fatal("expected a snapshot")
	}
	if !s.MarkPrice.Equal(decimal.NewFromInt(101)) {
		t.Errorf("MarkPrice = %s, want 101", s.MarkPrice)
	}
	if !s.OraclePrice.Valid || !s.OraclePrice.Decimal.Equal(decimal.NewFromInt(100)) {
		t.Errorf("OraclePrice = %+v, want valid 100", s.OraclePrice)
	}
	if s.BlockNumber != 500 {
		t.Errorf("BlockNumber = %d, want 500", s.BlockNumber)
	}
	if s.Timestamp != now.UnixMilli() {
		t.Errorf("Timestamp = %d, want %d", s.Timestamp, now.UnixMilli())
	}
	if snapshots.Count() != 1 {
		t.Errorf("stored %d snapshots, want 1", snapshots.Count())
	}
}

func TestRecord_SkipsWhenMarkPriceUnavailable(t *testing.T) {
	source := stub.NewSource() // no mark price scripted
	snapshots := memory.NewSnapshotStore()

	r := NewRecorder(RecorderOptions{
		Prices:    source,
		Source:    source,
		Snapshots: snapshots,
	})

	s, err := r.Record(context.Background(), testMarket())
	if err != nil {
		t.Fatalf("Record returned error, want silent skip: %v", err)
	}
	if s != nil {
		t.Errorf("expected nil snapshot, got %+v", s)
	}
	if snapshots.Count() != 0 {
		t.Errorf("stored %d snapshots, want 0", snapshots.Count())
	}
}

func TestRecord_OracleDownLeavesNull(t *testing.T) {
	source := stub.NewSource()
	snapshots := memory.NewSnapshotStore()

	source.SetMarkPrice(testContract, decimal.NewFromInt(101))
	source.SetOraclePrice(nil)

	r := NewRecorder(RecorderOptions{
		Prices:    source,
		Source:    source,
		Snapshots: snapshots,
	})

	s, err := r.Record(context.Background(), testMarket())
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if s == nil {
		t.Fatal("expected a snapshot despite oracle outage")
	}
	if s.OraclePrice.Valid {
		t.Errorf("OraclePrice should be invalid, got %s", s.OraclePrice.Decimal)
	}
}

func TestRecordAll_IsolatesFailures(t *testing.T) {
	source := stub.NewSource()
	snapshots := memory.NewSnapshotStore()

	broken := &domain.Market{
		ID:              "gpu-a100",
		ContractAddress: "0x90F79bf6EB2c4f870365E785982E1f101E93b906",
	}
	source.SetMarkPrice(testContract, decimal.NewFromInt(101))
	source.MarkPriceErr[broken.ContractAddress] = context.DeadlineExceeded

	r := NewRecorder(RecorderOptions{
		Prices:    source,
		Source:    source,
		Snapshots: snapshots,
	})

	r.RecordAll(context.Background(), []*domain.Market{broken, testMarket()})

	if snapshots.Count() != 1 {
		t.Errorf("stored %d snapshots, want 1 (healthy market only)", snapshots.Count())
	}
}
