// Package chain reads swap logs and prices from an EVM node. The node
// is an injected capability: everything here may fail transiently and
// callers must treat failures as retryable, never fatal.
package chain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrPriceUnavailable is returned when a price feed cannot produce a
// usable value (node error, missing feed, or zero mark price).
var ErrPriceUnavailable = errors.New("price unavailable")

// LogSource provides historical and live swap logs plus chain head.
type LogSource interface {
	// FilterSwapLogs returns decoded swap logs emitted by the contract
	// within [fromBlock, toBlock]. Malformed logs are skipped, not
	// returned as errors. Order is not guaranteed.
	FilterSwapLogs(ctx context.Context, contract string, fromBlock, toBlock int64) ([]*SwapLog, error)

	// BlockNumber returns the current chain head.
	BlockNumber(ctx context.Context) (int64, error)

	// SubscribeSwapLogs opens a live subscription for swap logs emitted
	// by the contract. The returned channel is closed when ctx is
	// cancelled. Reconnects are handled internally.
	SubscribeSwapLogs(ctx context.Context, contract string) (<-chan *SwapLog, error)
}

// PriceReader reads current prices for snapshotting.
type PriceReader interface {
	// MarkPrice reads the contract's current mark price.
	// Returns ErrPriceUnavailable when no usable price exists.
	MarkPrice(ctx context.Context, contract string) (decimal.Decimal, error)

	// OraclePrice reads the shared reference (oracle) price.
	// Returns ErrPriceUnavailable when the feed is not configured or down.
	OraclePrice(ctx context.Context) (decimal.Decimal, error)
}

// SwapLog is one decoded swap record as read from the chain. Amounts
// are already descaled from the on-chain 10^18 fixed point.
type SwapLog struct {
	TxHash      string
	LogIndex    int
	BlockNumber int64
	Timestamp   int64 // block time, Unix milliseconds
	Contract    string
	Sender      string
	BaseDelta   decimal.Decimal // signed
	QuoteDelta  decimal.Decimal // signed
	AvgPrice    decimal.Decimal // > 0
}
