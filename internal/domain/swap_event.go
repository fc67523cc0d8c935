package domain

import "github.com/shopspring/decimal"

// SwapEvent is a single trade against a market's AMM contract.
// Append-only fact: created by backfill or the live watcher, never
// updated or deleted. Corresponds to swap_events table in PostgreSQL.
// Natural key: (market_id, tx_hash, block_number, log_index).
type SwapEvent struct {
	MarketID    string
	TxHash      string          // transaction hash (0x-prefixed hex)
	LogIndex    int             // index of the log within the block
	BlockNumber int64
	Timestamp   int64           // block time, Unix milliseconds
	Trader      string          // trader address (0x-prefixed hex)
	BaseDelta   decimal.Decimal // signed change in base position
	QuoteDelta  decimal.Decimal // signed change in quote balance
	AvgPrice    decimal.Decimal // execution price, > 0
	NotionalUSD decimal.Decimal // |QuoteDelta|
	IsLong      bool            // BaseDelta > 0
	CreatedAt   int64           // record creation timestamp (ms)
}
