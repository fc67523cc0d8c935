package domain

import "github.com/shopspring/decimal"

// PriceSnapshot is a timestamped recording of a market's prices.
// Append-only fact: created by the snapshot recorder (and once eagerly
// at startup per market). Corresponds to price_snapshots table.
type PriceSnapshot struct {
	MarketID    string
	MarkPrice   decimal.Decimal
	OraclePrice decimal.NullDecimal // invalid when the reference feed was unavailable
	BlockNumber int64
	Timestamp   int64 // wall clock, Unix milliseconds
}
