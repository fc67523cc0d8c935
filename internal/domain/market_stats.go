package domain

import "github.com/shopspring/decimal"

// MarketStats24h is the derived trailing-24h summary for one market,
// recomputable at any time from swap_events + price_snapshots. One row
// per market, upserted only by the stats aggregator. It may be stale by
// up to one aggregation interval.
//
// Price24hAgo and Change24hPercent are invalid (NULL) when no snapshot
// at or before the window start exists yet. Insufficient history is an
// explicit state, not an approximation.
type MarketStats24h struct {
	MarketID         string              `json:"marketId"`
	CurrentPrice     decimal.Decimal     `json:"currentPrice"`
	Price24hAgo      decimal.NullDecimal `json:"price24hAgo"`
	Change24hPercent decimal.NullDecimal `json:"change24hPercent"`
	Volume24hUSD     decimal.Decimal     `json:"volume24hUsd"`
	Trades24h        int64               `json:"trades24h"`
	High24h          decimal.Decimal     `json:"high24h"`
	Low24h           decimal.Decimal     `json:"low24h"`
	LastUpdated      int64               `json:"lastUpdated"` // Unix milliseconds
}
