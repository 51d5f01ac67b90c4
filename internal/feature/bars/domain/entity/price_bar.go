// Package entity defines the domain models for the bars feature.
package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceBar is one trading day's OHLCV observation for a symbol on a market.
// (Symbol, Market, Date) identifies a bar in the store.
type PriceBar struct {
	Symbol string    // Ticker as listed in the market's universe (e.g. "AAPL", "SAP.DE")
	Market Market    // Market the bar was ingested for
	Date   time.Time // Trading day, UTC midnight
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume int64 // Traded volume, never negative
}

// Key returns the store key of the bar.
func (b PriceBar) Key() BarKey {
	return BarKey{Symbol: b.Symbol, Market: b.Market, Date: DateOf(b.Date)}
}

// BarKey is the unique key of a persisted bar.
type BarKey struct {
	Symbol string
	Market Market
	Date   time.Time
}
