package adapters

import (
	"context"
	"fmt"
	"sort"
	"time"

	"stock_ingest/internal/feature/bars/domain/entity"
	"stock_ingest/internal/feature/bars/usecase"
)

// MarketRegistry routes fetches to the adapter registered for each market.
type MarketRegistry struct {
	adapters map[entity.Market]usecase.MarketAdapter
}

var _ usecase.MarketRegistry = (*MarketRegistry)(nil)

// NewMarketRegistry returns an empty registry.
func NewMarketRegistry() *MarketRegistry {
	return &MarketRegistry{adapters: make(map[entity.Market]usecase.MarketAdapter)}
}

// Register binds an adapter to market, replacing any previous one.
func (r *MarketRegistry) Register(market entity.Market, a usecase.MarketAdapter) {
	r.adapters[market] = a
}

// Supports reports whether market has an adapter.
func (r *MarketRegistry) Supports(market entity.Market) bool {
	_, ok := r.adapters[market]
	return ok
}

// Markets lists the registered markets in name order.
func (r *MarketRegistry) Markets() []entity.Market {
	out := make([]entity.Market, 0, len(r.adapters))
	for m := range r.adapters {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Fetch delegates to the market's adapter.
func (r *MarketRegistry) Fetch(ctx context.Context, symbol string, market entity.Market, start, end time.Time) (entity.RawFrame, error) {
	a, ok := r.adapters[market]
	if !ok {
		return entity.RawFrame{}, fmt.Errorf("%w: %s", usecase.ErrCapabilityNotSupported, market)
	}
	return a.Fetch(ctx, symbol, market, start, end)
}
