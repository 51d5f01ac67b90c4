package usecase

import (
	"context"
	"time"

	"stock_ingest/internal/feature/bars/domain/entity"
)

// BarRepository is the persistence gateway consumed by the ingestion engine.
// Following Go convention: interfaces are defined by the consumer (usecase), not the provider (adapters).
type BarRepository interface {
	// LatestDate returns the most recent stored date for (symbol, market); ok is false when nothing is stored.
	LatestDate(ctx context.Context, symbol string, market entity.Market) (latest time.Time, ok bool, err error)
	// AppendBars stores bars atomically: either every bar of the call becomes visible or none does.
	// Bars whose key already exists are ignored. It returns the number of rows written.
	AppendBars(ctx context.Context, bars []entity.PriceBar) (int64, error)
}

// Skip reasons reported by the resolver.
const (
	SkipEmptyWindow = "empty window"
	SkipUpToDate    = "up to date"
	SkipWeekend     = "weekend"
)

// Resolution is the outcome of gap resolution for one symbol.
type Resolution struct {
	Range  entity.DateRange
	Skip   bool
	Reason string
}

// GapResolver derives the minimal range still missing for a symbol.
type GapResolver struct {
	bars BarRepository
}

// NewGapResolver creates a GapResolver reading latest dates from bars.
func NewGapResolver(bars BarRepository) *GapResolver {
	return &GapResolver{bars: bars}
}

// ResolveRange returns the effective range to fetch for (symbol, market) within the
// requested window, or a skip. Store failures are returned unchanged.
func (g *GapResolver) ResolveRange(ctx context.Context, symbol string, market entity.Market, start, end time.Time) (Resolution, error) {
	requested := entity.NewDateRange(start, end)
	if requested.Empty() {
		return Resolution{Range: requested, Skip: true, Reason: SkipEmptyWindow}, nil
	}

	latest, ok, err := g.bars.LatestDate(ctx, symbol, market)
	if err != nil {
		return Resolution{}, err
	}

	effective := requested
	if ok {
		// Resumes right after the latest stored day even when that precedes the
		// requested start, so a stored series never keeps an interior hole.
		effective.Start = entity.DateOf(latest).AddDate(0, 0, 1)
		if effective.Empty() {
			return Resolution{Range: effective, Skip: true, Reason: SkipUpToDate}, nil
		}
	}

	if weekendOnly(effective) {
		return Resolution{Range: effective, Skip: true, Reason: SkipWeekend}, nil
	}
	return Resolution{Range: effective}, nil
}

// weekendOnly reports a window that starts on a Friday and ends on the
// Saturday or Sunday right after it. A Friday bar is not published before
// the next session closes, so such a fetch returns nothing new. Holidays
// are not considered.
func weekendOnly(r entity.DateRange) bool {
	if r.Start.Weekday() != time.Friday {
		return false
	}
	switch r.End.Weekday() {
	case time.Saturday, time.Sunday:
		return r.End.Sub(r.Start) <= 2*24*time.Hour
	default:
		return false
	}
}
