package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"stock_ingest/internal/feature/bars/domain/entity"
)

// MarketAdapter fetches raw daily rows for a symbol in the market's native column layout.
// A window with nothing upstream returns an empty frame and a nil error.
type MarketAdapter interface {
	Fetch(ctx context.Context, symbol string, market entity.Market, start, end time.Time) (entity.RawFrame, error)
}

// MarketRegistry dispatches fetches to the adapter registered for a market.
// Fetch returns ErrCapabilityNotSupported for markets without an adapter.
type MarketRegistry interface {
	MarketAdapter
	Supports(market entity.Market) bool
}

// UniverseLoader reads the ordered symbol list of a market.
type UniverseLoader interface {
	LoadSymbols(ctx context.Context, market entity.Market) ([]string, error)
}

// MarketGuard keeps cycles of the same market from overlapping.
// Acquire returns ErrCycleInProgress while another holder exists.
type MarketGuard interface {
	Acquire(ctx context.Context, market entity.Market) (release func(), err error)
}

// Pacer blocks for the configured delay between upstream fetches.
type Pacer interface {
	Wait(ctx context.Context) error
}

// CycleRecorder receives per-symbol and per-cycle observations.
type CycleRecorder interface {
	RecordSymbol(market entity.Market, status SymbolStatus)
	RecordBars(market entity.Market, n int64)
	RecordCycle(market entity.Market, s CycleSummary)
}

// BarsAppended is published after bars of one symbol were persisted.
type BarsAppended struct {
	Symbol  string        `json:"symbol"`
	Market  entity.Market `json:"market"`
	From    string        `json:"from"`
	To      string        `json:"to"`
	Count   int64         `json:"count"`
	AddedAt time.Time     `json:"added_at"`
}

// BarEventPublisher announces appended bars to downstream consumers.
type BarEventPublisher interface {
	PublishAppended(ctx context.Context, ev BarsAppended) error
}

// BarArchiver keeps a file snapshot of appended bars.
type BarArchiver interface {
	Archive(ctx context.Context, symbol string, market entity.Market, bars []entity.PriceBar) error
}

// SymbolStatus is the terminal state of one symbol within a cycle.
type SymbolStatus string

const (
	StatusPersisted SymbolStatus = "persisted"
	StatusSkipped   SymbolStatus = "skipped"
	StatusFailed    SymbolStatus = "failed"
)

// Skip reasons set by the orchestrator.
const (
	SkipNoData       = "no data"
	SkipNotSupported = "capability not supported"
	SkipOutsideRange = "no bars in range"
)

// SymbolOutcome is the result of one symbol's pipeline run.
type SymbolOutcome struct {
	Symbol string       `json:"symbol"`
	Status SymbolStatus `json:"status"`
	Reason string       `json:"reason,omitempty"`
	Range  string       `json:"range,omitempty"`
	Bars   int64        `json:"bars"`
	Err    error        `json:"-"`
}

// CycleSummary aggregates the outcomes of one cycle.
type CycleSummary struct {
	Market      entity.Market   `json:"market"`
	Window      string          `json:"window"`
	StartedAt   time.Time       `json:"started_at"`
	Duration    time.Duration   `json:"duration"`
	Persisted   int             `json:"persisted"`
	Skipped     int             `json:"skipped"`
	Failed      int             `json:"failed"`
	BarsWritten int64           `json:"bars_written"`
	Outcomes    []SymbolOutcome `json:"outcomes"`
}

func (s *CycleSummary) add(o SymbolOutcome) {
	switch o.Status {
	case StatusPersisted:
		s.Persisted++
		s.BarsWritten += o.Bars
	case StatusSkipped:
		s.Skipped++
	case StatusFailed:
		s.Failed++
	}
	s.Outcomes = append(s.Outcomes, o)
}

// IngestOptions tunes the orchestrator's timeouts.
type IngestOptions struct {
	FetchTimeout time.Duration
	StoreTimeout time.Duration
}

// IngestUsecase drives the resolve, fetch, normalize and persist chain for every symbol of a market.
type IngestUsecase struct {
	universe   UniverseLoader
	resolver   *GapResolver
	markets    MarketRegistry
	normalizer *Normalizer
	bars       BarRepository
	guard      MarketGuard
	pacer      Pacer
	opts       IngestOptions

	recorder  CycleRecorder
	publisher BarEventPublisher
	archiver  BarArchiver

	mu   sync.RWMutex
	last map[entity.Market]CycleSummary

	now func() time.Time
}

// NewIngestUsecase creates a new IngestUsecase. StoreTimeout also bounds the
// guard acquisition and the universe load. Zero timeouts disable the bound.
func NewIngestUsecase(
	universe UniverseLoader,
	markets MarketRegistry,
	normalizer *Normalizer,
	bars BarRepository,
	guard MarketGuard,
	pacer Pacer,
	opts IngestOptions,
) *IngestUsecase {
	return &IngestUsecase{
		universe:   universe,
		resolver:   NewGapResolver(bars),
		markets:    markets,
		normalizer: normalizer,
		bars:       bars,
		guard:      guard,
		pacer:      pacer,
		opts:       opts,
		last:       make(map[entity.Market]CycleSummary),
		now:        time.Now,
	}
}

// WithRecorder sets the metrics recorder.
func (uc *IngestUsecase) WithRecorder(r CycleRecorder) *IngestUsecase {
	uc.recorder = r
	return uc
}

// WithPublisher sets the event publisher notified after each successful append.
func (uc *IngestUsecase) WithPublisher(p BarEventPublisher) *IngestUsecase {
	uc.publisher = p
	return uc
}

// WithArchiver sets the archiver called after each successful append.
func (uc *IngestUsecase) WithArchiver(a BarArchiver) *IngestUsecase {
	uc.archiver = a
	return uc
}

// LastSummary returns the summary of the most recent completed cycle of market.
func (uc *IngestUsecase) LastSummary(market entity.Market) (CycleSummary, bool) {
	uc.mu.RLock()
	defer uc.mu.RUnlock()
	s, ok := uc.last[market]
	return s, ok
}

// RunCycle ingests every symbol of market for the requested window [start, end].
// Per-symbol failures are recorded in the summary and never returned; only a
// universe load failure or an in-flight cycle of the same market is.
func (uc *IngestUsecase) RunCycle(ctx context.Context, market entity.Market, start, end time.Time) (CycleSummary, error) {
	window := entity.NewDateRange(start, end)
	summary := CycleSummary{Market: market, Window: window.String(), StartedAt: uc.now()}

	var release func()
	err := uc.withTimeout(ctx, uc.opts.StoreTimeout, func(ctx context.Context) error {
		var err error
		release, err = uc.guard.Acquire(ctx, market)
		return err
	})
	if err != nil {
		slog.Warn("cycle not started", "market", market, "error", err)
		return summary, err
	}
	defer release()

	var symbols []string
	err = uc.withTimeout(ctx, uc.opts.StoreTimeout, func(ctx context.Context) error {
		var err error
		symbols, err = uc.universe.LoadSymbols(ctx, market)
		return err
	})
	if err != nil {
		slog.Error("failed to load symbol universe", "market", market, "error", err)
		return summary, fmt.Errorf("%w: market %s: %v", ErrUniverseLoad, market, err)
	}
	if len(symbols) == 0 {
		slog.Error("symbol universe is empty", "market", market)
		return summary, fmt.Errorf("%w: market %s: no symbols", ErrUniverseLoad, market)
	}

	slog.Info("cycle started", "market", market, "window", window.String(), "symbols", len(symbols))

	supported := uc.markets.Supports(market)
	fetches := 0
	for _, symbol := range symbols {
		var o SymbolOutcome
		if !supported {
			o = SymbolOutcome{Symbol: symbol, Status: StatusSkipped, Reason: SkipNotSupported}
		} else {
			o = uc.ingestSymbol(ctx, symbol, market, window, &fetches)
		}
		logOutcome(market, o)
		if uc.recorder != nil {
			uc.recorder.RecordSymbol(market, o.Status)
			if o.Bars > 0 {
				uc.recorder.RecordBars(market, o.Bars)
			}
		}
		summary.add(o)
	}
	summary.Duration = uc.now().Sub(summary.StartedAt)

	slog.Info("cycle finished",
		"market", market,
		"window", summary.Window,
		"persisted", summary.Persisted,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"bars", summary.BarsWritten,
		"duration", summary.Duration,
	)
	if uc.recorder != nil {
		uc.recorder.RecordCycle(market, summary)
	}

	uc.mu.Lock()
	uc.last[market] = summary
	uc.mu.Unlock()
	return summary, nil
}

// ingestSymbol runs one symbol through the pipeline. fetches counts upstream
// calls already made this cycle; the pacing delay precedes every call but the first.
func (uc *IngestUsecase) ingestSymbol(ctx context.Context, symbol string, market entity.Market, window entity.DateRange, fetches *int) SymbolOutcome {
	out := SymbolOutcome{Symbol: symbol}
	fail := func(err error) SymbolOutcome {
		out.Status = StatusFailed
		out.Err = err
		out.Reason = err.Error()
		return out
	}
	skip := func(reason string) SymbolOutcome {
		out.Status = StatusSkipped
		out.Reason = reason
		return out
	}

	var res Resolution
	err := uc.withTimeout(ctx, uc.opts.StoreTimeout, func(ctx context.Context) error {
		var err error
		res, err = uc.resolver.ResolveRange(ctx, symbol, market, window.Start, window.End)
		return err
	})
	if err != nil {
		return fail(transient("resolve range", err))
	}
	out.Range = res.Range.String()
	if res.Skip {
		return skip(res.Reason)
	}

	if *fetches > 0 {
		if err := uc.pacer.Wait(ctx); err != nil {
			return fail(transient("pacing", err))
		}
	}
	*fetches++

	var frame entity.RawFrame
	err = uc.withTimeout(ctx, uc.opts.FetchTimeout, func(ctx context.Context) error {
		var err error
		frame, err = uc.markets.Fetch(ctx, symbol, market, res.Range.Start, res.Range.End)
		return err
	})
	if errors.Is(err, ErrCapabilityNotSupported) {
		return skip(SkipNotSupported)
	}
	if err != nil {
		return fail(transient("fetch", err))
	}
	if frame.Len() == 0 {
		return skip(SkipNoData)
	}

	bars, err := uc.normalizer.Normalize(frame, market, symbol)
	if err != nil {
		return fail(transient("normalize", err))
	}

	// Upstreams may pad the window; only dates inside the effective range are appended.
	inRange := bars[:0]
	for _, b := range bars {
		if res.Range.Contains(b.Date) {
			inRange = append(inRange, b)
		}
	}
	if len(inRange) == 0 {
		return skip(SkipOutsideRange)
	}

	var n int64
	err = uc.withTimeout(ctx, uc.opts.StoreTimeout, func(ctx context.Context) error {
		var err error
		n, err = uc.bars.AppendBars(ctx, inRange)
		return err
	})
	if err != nil {
		return fail(transient("append bars", err))
	}

	out.Status = StatusPersisted
	out.Bars = n
	uc.afterAppend(ctx, symbol, market, inRange, n)
	return out
}

// afterAppend runs the optional side effects of a successful append. Their
// failures are logged and do not change the symbol's outcome.
func (uc *IngestUsecase) afterAppend(ctx context.Context, symbol string, market entity.Market, bars []entity.PriceBar, n int64) {
	if uc.publisher != nil {
		ev := BarsAppended{
			Symbol:  symbol,
			Market:  market,
			From:    bars[0].Date.Format(entity.DateLayout),
			To:      bars[len(bars)-1].Date.Format(entity.DateLayout),
			Count:   n,
			AddedAt: uc.now().UTC(),
		}
		if err := uc.publisher.PublishAppended(ctx, ev); err != nil {
			slog.Warn("failed to publish bars appended event", "symbol", symbol, "market", market, "error", err)
		}
	}
	if uc.archiver != nil {
		if err := uc.archiver.Archive(ctx, symbol, market, bars); err != nil {
			slog.Warn("failed to archive bars", "symbol", symbol, "market", market, "error", err)
		}
	}
}

func (uc *IngestUsecase) withTimeout(ctx context.Context, d time.Duration, fn func(ctx context.Context) error) error {
	if d <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return fn(ctx)
}

func logOutcome(market entity.Market, o SymbolOutcome) {
	attrs := []any{"market", market, "symbol", o.Symbol, "status", o.Status}
	if o.Range != "" {
		attrs = append(attrs, "range", o.Range)
	}
	switch o.Status {
	case StatusPersisted:
		slog.Info("symbol ingested", append(attrs, "bars", o.Bars)...)
	case StatusSkipped:
		slog.Info("symbol skipped", append(attrs, "reason", o.Reason)...)
	default:
		var se *SchemaError
		if errors.As(o.Err, &se) {
			slog.Error("schema drift detected", append(attrs, "column", se.Column, "error", o.Err)...)
			return
		}
		slog.Error("failed to ingest symbol", append(attrs, "error", o.Err)...)
	}
}
