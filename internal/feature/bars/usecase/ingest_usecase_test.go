package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stock_ingest/internal/feature/bars/domain/entity"
)

var ErrMarketAPI = errors.New("market API error")

// mockUniverse is a mock implementation of the UniverseLoader interface.
type mockUniverse struct {
	LoadSymbolsFunc func(ctx context.Context, market entity.Market) ([]string, error)
}

func (m *mockUniverse) LoadSymbols(ctx context.Context, market entity.Market) ([]string, error) {
	if m.LoadSymbolsFunc != nil {
		return m.LoadSymbolsFunc(ctx, market)
	}
	return nil, errors.New("LoadSymbolsFunc is not implemented")
}

func universeOf(symbols ...string) *mockUniverse {
	return &mockUniverse{LoadSymbolsFunc: func(context.Context, entity.Market) ([]string, error) {
		return symbols, nil
	}}
}

// mockRegistry is a mock implementation of the MarketRegistry interface.
type mockRegistry struct {
	FetchFunc  func(ctx context.Context, symbol string, market entity.Market, start, end time.Time) (entity.RawFrame, error)
	markets    map[entity.Market]bool
	FetchCalls []string
}

func (m *mockRegistry) Fetch(ctx context.Context, symbol string, market entity.Market, start, end time.Time) (entity.RawFrame, error) {
	m.FetchCalls = append(m.FetchCalls, symbol)
	if !m.markets[market] {
		return entity.RawFrame{}, ErrCapabilityNotSupported
	}
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, symbol, market, start, end)
	}
	return entity.RawFrame{}, errors.New("FetchFunc is not implemented")
}

func (m *mockRegistry) Supports(market entity.Market) bool {
	return m.markets[market]
}

// mockPacer is a mock implementation of the Pacer interface.
type mockPacer struct {
	WaitCalls int
}

func (m *mockPacer) Wait(ctx context.Context) error {
	m.WaitCalls++
	// For testing purposes, return immediately without waiting
	return ctx.Err()
}

// localGuard is a minimal in-process MarketGuard.
type localGuard struct {
	mu   sync.Mutex
	held map[entity.Market]bool
}

func (g *localGuard) Acquire(_ context.Context, market entity.Market) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held == nil {
		g.held = make(map[entity.Market]bool)
	}
	if g.held[market] {
		return nil, ErrCycleInProgress
	}
	g.held[market] = true
	return func() {
		g.mu.Lock()
		delete(g.held, market)
		g.mu.Unlock()
	}, nil
}

// memoryStore is an in-memory BarRepository that ignores exact-key conflicts.
type memoryStore struct {
	mu   sync.Mutex
	bars map[entity.BarKey]entity.PriceBar
}

func newMemoryStore() *memoryStore {
	return &memoryStore{bars: make(map[entity.BarKey]entity.PriceBar)}
}

func (s *memoryStore) LatestDate(_ context.Context, symbol string, market entity.Market) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest time.Time
	found := false
	for k := range s.bars {
		if k.Symbol == symbol && k.Market == market && (!found || k.Date.After(latest)) {
			latest, found = k.Date, true
		}
	}
	return latest, found, nil
}

func (s *memoryStore) AppendBars(_ context.Context, bars []entity.PriceBar) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, b := range bars {
		if _, ok := s.bars[b.Key()]; ok {
			continue
		}
		s.bars[b.Key()] = b
		n++
	}
	return n, nil
}

func (s *memoryStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bars)
}

// mockRecorder is a mock implementation of the CycleRecorder interface.
type mockRecorder struct {
	symbols map[SymbolStatus]int
	bars    int64
	cycles  int
}

func (m *mockRecorder) RecordSymbol(_ entity.Market, status SymbolStatus) {
	if m.symbols == nil {
		m.symbols = make(map[SymbolStatus]int)
	}
	m.symbols[status]++
}

func (m *mockRecorder) RecordBars(_ entity.Market, n int64) { m.bars += n }

func (m *mockRecorder) RecordCycle(entity.Market, CycleSummary) { m.cycles++ }

type mockPublisher struct {
	events []BarsAppended
	err    error
}

func (m *mockPublisher) PublishAppended(_ context.Context, ev BarsAppended) error {
	m.events = append(m.events, ev)
	return m.err
}

type mockArchiver struct {
	archived map[string]int
	err      error
}

func (m *mockArchiver) Archive(_ context.Context, symbol string, _ entity.Market, bars []entity.PriceBar) error {
	if m.archived == nil {
		m.archived = make(map[string]int)
	}
	m.archived[symbol] += len(bars)
	return m.err
}

// dailyFrame returns one yahoo-style row per calendar day in [start, end].
func dailyFrame(start, end time.Time) entity.RawFrame {
	f := entity.RawFrame{Columns: []string{"Date", "Open", "High", "Low", "Close", "Adj Close", "Volume"}}
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		f.Rows = append(f.Rows, []string{d.Format(entity.DateLayout), "10", "11", "9", "10.5", "10.4", "1000"})
	}
	return f
}

func newTestUsecase(universe UniverseLoader, registry MarketRegistry, repo BarRepository, pacer Pacer) *IngestUsecase {
	return NewIngestUsecase(universe, registry, NewNormalizer(testMappings()), repo, &localGuard{}, pacer, IngestOptions{})
}

func TestIngestUsecase_RunCycle_TimeoutIsolatedPerSymbol(t *testing.T) {
	ctx := context.Background()
	start, end := day(2020, 1, 1), day(2020, 1, 10)

	registry := &mockRegistry{
		markets: map[entity.Market]bool{entity.MarketUSA: true},
		FetchFunc: func(ctx context.Context, symbol string, _ entity.Market, s, e time.Time) (entity.RawFrame, error) {
			if !s.Equal(start) || !e.Equal(end) {
				t.Errorf("Fetch called with unexpected range: %s..%s", s, e)
			}
			if symbol == "AAA" {
				<-ctx.Done()
				return entity.RawFrame{}, ctx.Err()
			}
			return dailyFrame(day(2020, 1, 6), day(2020, 1, 10)), nil
		},
	}
	store := newMemoryStore()
	pacer := &mockPacer{}
	uc := NewIngestUsecase(universeOf("AAA", "BBB"), registry, NewNormalizer(testMappings()), store, &localGuard{}, pacer,
		IngestOptions{FetchTimeout: 20 * time.Millisecond, StoreTimeout: time.Second})

	summary, err := uc.RunCycle(ctx, entity.MarketUSA, start, end)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Persisted)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 0, summary.Skipped)
	assert.Equal(t, int64(5), summary.BarsWritten)
	assert.Equal(t, []string{"AAA", "BBB"}, registry.FetchCalls)
	assert.Equal(t, 1, pacer.WaitCalls, "pacing precedes every fetch but the first")
	assert.Equal(t, 5, store.count())

	require.Len(t, summary.Outcomes, 2)
	assert.Equal(t, StatusFailed, summary.Outcomes[0].Status)
	assert.ErrorIs(t, summary.Outcomes[0].Err, ErrTransient)
	assert.ErrorIs(t, summary.Outcomes[0].Err, context.DeadlineExceeded)
	assert.Equal(t, StatusPersisted, summary.Outcomes[1].Status)
}

func TestIngestUsecase_RunCycle_Idempotent(t *testing.T) {
	ctx := context.Background()
	start, end := day(2024, 1, 1), day(2024, 1, 10)

	registry := &mockRegistry{
		markets: map[entity.Market]bool{entity.MarketUSA: true},
		FetchFunc: func(_ context.Context, _ string, _ entity.Market, s, e time.Time) (entity.RawFrame, error) {
			// Upstream always has data up to the 10th only.
			if e.After(end) {
				e = end
			}
			if s.After(e) {
				return entity.RawFrame{}, nil
			}
			return dailyFrame(s, e), nil
		},
	}
	store := newMemoryStore()
	uc := newTestUsecase(universeOf("AAA", "BBB"), registry, store, &mockPacer{})

	first, err := uc.RunCycle(ctx, entity.MarketUSA, start, end)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Persisted)
	assert.Equal(t, int64(20), first.BarsWritten)

	second, err := uc.RunCycle(ctx, entity.MarketUSA, start, end)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Persisted)
	assert.Equal(t, 2, second.Skipped)
	assert.Equal(t, int64(0), second.BarsWritten)
	assert.Equal(t, 20, store.count())
	assert.Len(t, registry.FetchCalls, 2, "up-to-date symbols are not fetched")
}

func TestIngestUsecase_RunCycle_OnlyMissingRangeIsFetched(t *testing.T) {
	ctx := context.Background()

	store := newMemoryStore()
	_, err := store.AppendBars(ctx, []entity.PriceBar{{Symbol: "AAA", Market: entity.MarketUSA, Date: day(2024, 1, 8)}})
	require.NoError(t, err)

	var gotStart, gotEnd time.Time
	registry := &mockRegistry{
		markets: map[entity.Market]bool{entity.MarketUSA: true},
		FetchFunc: func(_ context.Context, _ string, _ entity.Market, s, e time.Time) (entity.RawFrame, error) {
			gotStart, gotEnd = s, e
			// Upstream pads the window with a day already stored.
			return dailyFrame(day(2024, 1, 8), e), nil
		},
	}
	uc := newTestUsecase(universeOf("AAA"), registry, store, &mockPacer{})

	summary, err := uc.RunCycle(ctx, entity.MarketUSA, day(2020, 1, 1), day(2024, 1, 10))
	require.NoError(t, err)

	assert.Equal(t, day(2024, 1, 9), gotStart)
	assert.Equal(t, day(2024, 1, 10), gotEnd)
	assert.Equal(t, int64(2), summary.BarsWritten)
	assert.Equal(t, "2024-01-09..2024-01-10", summary.Outcomes[0].Range)
}

func TestIngestUsecase_RunCycle_Skips(t *testing.T) {
	ctx := context.Background()

	t.Run("weekend window is not fetched", func(t *testing.T) {
		store := newMemoryStore()
		_, err := store.AppendBars(ctx, []entity.PriceBar{{Symbol: "AAA", Market: entity.MarketUSA, Date: day(2024, 1, 4)}})
		require.NoError(t, err)
		registry := &mockRegistry{markets: map[entity.Market]bool{entity.MarketUSA: true}}
		uc := newTestUsecase(universeOf("AAA"), registry, store, &mockPacer{})

		summary, err := uc.RunCycle(ctx, entity.MarketUSA, day(2020, 1, 1), day(2024, 1, 7))
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Skipped)
		assert.Equal(t, SkipWeekend, summary.Outcomes[0].Reason)
		assert.Empty(t, registry.FetchCalls)
	})

	t.Run("market without adapter skips every symbol", func(t *testing.T) {
		registry := &mockRegistry{markets: map[entity.Market]bool{entity.MarketUSA: true}}
		pacer := &mockPacer{}
		uc := newTestUsecase(universeOf("7203", "6758"), registry, newMemoryStore(), pacer)

		summary, err := uc.RunCycle(ctx, entity.MarketJapan, day(2024, 1, 1), day(2024, 1, 10))
		require.NoError(t, err)
		assert.Equal(t, 2, summary.Skipped)
		assert.Equal(t, 0, summary.Failed)
		for _, o := range summary.Outcomes {
			assert.Equal(t, SkipNotSupported, o.Reason)
		}
		assert.Empty(t, registry.FetchCalls)
		assert.Equal(t, 0, pacer.WaitCalls)
	})

	t.Run("empty fetch is skipped", func(t *testing.T) {
		registry := &mockRegistry{
			markets: map[entity.Market]bool{entity.MarketUSA: true},
			FetchFunc: func(context.Context, string, entity.Market, time.Time, time.Time) (entity.RawFrame, error) {
				return entity.RawFrame{}, nil
			},
		}
		store := newMemoryStore()
		uc := newTestUsecase(universeOf("AAA"), registry, store, &mockPacer{})

		summary, err := uc.RunCycle(ctx, entity.MarketUSA, day(2024, 1, 1), day(2024, 1, 10))
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Skipped)
		assert.Equal(t, SkipNoData, summary.Outcomes[0].Reason)
		assert.Equal(t, 0, store.count())
	})

	t.Run("bars outside the window are skipped", func(t *testing.T) {
		registry := &mockRegistry{
			markets: map[entity.Market]bool{entity.MarketUSA: true},
			FetchFunc: func(context.Context, string, entity.Market, time.Time, time.Time) (entity.RawFrame, error) {
				return dailyFrame(day(2023, 12, 1), day(2023, 12, 3)), nil
			},
		}
		uc := newTestUsecase(universeOf("AAA"), registry, newMemoryStore(), &mockPacer{})

		summary, err := uc.RunCycle(ctx, entity.MarketUSA, day(2024, 1, 1), day(2024, 1, 10))
		require.NoError(t, err)
		assert.Equal(t, SkipOutsideRange, summary.Outcomes[0].Reason)
	})
}

func TestIngestUsecase_RunCycle_Failures(t *testing.T) {
	ctx := context.Background()

	testCases := []struct {
		name      string
		fetch     func(ctx context.Context, symbol string, market entity.Market, start, end time.Time) (entity.RawFrame, error)
		latest    func(ctx context.Context, symbol string, market entity.Market) (time.Time, bool, error)
		appendFn  func(ctx context.Context, bars []entity.PriceBar) (int64, error)
		wantIs    error
		wantCalls int
	}{
		{
			name: "upstream error",
			fetch: func(context.Context, string, entity.Market, time.Time, time.Time) (entity.RawFrame, error) {
				return entity.RawFrame{}, ErrMarketAPI
			},
			wantIs: ErrTransient,
		},
		{
			name: "schema drift",
			fetch: func(context.Context, string, entity.Market, time.Time, time.Time) (entity.RawFrame, error) {
				return entity.RawFrame{Columns: []string{"Date", "Open"}, Rows: [][]string{{"2024-01-02", "1"}}}, nil
			},
			wantIs: ErrSchema,
		},
		{
			name: "malformed row",
			fetch: func(context.Context, string, entity.Market, time.Time, time.Time) (entity.RawFrame, error) {
				f := dailyFrame(day(2024, 1, 2), day(2024, 1, 2))
				f.Rows[0][1] = "n/a"
				return f, nil
			},
			wantIs: ErrMalformedRow,
		},
		{
			name: "latest date lookup error",
			latest: func(context.Context, string, entity.Market) (time.Time, bool, error) {
				return time.Time{}, false, ErrDB
			},
			wantIs: ErrTransient,
		},
		{
			name: "append error",
			fetch: func(context.Context, string, entity.Market, time.Time, time.Time) (entity.RawFrame, error) {
				return dailyFrame(day(2024, 1, 2), day(2024, 1, 3)), nil
			},
			appendFn: func(context.Context, []entity.PriceBar) (int64, error) {
				return 0, ErrDB
			},
			wantIs: ErrDB,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			registry := &mockRegistry{markets: map[entity.Market]bool{entity.MarketUSA: true}, FetchFunc: tc.fetch}
			repo := &mockBarRepository{LatestDateFunc: tc.latest, AppendBarsFunc: tc.appendFn}
			uc := newTestUsecase(universeOf("AAA", "BBB"), registry, repo, &mockPacer{})

			summary, err := uc.RunCycle(ctx, entity.MarketUSA, day(2024, 1, 1), day(2024, 1, 10))
			require.NoError(t, err, "per-symbol failures never abort the cycle")

			assert.Equal(t, 2, summary.Failed)
			for _, o := range summary.Outcomes {
				assert.Equal(t, StatusFailed, o.Status)
				assert.ErrorIs(t, o.Err, tc.wantIs)
				assert.NotEmpty(t, o.Reason)
			}
		})
	}
}

func TestIngestUsecase_RunCycle_UniverseLoadError(t *testing.T) {
	ctx := context.Background()

	testCases := []struct {
		name     string
		universe *mockUniverse
	}{
		{
			name: "unreadable",
			universe: &mockUniverse{LoadSymbolsFunc: func(context.Context, entity.Market) ([]string, error) {
				return nil, errors.New("open resources/stock_list/usa: no such file or directory")
			}},
		},
		{
			name:     "empty",
			universe: universeOf(),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			registry := &mockRegistry{markets: map[entity.Market]bool{entity.MarketUSA: true}}
			uc := newTestUsecase(tc.universe, registry, newMemoryStore(), &mockPacer{})

			summary, err := uc.RunCycle(ctx, entity.MarketUSA, day(2024, 1, 1), day(2024, 1, 10))
			assert.ErrorIs(t, err, ErrUniverseLoad)
			assert.Empty(t, summary.Outcomes)
			assert.Empty(t, registry.FetchCalls)

			_, ok := uc.LastSummary(entity.MarketUSA)
			assert.False(t, ok)
		})
	}
}

// blockingGuard never grants the lock and waits for the caller's deadline.
type blockingGuard struct{}

func (blockingGuard) Acquire(ctx context.Context, _ entity.Market) (func(), error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestIngestUsecase_RunCycle_StoreTimeoutBoundsSetup(t *testing.T) {
	ctx := context.Background()
	opts := IngestOptions{FetchTimeout: time.Second, StoreTimeout: 20 * time.Millisecond}

	t.Run("slow universe load", func(t *testing.T) {
		universe := &mockUniverse{LoadSymbolsFunc: func(ctx context.Context, _ entity.Market) ([]string, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}}
		registry := &mockRegistry{markets: map[entity.Market]bool{entity.MarketUSA: true}}
		guard := &localGuard{}
		uc := NewIngestUsecase(universe, registry, NewNormalizer(testMappings()), newMemoryStore(), guard, &mockPacer{}, opts)

		_, err := uc.RunCycle(ctx, entity.MarketUSA, day(2024, 1, 1), day(2024, 1, 10))
		assert.ErrorIs(t, err, ErrUniverseLoad)
		assert.ErrorContains(t, err, context.DeadlineExceeded.Error())
		assert.Empty(t, registry.FetchCalls)
		assert.Empty(t, guard.held, "guard is released after a failed load")
	})

	t.Run("slow guard", func(t *testing.T) {
		registry := &mockRegistry{markets: map[entity.Market]bool{entity.MarketUSA: true}}
		uc := NewIngestUsecase(universeOf("AAA"), registry, NewNormalizer(testMappings()), newMemoryStore(), blockingGuard{}, &mockPacer{}, opts)

		_, err := uc.RunCycle(ctx, entity.MarketUSA, day(2024, 1, 1), day(2024, 1, 10))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Empty(t, registry.FetchCalls)
	})
}

func TestIngestUsecase_RunCycle_InFlightGuard(t *testing.T) {
	ctx := context.Background()

	entered := make(chan struct{})
	unblock := make(chan struct{})
	var once sync.Once
	registry := &mockRegistry{
		markets: map[entity.Market]bool{entity.MarketUSA: true},
		FetchFunc: func(_ context.Context, _ string, _ entity.Market, s, e time.Time) (entity.RawFrame, error) {
			once.Do(func() {
				close(entered)
				<-unblock
			})
			return dailyFrame(s, e), nil
		},
	}
	uc := newTestUsecase(universeOf("AAA"), registry, newMemoryStore(), &mockPacer{})

	done := make(chan error, 1)
	go func() {
		_, err := uc.RunCycle(ctx, entity.MarketUSA, day(2024, 1, 1), day(2024, 1, 2))
		done <- err
	}()
	<-entered

	_, err := uc.RunCycle(ctx, entity.MarketUSA, day(2024, 1, 1), day(2024, 1, 2))
	assert.ErrorIs(t, err, ErrCycleInProgress)

	close(unblock)
	require.NoError(t, <-done)

	_, err = uc.RunCycle(ctx, entity.MarketUSA, day(2024, 1, 1), day(2024, 1, 3))
	assert.NoError(t, err, "guard is released after the cycle")
}

func TestIngestUsecase_RunCycle_SideEffects(t *testing.T) {
	ctx := context.Background()

	registry := &mockRegistry{
		markets: map[entity.Market]bool{entity.MarketUSA: true},
		FetchFunc: func(_ context.Context, symbol string, _ entity.Market, s, e time.Time) (entity.RawFrame, error) {
			if symbol == "BBB" {
				return entity.RawFrame{}, ErrMarketAPI
			}
			return dailyFrame(s, e), nil
		},
	}
	recorder := &mockRecorder{}
	publisher := &mockPublisher{err: errors.New("broker down")}
	archiver := &mockArchiver{err: errors.New("disk full")}
	uc := newTestUsecase(universeOf("AAA", "BBB"), registry, newMemoryStore(), &mockPacer{}).
		WithRecorder(recorder).
		WithPublisher(publisher).
		WithArchiver(archiver)

	summary, err := uc.RunCycle(ctx, entity.MarketUSA, day(2024, 1, 1), day(2024, 1, 3))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Persisted, "side-effect failures do not fail the symbol")

	require.Len(t, publisher.events, 1)
	ev := publisher.events[0]
	assert.Equal(t, "AAA", ev.Symbol)
	assert.Equal(t, "2024-01-01", ev.From)
	assert.Equal(t, "2024-01-03", ev.To)
	assert.Equal(t, int64(3), ev.Count)
	assert.Equal(t, map[string]int{"AAA": 3}, archiver.archived)

	assert.Equal(t, 1, recorder.symbols[StatusPersisted])
	assert.Equal(t, 1, recorder.symbols[StatusFailed])
	assert.Equal(t, int64(3), recorder.bars)
	assert.Equal(t, 1, recorder.cycles)

	last, ok := uc.LastSummary(entity.MarketUSA)
	require.True(t, ok)
	assert.Equal(t, summary.Window, last.Window)
	assert.True(t, strings.HasPrefix(last.Window, "2024-01-01"))
}
