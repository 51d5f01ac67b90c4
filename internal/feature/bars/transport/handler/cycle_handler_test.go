package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"stock_ingest/internal/feature/bars/domain/entity"
	"stock_ingest/internal/feature/bars/usecase"
)

// mockCycleUsecase はCycleUsecaseインターフェースのモック実装です。
type mockCycleUsecase struct {
	RunCycleFunc    func(ctx context.Context, market entity.Market, start, end time.Time) (usecase.CycleSummary, error)
	LastSummaryFunc func(market entity.Market) (usecase.CycleSummary, bool)
}

func (m *mockCycleUsecase) RunCycle(ctx context.Context, market entity.Market, start, end time.Time) (usecase.CycleSummary, error) {
	return m.RunCycleFunc(ctx, market, start, end)
}

func (m *mockCycleUsecase) LastSummary(market entity.Market) (usecase.CycleSummary, bool) {
	return m.LastSummaryFunc(market)
}

func day(s string) time.Time {
	t, err := entity.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}

// testSummary はテスト用の固定サマリーを返します。
func testSummary(market entity.Market) usecase.CycleSummary {
	return usecase.CycleSummary{
		Market:      market,
		Window:      "2024-01-01..2024-01-05",
		StartedAt:   time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC),
		Duration:    1500 * time.Millisecond,
		Persisted:   1,
		Failed:      1,
		BarsWritten: 5,
		Outcomes: []usecase.SymbolOutcome{
			{Symbol: "AAA", Status: usecase.StatusPersisted, Range: "2024-01-01..2024-01-05", Bars: 5},
			{Symbol: "BBB", Status: usecase.StatusFailed, Range: "2024-01-01..2024-01-05", Err: errors.New("timeout")},
		},
	}
}

const testSummaryJSON = `{"market":"usa","window":"2024-01-01..2024-01-05","started_at":"2024-01-06T00:00:00Z","duration_ms":1500,` +
	`"persisted":1,"skipped":0,"failed":1,"bars_written":5,"outcomes":[` +
	`{"symbol":"AAA","status":"persisted","range":"2024-01-01..2024-01-05","bars":5},` +
	`{"symbol":"BBB","status":"failed","range":"2024-01-01..2024-01-05","bars":0,"error":"timeout"}]}`

// TestCycleHandler_Run はRunハンドラーの各種シナリオをテーブル駆動テストで検証します。
func TestCycleHandler_Run(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name           string
		url            string
		runCycle       func(ctx context.Context, market entity.Market, start, end time.Time) (usecase.CycleSummary, error)
		expectedStatus int
		expectedBody   string
	}{
		{
			name: "success: explicit window",
			url:  "/cycles/USA?start=2024-01-01&end=2024-01-05",
			runCycle: func(ctx context.Context, market entity.Market, start, end time.Time) (usecase.CycleSummary, error) {
				assert.Equal(t, entity.MarketUSA, market)
				assert.Equal(t, day("2024-01-01"), start)
				assert.Equal(t, day("2024-01-05"), end)
				return testSummary(market), nil
			},
			expectedStatus: http.StatusOK,
			expectedBody:   testSummaryJSON,
		},
		{
			name: "success: defaults to configured start and today",
			url:  "/cycles/usa",
			runCycle: func(ctx context.Context, market entity.Market, start, end time.Time) (usecase.CycleSummary, error) {
				assert.Equal(t, day("2020-01-01"), start)
				assert.Equal(t, day("2024-03-15"), end)
				return testSummary(market), nil
			},
			expectedStatus: http.StatusOK,
			expectedBody:   testSummaryJSON,
		},
		{
			name:           "failure: invalid date format",
			url:            "/cycles/usa?start=2024/01/01",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "failure: start after end",
			url:            "/cycles/usa?start=2024-02-01&end=2024-01-01",
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `{"error":"start must not be after end"}`,
		},
		{
			name:           "failure: invalid market id",
			url:            "/cycles/u$a",
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `{"error":"invalid market id \"u$a\""}`,
		},
		{
			name: "failure: cycle already running",
			url:  "/cycles/usa",
			runCycle: func(ctx context.Context, market entity.Market, start, end time.Time) (usecase.CycleSummary, error) {
				return usecase.CycleSummary{}, fmt.Errorf("market usa: %w", usecase.ErrCycleInProgress)
			},
			expectedStatus: http.StatusConflict,
		},
		{
			name: "failure: universe load error",
			url:  "/cycles/usa",
			runCycle: func(ctx context.Context, market entity.Market, start, end time.Time) (usecase.CycleSummary, error) {
				return usecase.CycleSummary{}, usecase.ErrUniverseLoad
			},
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockUC := &mockCycleUsecase{
				RunCycleFunc: func(ctx context.Context, market entity.Market, start, end time.Time) (usecase.CycleSummary, error) {
					if tt.runCycle == nil {
						t.Error("RunCycle should not be called")
						return usecase.CycleSummary{}, nil
					}
					return tt.runCycle(ctx, market, start, end)
				},
			}
			h := NewCycleHandler(mockUC, day("2020-01-01"))
			h.now = func() time.Time { return time.Date(2024, 3, 15, 18, 30, 0, 0, time.UTC) }

			router := gin.New()
			router.POST("/cycles/:market", h.Run)

			w := httptest.NewRecorder()
			req, _ := http.NewRequest(http.MethodPost, tt.url, nil)
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedBody != "" {
				assert.JSONEq(t, tt.expectedBody, w.Body.String())
			}
		})
	}
}

// TestCycleHandler_Run_IgnoresClientCancel はリクエストのキャンセルがサイクルに伝播しないことを検証します。
func TestCycleHandler_Run_IgnoresClientCancel(t *testing.T) {
	gin.SetMode(gin.TestMode)

	mockUC := &mockCycleUsecase{
		RunCycleFunc: func(ctx context.Context, market entity.Market, start, end time.Time) (usecase.CycleSummary, error) {
			assert.NoError(t, ctx.Err())
			return testSummary(market), nil
		},
	}
	h := NewCycleHandler(mockUC, day("2020-01-01"))

	router := gin.New()
	router.POST("/cycles/:market", h.Run)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := httptest.NewRecorder()
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, "/cycles/usa", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

// TestCycleHandler_Wait は実行中の手動サイクルが終わるまでWaitが戻らないことを検証します。
func TestCycleHandler_Wait(t *testing.T) {
	gin.SetMode(gin.TestMode)

	entered := make(chan struct{})
	unblock := make(chan struct{})
	mockUC := &mockCycleUsecase{
		RunCycleFunc: func(ctx context.Context, market entity.Market, start, end time.Time) (usecase.CycleSummary, error) {
			close(entered)
			<-unblock
			return testSummary(market), nil
		},
	}
	h := NewCycleHandler(mockUC, day("2020-01-01"))
	router := gin.New()
	router.POST("/cycles/:market", h.Run)

	// 実行中でなければ即座に戻る
	assert.NoError(t, h.Wait(context.Background()))

	served := make(chan int, 1)
	go func() {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodPost, "/cycles/usa", nil)
		router.ServeHTTP(w, req)
		served <- w.Code
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.Wait(ctx), context.DeadlineExceeded)

	close(unblock)
	assert.NoError(t, h.Wait(context.Background()))
	assert.Equal(t, http.StatusOK, <-served)
}

// TestCycleHandler_Last はLastハンドラーのレスポンスを検証します。
func TestCycleHandler_Last(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name           string
		url            string
		found          bool
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "success: returns last summary",
			url:            "/cycles/usa/last",
			found:          true,
			expectedStatus: http.StatusOK,
			expectedBody:   testSummaryJSON,
		},
		{
			name:           "failure: no cycle yet",
			url:            "/cycles/japan/last",
			expectedStatus: http.StatusNotFound,
			expectedBody:   `{"error":"no completed cycle for japan"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockUC := &mockCycleUsecase{
				LastSummaryFunc: func(market entity.Market) (usecase.CycleSummary, bool) {
					if !tt.found {
						return usecase.CycleSummary{}, false
					}
					return testSummary(market), true
				},
			}
			router := gin.New()
			router.GET("/cycles/:market/last", NewCycleHandler(mockUC, day("2020-01-01")).Last)

			w := httptest.NewRecorder()
			req, _ := http.NewRequest(http.MethodGet, tt.url, nil)
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.JSONEq(t, tt.expectedBody, w.Body.String())
		})
	}
}
