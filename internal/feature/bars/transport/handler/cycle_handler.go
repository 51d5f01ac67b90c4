// Package handler はbarsフィーチャーのHTTPハンドラーを提供します。
package handler

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"stock_ingest/internal/feature/bars/domain/entity"
	"stock_ingest/internal/feature/bars/transport/http/dto"
	"stock_ingest/internal/feature/bars/usecase"
)

// CycleUsecase は取り込みサイクルのユースケースインターフェースを定義します。
// Goの慣例に従い、インターフェースは利用者（handler）側で定義します。
type CycleUsecase interface {
	RunCycle(ctx context.Context, market entity.Market, start, end time.Time) (usecase.CycleSummary, error)
	LastSummary(market entity.Market) (usecase.CycleSummary, bool)
}

// CycleHandler は取り込みサイクルの手動実行と結果参照を処理します。
type CycleHandler struct {
	uc           CycleUsecase
	defaultStart time.Time
	now          func() time.Time

	// inflight はリクエストから切り離して実行中のサイクル数です。
	inflight sync.WaitGroup
}

// NewCycleHandler は新しい CycleHandler を生成します。
// defaultStart は start 未指定時の開始日です。
func NewCycleHandler(uc CycleUsecase, defaultStart time.Time) *CycleHandler {
	return &CycleHandler{uc: uc, defaultStart: defaultStart, now: time.Now}
}

// Run は指定マーケットの取り込みサイクルを同期的に実行し、サマリーを返します。
//
// エンドポイント例:
// POST /cycles/:market?start=2024-01-01&end=2024-01-31
func (h *CycleHandler) Run(c *gin.Context) {
	market, err := entity.ParseMarket(c.Param("market"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var req dto.CycleRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	start, end, err := h.window(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// クライアント切断でサイクルを途中終了させない
	ctx := context.WithoutCancel(c.Request.Context())
	h.inflight.Add(1)
	summary, err := h.uc.RunCycle(ctx, market, start, end)
	h.inflight.Done()
	switch {
	case errors.Is(err, usecase.ErrCycleInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.NewCycleResponse(summary))
}

// Wait は実行中の手動サイクルがすべて終わるか ctx が終了するまで待ちます。
// サーバー停止後、接続プールを閉じる前に呼び出します。
func (h *CycleHandler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Last は指定マーケットで最後に完了したサイクルのサマリーを返します。
//
// エンドポイント例:
// GET /cycles/:market/last
func (h *CycleHandler) Last(c *gin.Context) {
	market, err := entity.ParseMarket(c.Param("market"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	summary, ok := h.uc.LastSummary(market)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no completed cycle for " + market.String()})
		return
	}
	c.JSON(http.StatusOK, dto.NewCycleResponse(summary))
}

// window はクエリから取り込み期間を決定します。
// 未指定の開始日は defaultStart、終了日は当日（UTC）になります。
func (h *CycleHandler) window(req dto.CycleRequest) (time.Time, time.Time, error) {
	start := h.defaultStart
	end := entity.DateOf(h.now().UTC())
	var err error
	if req.Start != "" {
		if start, err = entity.ParseDate(req.Start); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	if req.End != "" {
		if end, err = entity.ParseDate(req.End); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	if start.After(end) {
		return time.Time{}, time.Time{}, errors.New("start must not be after end")
	}
	return start, end, nil
}
