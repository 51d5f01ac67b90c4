// Package handler はプラットフォームレベルのエンドポイント用HTTPハンドラーを提供します。
package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger は依存先（DB、Redisなど）の疎通確認を行います。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingerFunc は関数を Pinger として扱うためのアダプターです。
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) PingContext(ctx context.Context) error { return f(ctx) }

const pingTimeout = 2 * time.Second

// HealthHandler はサービスヘルスチェック用の /healthz エンドポイントを処理します。
type HealthHandler struct {
	checks map[string]Pinger
}

// NewHealthHandler は依存先名とPingerの組からハンドラーを生成します。nilのPingerは無視します。
func NewHealthHandler(checks map[string]Pinger) *HealthHandler {
	h := &HealthHandler{checks: make(map[string]Pinger, len(checks))}
	for name, p := range checks {
		if p != nil {
			h.checks[name] = p
		}
	}
	return h
}

// Health はHTTPメソッドに応じて適切にレスポンスし、キャッシュを防止します。
// GET等では登録された依存先をPingし、いずれかが失敗した場合は503を返します。
func (h *HealthHandler) Health(c *gin.Context) {
	// 明示的にキャッシュを防止
	c.Header("Cache-Control", "no-store")

	if c.Request.Method == http.MethodOptions {
		c.Status(http.StatusNoContent)
		return
	}

	failed := h.ping(c.Request.Context())
	status := http.StatusOK
	if len(failed) > 0 {
		status = http.StatusServiceUnavailable
	}

	if c.Request.Method == http.MethodHead {
		c.Status(status)
		return
	}
	if len(failed) > 0 {
		c.JSON(status, gin.H{"status": "unavailable", "failed": failed})
		return
	}
	c.JSON(status, gin.H{"status": "ok"})
}

// ping は失敗した依存先の名前をソートして返します。
func (h *HealthHandler) ping(ctx context.Context) []string {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	var failed []string
	for name, p := range h.checks {
		if err := p.PingContext(ctx); err != nil {
			failed = append(failed, name)
		}
	}
	sort.Strings(failed)
	return failed
}
