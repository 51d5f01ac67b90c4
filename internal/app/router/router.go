// Package router wires HTTP routes onto a gin engine.
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	barhandler "stock_ingest/internal/feature/bars/transport/handler"
	symbolhandler "stock_ingest/internal/feature/symbollist/transport/handler"
	jwtmw "stock_ingest/internal/platform/jwt"
	platformhandler "stock_ingest/internal/platform/http/handler"
)

func NewRouter(jwtSecret string, health *platformhandler.HealthHandler, cycles *barhandler.CycleHandler,
	symbols *symbolhandler.SymbolHandler, metrics http.Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// 認証不要
	// 導通確認用
	r.GET("/healthz", health.Health)
	r.HEAD("/healthz", health.Health)
	r.OPTIONS("/healthz", health.Health)
	// Prometheus スクレイプ用
	r.GET("/metrics", gin.WrapH(metrics))

	// 認証必須のルート
	// → リクエストヘッダーに JWT が必要になる
	auth := r.Group("/")
	auth.Use(jwtmw.AuthRequired(jwtSecret))
	{
		// 手動での取り込みサイクル実行
		auth.POST("/cycles/:market", cycles.Run)
		auth.GET("/cycles/:market/last", cycles.Last)
		auth.GET("/symbols/:market", symbols.List)
	}

	return r
}
