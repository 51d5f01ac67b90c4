package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	barentity "stock_ingest/internal/feature/bars/domain/entity"
	"stock_ingest/internal/feature/symbollist/domain/entity"
	"stock_ingest/internal/feature/symbollist/transport/http/dto"
)

// SymbolUsecase は銘柄情報に関するユースケースのインターフェースです。
// Following Go convention: interfaces are defined by the consumer (handler), not the provider (usecase).
type SymbolUsecase interface {
	ListActiveSymbols(ctx context.Context, market string) ([]entity.Symbol, error)
}

// SymbolHandler は銘柄情報に関するHTTPリクエストを処理します。
type SymbolHandler struct {
	uc SymbolUsecase
}

// NewSymbolHandler は新しい SymbolHandler を作成します。
func NewSymbolHandler(uc SymbolUsecase) *SymbolHandler {
	return &SymbolHandler{uc: uc}
}

// List は指定マーケットの取り込み対象銘柄の一覧を返すAPIです。
// マーケットIDが不正な場合は400、Usecaseでエラーが発生した場合は500を返します。
func (h *SymbolHandler) List(c *gin.Context) {
	market, err := barentity.ParseMarket(c.Param("market"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	symbols, err := h.uc.ListActiveSymbols(c.Request.Context(), market.String())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]dto.SymbolItem, 0, len(symbols))
	for _, s := range symbols {
		out = append(out, dto.SymbolItem{Code: s.Code, Name: s.Name})
	}
	c.JSON(http.StatusOK, out)
}
