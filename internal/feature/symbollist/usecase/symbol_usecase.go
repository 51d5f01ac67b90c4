// Package usecase implements the business logic for symbol-related operations.
package usecase

import (
	"context"
	"strings"

	barentity "stock_ingest/internal/feature/bars/domain/entity"
	"stock_ingest/internal/feature/symbollist/domain/entity"
)

// SymbolRepository abstracts the source of a market's symbol universe (database table or list file).
// Following Go convention: interfaces are defined by the consumer (usecase), not the provider (adapters).
type SymbolRepository interface {
	ListActive(ctx context.Context, market string) ([]entity.Symbol, error)
	ListActiveCodes(ctx context.Context, market string) ([]string, error)
}

// SymbolUsecase provides business logic for symbol operations.
type SymbolUsecase struct {
	repo SymbolRepository
}

// NewSymbolUsecase creates a new SymbolUsecase with the given repository.
func NewSymbolUsecase(r SymbolRepository) *SymbolUsecase {
	return &SymbolUsecase{repo: r}
}

// ListActiveSymbols returns all active symbols of market.
func (u *SymbolUsecase) ListActiveSymbols(ctx context.Context, market string) ([]entity.Symbol, error) {
	return u.repo.ListActive(ctx, market)
}

// LoadSymbols returns the ingestion universe of market: active codes in source
// order, trimmed, with blanks and repeats removed.
func (u *SymbolUsecase) LoadSymbols(ctx context.Context, market barentity.Market) ([]string, error) {
	codes, err := u.repo.ListActiveCodes(ctx, market.String())
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out, nil
}
