// Package di provides dependency injection factories for creating application components.
package di

import (
	"fmt"
	"log/slog"

	"stock_ingest/internal/app/config"
	baradapters "stock_ingest/internal/feature/bars/adapters"
	"stock_ingest/internal/feature/bars/domain/entity"
	barusecase "stock_ingest/internal/feature/bars/usecase"
	"stock_ingest/internal/platform/externalapi/polygon"
	"stock_ingest/internal/platform/externalapi/twelvedata"
	"stock_ingest/internal/platform/externalapi/yahoo"
	infrahttp "stock_ingest/internal/platform/http"
	"stock_ingest/internal/shared/ratelimiter"
)

// ProvideMarketRegistry registers one adapter per market in MARKET_PROVIDERS.
// Markets sharing a provider share its HTTP client and rate limiter, since the quota is per API key.
// A keyed provider without a key is left unregistered and its markets report capability-not-supported.
func ProvideMarketRegistry(cfg *config.Config) (*baradapters.MarketRegistry, error) {
	providers, err := cfg.Providers()
	if err != nil {
		return nil, err
	}

	var (
		yahooMarket      *yahoo.YahooMarket
		twelveDataMarket *twelvedata.TwelveDataMarket
		polygonMarket    *polygon.PolygonMarket
	)
	registry := baradapters.NewMarketRegistry()
	for _, p := range providers {
		switch p.Provider {
		case config.ProviderYahoo:
			if yahooMarket == nil {
				client := infrahttp.NewHTTPClient(cfg.Yahoo.Timeout, infrahttp.WithUserAgent(cfg.Yahoo.UserAgent))
				yahooMarket = yahoo.NewYahooMarket(cfg.Yahoo, client)
			}
			registry.Register(p.Market, yahooMarket)
		case config.ProviderTwelveData:
			if cfg.TwelveData.APIKey == "" {
				slog.Warn("TWELVE_DATA_API_KEY is not set, market left without provider", "market", p.Market.String())
				continue
			}
			if twelveDataMarket == nil {
				client := infrahttp.NewHTTPClient(cfg.TwelveData.Timeout)
				limiter := ratelimiter.NewRateLimiter(cfg.TwelveData.RateLimit, cfg.TwelveData.RateInterval)
				twelveDataMarket = twelvedata.NewTwelveDataMarket(cfg.TwelveData, client, limiter)
			}
			registry.Register(p.Market, twelveDataMarket)
		case config.ProviderPolygon:
			if cfg.Polygon.APIKey == "" {
				slog.Warn("POLYGON_API_KEY is not set, market left without provider", "market", p.Market.String())
				continue
			}
			if polygonMarket == nil {
				client := infrahttp.NewHTTPClient(cfg.Polygon.Timeout)
				limiter := ratelimiter.NewRateLimiter(cfg.Polygon.RateLimit, cfg.Polygon.RateInterval)
				polygonMarket = polygon.NewPolygonMarket(cfg.Polygon, client, limiter)
			}
			registry.Register(p.Market, polygonMarket)
		default:
			return nil, fmt.Errorf("market %s: unknown provider %q", p.Market, p.Provider)
		}
	}
	return registry, nil
}

// ProvideColumnMappings starts each market from its provider's native columns
// and applies COLUMN_MAPPING_FILE overrides on top.
func ProvideColumnMappings(cfg *config.Config) (barusecase.ColumnMappings, error) {
	providers, err := cfg.Providers()
	if err != nil {
		return nil, err
	}
	base := make(barusecase.ColumnMappings, len(providers))
	for _, p := range providers {
		cols, ok := nativeColumns(p.Provider)
		if !ok {
			return nil, fmt.Errorf("market %s: unknown provider %q", p.Market, p.Provider)
		}
		base[p.Market] = cols
	}
	return barusecase.LoadColumnMappings(cfg.ColumnMappingFile, base)
}

func nativeColumns(provider string) (entity.ColumnMapping, bool) {
	switch provider {
	case config.ProviderYahoo:
		return yahoo.NativeColumns, true
	case config.ProviderTwelveData:
		return twelvedata.NativeColumns, true
	case config.ProviderPolygon:
		return polygon.NativeColumns, true
	}
	return entity.ColumnMapping{}, false
}

// ProvideNormalizer builds the schema normalizer over the mapping table.
func ProvideNormalizer(mappings barusecase.ColumnMappings) *barusecase.Normalizer {
	return barusecase.NewNormalizer(mappings)
}
