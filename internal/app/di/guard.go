package di

import (
	goredis "github.com/redis/go-redis/v9"

	"stock_ingest/internal/app/config"
	barusecase "stock_ingest/internal/feature/bars/usecase"
	"stock_ingest/internal/platform/lock"
	"stock_ingest/internal/shared/ratelimiter"
)

// ProvideMarketGuard returns the per-market cycle guard.
// If Redis is available, it returns a Redis lock shared by every replica.
// Otherwise, it falls back to an in-process guard.
func ProvideMarketGuard(cfg *config.Config, rdb *goredis.Client) barusecase.MarketGuard {
	if rdb != nil {
		return lock.NewRedisGuard(rdb, cfg.LockTTL, "lock:ingest")
	}
	return lock.NewLocalGuard()
}

// ProvidePacer returns the fixed delay placed between consecutive upstream fetches.
func ProvidePacer(cfg *config.Config) barusecase.Pacer {
	return ratelimiter.NewPacer(cfg.PacingDelay)
}
