package di

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"stock_ingest/internal/app/config"
	baradapters "stock_ingest/internal/feature/bars/adapters"
	barusecase "stock_ingest/internal/feature/bars/usecase"
	symboladapters "stock_ingest/internal/feature/symbollist/adapters"
	symbolusecase "stock_ingest/internal/feature/symbollist/usecase"
	"stock_ingest/internal/platform/cache"
	"stock_ingest/internal/platform/clickhouse"
	"stock_ingest/internal/platform/db"
	"stock_ingest/internal/platform/redis"
)

// ProvideGormDB opens the relational database when the bar store or the symbol universe lives there.
// Otherwise it returns nil.
func ProvideGormDB(cfg *config.Config) (*gorm.DB, func(), error) {
	if cfg.StoreBackend != config.StoreSQL && cfg.UniverseSource != config.UniverseDB {
		return nil, func() {}, nil
	}
	gdb, err := db.Open(cfg.DB)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if sqlDB, err := gdb.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				slog.Error("failed to close database", "error", err)
			}
		}
	}
	return gdb, cleanup, nil
}

// ProvideRedis connects to Redis when REDIS_HOST is set. An unreachable server is not fatal:
// the service runs without the latest-date cache and with in-process locks.
func ProvideRedis(ctx context.Context, cfg *config.Config) (*goredis.Client, func()) {
	if !cfg.Redis.Enabled() {
		return nil, func() {}
	}
	rdb, err := redis.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, running without cache", "addr", cfg.Redis.Addr(), "error", err)
		return nil, func() {}
	}
	return rdb, func() {
		if err := rdb.Close(); err != nil {
			slog.Error("failed to close redis client", "error", err)
		}
	}
}

// ClickHouseDB is the ClickHouse pool, kept distinct from other *sql.DB values for injection.
type ClickHouseDB struct {
	*sql.DB
}

// ProvideClickHouse opens ClickHouse and creates the bar table when STORE_BACKEND=clickhouse.
func ProvideClickHouse(ctx context.Context, cfg *config.Config) (*ClickHouseDB, func(), error) {
	if cfg.StoreBackend != config.StoreClickHouse {
		return nil, func() {}, nil
	}
	chdb, err := clickhouse.Open(ctx, cfg.ClickHouse)
	if err != nil {
		return nil, nil, err
	}
	if err := clickhouse.InitSchema(ctx, chdb, baradapters.ClickHouseSchema); err != nil {
		_ = chdb.Close()
		return nil, nil, err
	}
	return &ClickHouseDB{DB: chdb}, func() {
		if err := chdb.Close(); err != nil {
			slog.Error("failed to close clickhouse", "error", err)
		}
	}, nil
}

// ProvideBarRepository selects the bar store and, with Redis, wraps it in the latest-date cache.
func ProvideBarRepository(cfg *config.Config, gdb *gorm.DB, chdb *ClickHouseDB, rdb *goredis.Client) (barusecase.BarRepository, error) {
	var repo barusecase.BarRepository
	switch cfg.StoreBackend {
	case config.StoreClickHouse:
		if chdb == nil {
			return nil, fmt.Errorf("clickhouse store selected but not connected")
		}
		repo = baradapters.NewClickHouseBarRepository(chdb.DB)
	default:
		if gdb == nil {
			return nil, fmt.Errorf("sql store selected but database not connected")
		}
		repo = baradapters.NewBarRepository(gdb, cfg.StoreBatchSize)
	}

	if rdb == nil {
		return repo, nil
	}
	// 未指定の場合は翌日0時(UTC)まで保持
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = cache.TimeUntilNextHour(time.Now(), 0, time.UTC)
	}
	return cache.NewCachingBarRepository(rdb, ttl, repo, "latest"), nil
}

// ProvideSymbolRepository selects the universe source: list files or the symbols table.
func ProvideSymbolRepository(cfg *config.Config, gdb *gorm.DB) (symbolusecase.SymbolRepository, error) {
	if cfg.UniverseSource == config.UniverseDB {
		if gdb == nil {
			return nil, fmt.Errorf("db universe selected but database not connected")
		}
		return symboladapters.NewSymbolRepository(gdb), nil
	}
	return symboladapters.NewSymbolFileRepository(cfg.StockListDir), nil
}
