// Package cache provides caching implementations for repository interfaces.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"stock_ingest/internal/feature/bars/domain/entity"
	"stock_ingest/internal/feature/bars/usecase"
)

// noData marks a (market, symbol) known to have no stored bars.
const noData = "-"

// CachingBarRepository decorates a BarRepository with a Redis cache of each series' latest date.
// Reads go to Redis first and fall back to the store; appends refresh or drop the cached value.
// Cache errors never fail a call.
type CachingBarRepository struct {
	inner     usecase.BarRepository
	rdb       *redis.Client
	ttl       time.Duration
	namespace string
}

var _ usecase.BarRepository = (*CachingBarRepository)(nil)

// NewCachingBarRepository decorates a BarRepository with Redis caching.
// If ttl is 0, it defaults to 24 hours. If namespace is empty, it uses "latest".
func NewCachingBarRepository(rdb *redis.Client, ttl time.Duration, inner usecase.BarRepository, namespace string) *CachingBarRepository {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if namespace == "" {
		namespace = "latest"
	}
	return &CachingBarRepository{
		inner:     inner,
		rdb:       rdb,
		ttl:       ttl,
		namespace: namespace,
	}
}

// LatestDate returns the cached latest date, loading it from the store on a miss.
func (c *CachingBarRepository) LatestDate(ctx context.Context, symbol string, market entity.Market) (time.Time, bool, error) {
	// Bypass cache if Redis is not configured
	if c.rdb == nil {
		return c.inner.LatestDate(ctx, symbol, market)
	}

	key := c.cacheKey(market, symbol)

	// 1) Check cache
	if v, err := c.rdb.Get(ctx, key).Result(); err == nil {
		if v == noData {
			return time.Time{}, false, nil
		}
		if d, err := entity.ParseDate(v); err == nil {
			return d, true, nil
		}
		// Delete corrupted cache entry
		_ = c.rdb.Del(ctx, key).Err()
	} else if !errors.Is(err, redis.Nil) {
		slog.Debug("latest date cache read failed", "key", key, "error", err)
	}

	// 2) Fallback to store
	latest, ok, err := c.inner.LatestDate(ctx, symbol, market)
	if err != nil {
		return time.Time{}, false, err
	}

	// 3) Store in cache (best effort)
	v := noData
	if ok {
		v = latest.Format(entity.DateLayout)
	}
	_ = c.rdb.Set(ctx, key, v, c.ttl).Err()

	return latest, ok, nil
}

// AppendBars appends through the store, then advances the cached latest date of every touched series.
// A failed append drops the cached entries instead.
func (c *CachingBarRepository) AppendBars(ctx context.Context, bars []entity.PriceBar) (int64, error) {
	n, err := c.inner.AppendBars(ctx, bars)
	// Exit early if Redis is not configured or there are no bars
	if c.rdb == nil || len(bars) == 0 {
		return n, err
	}

	latest := latestPerSeries(bars)
	if err != nil {
		keys := make([]string, 0, len(latest))
		for k := range latest {
			keys = append(keys, c.cacheKey(k.market, k.symbol))
		}
		_ = c.rdb.Del(ctx, keys...).Err() // Best effort
		return n, err
	}

	for k, d := range latest {
		key := c.cacheKey(k.market, k.symbol)
		if cur, gerr := c.rdb.Get(ctx, key).Result(); gerr == nil && cur != noData {
			if cd, perr := entity.ParseDate(cur); perr == nil && !cd.Before(d) {
				continue
			}
		}
		_ = c.rdb.Set(ctx, key, d.Format(entity.DateLayout), c.ttl).Err()
	}
	return n, nil
}

type seriesKey struct {
	market entity.Market
	symbol string
}

func latestPerSeries(bars []entity.PriceBar) map[seriesKey]time.Time {
	out := make(map[seriesKey]time.Time)
	for _, b := range bars {
		k := seriesKey{market: b.Market, symbol: b.Symbol}
		d := entity.DateOf(b.Date)
		if cur, ok := out[k]; !ok || d.After(cur) {
			out[k] = d
		}
	}
	return out
}

// cacheKey generates the cache key of one series.
func (c *CachingBarRepository) cacheKey(market entity.Market, symbol string) string {
	return fmt.Sprintf("%s:%s:%s",
		c.namespace,
		safe(market.String()),
		safe(symbol),
	)
}

// safe escapes characters that are problematic for Redis keys.
func safe(s string) string {
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, ":", "_")
	return s
}
