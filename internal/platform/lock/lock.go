// Package lock provides the per-market guards that keep ingestion cycles from overlapping.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"stock_ingest/internal/feature/bars/domain/entity"
	"stock_ingest/internal/feature/bars/usecase"
)

// LocalGuard is an in-process guard.
type LocalGuard struct {
	mu      sync.Mutex
	running map[entity.Market]struct{}
}

var _ usecase.MarketGuard = (*LocalGuard)(nil)

func NewLocalGuard() *LocalGuard {
	return &LocalGuard{running: make(map[entity.Market]struct{})}
}

// Acquire marks market as running. The returned release is safe to call more than once.
func (g *LocalGuard) Acquire(_ context.Context, market entity.Market) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.running[market]; ok {
		return nil, fmt.Errorf("market %s: %w", market, usecase.ErrCycleInProgress)
	}
	g.running[market] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.running, market)
			g.mu.Unlock()
		})
	}, nil
}

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the key only while it still holds our token.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

const (
	defaultLockTTL       = 6 * time.Hour
	defaultLockNamespace = "lock:ingest"
	releaseTimeout       = 5 * time.Second
)

// RedisGuard is a cross-process guard backed by SET NX PX.
// A live holder extends its lock every ttl/3; a crashed holder's lock expires after ttl.
type RedisGuard struct {
	rdb       redis.Cmdable
	ttl       time.Duration
	namespace string
	newToken  func() (string, error)
}

var _ usecase.MarketGuard = (*RedisGuard)(nil)

// NewRedisGuard returns a Redis lock guard. ttl <= 0 and empty namespace use defaults.
func NewRedisGuard(rdb redis.Cmdable, ttl time.Duration, namespace string) *RedisGuard {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	if namespace == "" {
		namespace = defaultLockNamespace
	}
	return &RedisGuard{rdb: rdb, ttl: ttl, namespace: namespace, newToken: randomToken}
}

func (g *RedisGuard) key(market entity.Market) string {
	return g.namespace + ":" + market.String()
}

// Acquire takes the market lock or returns ErrCycleInProgress while another holder has it.
func (g *RedisGuard) Acquire(ctx context.Context, market entity.Market) (func(), error) {
	token, err := g.newToken()
	if err != nil {
		return nil, fmt.Errorf("lock token: %w", err)
	}
	key := g.key(market)
	ok, err := g.rdb.SetNX(ctx, key, token, g.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("market %s: %w", market, usecase.ErrCycleInProgress)
	}

	// 保持中は呼び出し元のctxと無関係に延長し続ける
	kctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		g.keepAlive(kctx, key, token)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			stop()
			<-done
			// 呼び出し元のctxがキャンセル済みでも解放する
			rctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			if err := releaseScript.Run(rctx, g.rdb, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
				slog.Warn("release lock failed", "key", key, "error", err)
			}
		})
	}, nil
}

// keepAlive extends key until ctx is done or the lock is no longer ours.
func (g *RedisGuard) keepAlive(ctx context.Context, key, token string) {
	ticker := time.NewTicker(g.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		rctx, cancel := context.WithTimeout(ctx, releaseTimeout)
		n, err := renewScript.Run(rctx, g.rdb, []string{key}, token, g.ttl.Milliseconds()).Int64()
		cancel()
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			slog.Warn("renew lock failed", "key", key, "error", err)
		case n == 0:
			slog.Warn("lock lost before release", "key", key)
			return
		}
	}
}

func randomToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
