package ratelimiter

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Limiter は、API呼び出しなどの操作の頻度を制限するインターフェースです。
type Limiter interface {
	Wait(ctx context.Context) error
}

// RateLimiter は、interval ごとに limit 回までの呼び出しを許可します。
// 上限に達した場合は次の interval の開始まで待機します。
type RateLimiter struct {
	mu        sync.Mutex
	limit     int           // interval あたりの上限
	interval  time.Duration // どの単位でリセットするか
	count     int
	lastReset time.Time
	now       func() time.Time
}

// NewRateLimiter は新しい RateLimiter のインスタンスを生成します。
func NewRateLimiter(limit int, interval time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:     limit,
		interval:  interval,
		lastReset: time.Now(),
		now:       time.Now,
	}
}

// Wait はレートリミットの上限に達しているかを確認し、必要であれば待機します。
// 待機中に ctx がキャンセルされた場合は ctx.Err() を返します。
func (rl *RateLimiter) Wait(ctx context.Context) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	// interval を過ぎたらカウントリセット
	if now.Sub(rl.lastReset) >= rl.interval {
		rl.count = 0
		rl.lastReset = now
	}

	rl.count++
	if rl.count <= rl.limit {
		return nil
	}

	sleep := rl.interval - now.Sub(rl.lastReset)
	if sleep > 0 {
		slog.Info("rate limit reached, waiting", "limit", rl.limit, "sleep", sleep)
		if err := sleepCtx(ctx, sleep); err != nil {
			rl.count--
			return err
		}
	}
	// リセット
	rl.count = 1
	rl.lastReset = rl.now()
	return nil
}

// Pacer は呼び出しごとに固定の待機時間を入れます。
type Pacer struct {
	delay time.Duration
}

// NewPacer は delay だけ待機する Pacer を生成します。0 以下なら待機しません。
func NewPacer(delay time.Duration) *Pacer {
	return &Pacer{delay: delay}
}

// Wait は delay だけ待機します。
func (p *Pacer) Wait(ctx context.Context) error {
	if p.delay <= 0 {
		return ctx.Err()
	}
	return sleepCtx(ctx, p.delay)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
