package cache

import (
	"time"
)

// TimeUntilNextHour は now から次の hour 時（loc 基準）までの期間を返します。
// キャッシュの有効期限を次回の取り込み時刻に揃えるために使います。
func TimeUntilNextHour(now time.Time, hour int, loc *time.Location) time.Duration {
	if loc == nil {
		loc = time.UTC
	}
	now = now.In(loc)

	// 次の指定時刻を計算
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, loc)

	// 今日の指定時刻を既に過ぎている場合は翌日を使用
	if !now.Before(next) {
		next = next.AddDate(0, 0, 1)
	}

	return next.Sub(now)
}
