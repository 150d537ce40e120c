package limiter

import (
	"time"

	"sportsfetch/pkg/provider"
)

// Window 限流窗口粒度。
type Window string

const (
	WindowMinute Window = "minute"
	WindowHour   Window = "hour"
	WindowDay    Window = "day"
)

// windows 按从小到大的顺序检查，分钟窗口最先拒绝。
var windows = []Window{WindowMinute, WindowHour, WindowDay}

// CounterKey 返回指定提供商在当前窗口的计数器键。
// 时间戳取 UTC，保证多实例部署时落在同一个计数器上：
//
//	espn:minute:202608211530
//	espn:hour:2026082115
//	espn:day:20260821
func (w Window) CounterKey(id provider.ID, now time.Time) string {
	utc := now.UTC()
	switch w {
	case WindowMinute:
		return string(id) + ":minute:" + utc.Format("200601021504")
	case WindowHour:
		return string(id) + ":hour:" + utc.Format("2006010215")
	case WindowDay:
		return string(id) + ":day:" + utc.Format("20060102")
	}
	return string(id) + ":" + string(w)
}

// CounterTTL 计数器的存活时间，略长于窗口本身，
// 窗口翻转后旧计数器自行过期。
func (w Window) CounterTTL() time.Duration {
	switch w {
	case WindowMinute:
		return 120 * time.Second
	case WindowHour:
		return 2 * time.Hour
	case WindowDay:
		return 48 * time.Hour
	}
	return time.Hour
}

// ResetAt 当前窗口的结束时刻，之后计数从零开始。
func (w Window) ResetAt(now time.Time) time.Time {
	utc := now.UTC()
	switch w {
	case WindowMinute:
		return utc.Truncate(time.Minute).Add(time.Minute)
	case WindowHour:
		return utc.Truncate(time.Hour).Add(time.Hour)
	case WindowDay:
		y, m, d := utc.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	}
	return utc
}

// limitFor 从策略中取出窗口对应的限额，0 表示不限。
func (w Window) limitFor(p provider.Policy) int {
	switch w {
	case WindowMinute:
		return p.RequestsPerMinute
	case WindowHour:
		return p.RequestsPerHour
	case WindowDay:
		return p.RequestsPerDay
	}
	return 0
}
