package limiter

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"sportsfetch/pkg/logger"
	"sportsfetch/pkg/metrics"
	"sportsfetch/pkg/provider"
)

// Limiter 固定窗口限流器，对每个提供商同时维护分钟、小时、天
// 三个粒度的计数器。Admit 只读不写，实际用量由 RecordRequest
// 在每次上游调用前登记，确保重试的每一次物理请求都计入配额。
type Limiter struct {
	counters CounterStore
	log      *logrus.Entry
	now      func() time.Time
}

// Decision Admit 的判定结果。拒绝时带上触发的窗口和当前用量。
type Decision struct {
	Allowed bool
	Window  Window
	Limit   int
	Current int64
}

// WindowStatus 单个窗口的用量快照。
type WindowStatus struct {
	Window    Window    `json:"window"`
	Limit     int       `json:"limit"`     // 0 表示不限
	Current   int64     `json:"current"`
	Remaining int64     `json:"remaining"` // -1 表示不限
	ResetAt   time.Time `json:"reset_at"`
}

// New 创建限流器。counters 为 nil 时使用进程内计数器。
func New(counters CounterStore) *Limiter {
	if counters == nil {
		counters = NewMemCounters()
	}
	return &Limiter{
		counters: counters,
		log:      logger.WithComponent("limiter"),
		now:      time.Now,
	}
}

// Admit 判断当前是否允许向提供商发起请求，不修改任何计数。
// 多个窗口超限时报告最小的那个。计数器后端故障时放行并返回
// 底层错误，Redis 故障不应放大为全面拒绝。
func (l *Limiter) Admit(ctx context.Context, policy provider.Policy) (Decision, error) {
	now := l.now()

	for _, w := range windows {
		limit := w.limitFor(policy)
		if limit <= 0 {
			continue
		}

		current, err := l.counters.Get(ctx, w.CounterKey(policy.Provider, now))
		if err != nil {
			l.log.WithError(err).WithField("provider", policy.Provider).
				Warn("计数器读取失败，本次放行")
			return Decision{Allowed: true}, err
		}

		if current >= int64(limit) {
			metrics.RateLimitDeniedTotal.WithLabelValues(string(policy.Provider), string(w)).Inc()
			return Decision{
				Allowed: false,
				Window:  w,
				Limit:   limit,
				Current: current,
			}, nil
		}
	}

	return Decision{Allowed: true}, nil
}

// RecordRequest 将一次即将发出的上游请求计入所有窗口。
// 必须在发起 HTTP 请求之前调用。部分窗口登记失败时
// 继续登记其余窗口，返回第一个错误。
func (l *Limiter) RecordRequest(ctx context.Context, id provider.ID) error {
	now := l.now()

	var firstErr error
	for _, w := range windows {
		if _, err := l.counters.Incr(ctx, w.CounterKey(id, now), w.CounterTTL()); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if firstErr != nil {
		l.log.WithError(firstErr).WithField("provider", id).Warn("计数器登记失败")
	}
	return firstErr
}

// Status 返回提供商三个窗口的用量快照。
func (l *Limiter) Status(ctx context.Context, policy provider.Policy) ([]WindowStatus, error) {
	now := l.now()

	statuses := make([]WindowStatus, 0, len(windows))
	for _, w := range windows {
		current, err := l.counters.Get(ctx, w.CounterKey(policy.Provider, now))
		if err != nil {
			return nil, err
		}

		limit := w.limitFor(policy)
		remaining := int64(-1)
		if limit > 0 {
			remaining = int64(limit) - current
			if remaining < 0 {
				remaining = 0
			}
		}

		statuses = append(statuses, WindowStatus{
			Window:    w,
			Limit:     limit,
			Current:   current,
			Remaining: remaining,
			ResetAt:   w.ResetAt(now),
		})
	}

	return statuses, nil
}
