package fetch

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// AttemptClass 单次上游请求结果的分类，决定重试行为。
type AttemptClass int

const (
	ClassSuccess    AttemptClass = iota // 2xx，结束重试
	ClassRetryAfter                     // 429，按服务端指示的时长等待
	ClassForbidden                      // 403，凭证问题，立即终止
	ClassRetryable                      // 其他 HTTP 错误或网络错误，指数退避
)

// classifyAttempt 根据状态码和传输错误对一次请求分类。
// err 非空表示请求没有得到 HTTP 响应（网络错误、超时）。
func classifyAttempt(status int, err error) AttemptClass {
	if err != nil {
		return ClassRetryable
	}

	switch {
	case status >= 200 && status < 300:
		return ClassSuccess
	case status == http.StatusTooManyRequests:
		return ClassRetryAfter
	case status == http.StatusForbidden:
		return ClassForbidden
	default:
		return ClassRetryable
	}
}

// backoffDelay 指数退避时长: baseBackoff * 2^exponent。
// Retry-After 等待不推进 exponent，429 之后的普通错误仍按
// 原有的退避节奏继续。
func backoffDelay(base time.Duration, exponent int) time.Duration {
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	if exponent > 16 {
		exponent = 16
	}
	return base * time.Duration(1<<exponent)
}

// parseRetryAfter 解析 Retry-After 头，支持秒数和 HTTP 日期两种格式。
// 无法解析时返回 0，调用方退回指数退避。
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}

	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}

	if at, err := http.ParseTime(value); err == nil {
		d := at.Sub(now)
		if d < 0 {
			return 0
		}
		return d
	}

	return 0
}

// sleepCtx 可取消的等待。上下文取消时立即返回其错误。
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// statusClass 把状态码折叠成指标用的级别标签。
func statusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "network_error"
	}
}
