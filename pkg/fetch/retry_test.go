package fetch

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestClassifyAttempt 测试尝试结果分类
func TestClassifyAttempt(t *testing.T) {
	cases := []struct {
		name   string
		status int
		err    error
		want   AttemptClass
	}{
		{"200 成功", http.StatusOK, nil, ClassSuccess},
		{"204 成功", http.StatusNoContent, nil, ClassSuccess},
		{"429 限流", http.StatusTooManyRequests, nil, ClassRetryAfter},
		{"403 凭证", http.StatusForbidden, nil, ClassForbidden},
		{"500 可重试", http.StatusInternalServerError, nil, ClassRetryable},
		{"404 可重试", http.StatusNotFound, nil, ClassRetryable},
		{"网络错误", 0, errors.New("connection refused"), ClassRetryable},
		{"带状态码的传输错误", http.StatusOK, errors.New("read timeout"), ClassRetryable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, classifyAttempt(tc.status, tc.err))
		})
	}
}

// TestBackoffDelay 测试指数退避时长
func TestBackoffDelay(t *testing.T) {
	base := 100 * time.Millisecond

	assert.Equal(t, 100*time.Millisecond, backoffDelay(base, 0))
	assert.Equal(t, 200*time.Millisecond, backoffDelay(base, 1))
	assert.Equal(t, 400*time.Millisecond, backoffDelay(base, 2))

	// 基准未配置时使用缺省值
	assert.Equal(t, 500*time.Millisecond, backoffDelay(0, 0))

	// 指数封顶，不会溢出
	assert.Equal(t, backoffDelay(base, 16), backoffDelay(base, 100))
}

// TestParseRetryAfter 测试 Retry-After 两种格式的解析
func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{"秒数", "30", 30 * time.Second},
		{"零秒", "0", 0},
		{"负秒数", "-5", 0},
		{"HTTP 日期", now.Add(90 * time.Second).Format(http.TimeFormat), 90 * time.Second},
		{"过去的日期", now.Add(-time.Minute).Format(http.TimeFormat), 0},
		{"空值", "", 0},
		{"垃圾输入", "soon", 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, parseRetryAfter(tc.value, now))
		})
	}
}

// TestSleepCtxCancel 测试等待被取消时立即返回
func TestSleepCtxCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := sleepCtx(ctx, 5*time.Second)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

// TestSleepCtxZero 测试零时长不等待
func TestSleepCtxZero(t *testing.T) {
	assert.NoError(t, sleepCtx(context.Background(), 0))
	assert.NoError(t, sleepCtx(context.Background(), -time.Second))
}

// TestStatusClass 测试状态码折叠
func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(200))
	assert.Equal(t, "3xx", statusClass(304))
	assert.Equal(t, "4xx", statusClass(429))
	assert.Equal(t, "5xx", statusClass(503))
	assert.Equal(t, "network_error", statusClass(0))
}
