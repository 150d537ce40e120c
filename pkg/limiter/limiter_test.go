package limiter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sportsfetch/pkg/provider"
)

func testPolicy(perMinute, perHour, perDay int) provider.Policy {
	return provider.Policy{
		Provider:          provider.ESPN,
		RequestsPerMinute: perMinute,
		RequestsPerHour:   perHour,
		RequestsPerDay:    perDay,
	}
}

// TestAdmitUnderLimit 测试额度充足时放行
func TestAdmitUnderLimit(t *testing.T) {
	l := New(nil)
	ctx := context.Background()
	policy := testPolicy(10, 100, 1000)

	require.NoError(t, l.RecordRequest(ctx, policy.Provider))

	decision, err := l.Admit(ctx, policy)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

// TestAdmitDenied 测试窗口额度用尽时拒绝
func TestAdmitDenied(t *testing.T) {
	l := New(nil)
	ctx := context.Background()
	policy := testPolicy(2, 100, 1000)

	require.NoError(t, l.RecordRequest(ctx, policy.Provider))
	require.NoError(t, l.RecordRequest(ctx, policy.Provider))

	decision, err := l.Admit(ctx, policy)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, WindowMinute, decision.Window)
	assert.Equal(t, 2, decision.Limit)
	assert.Equal(t, int64(2), decision.Current)
}

// TestAdmitDoesNotIncrement 测试 Admit 是纯读操作
func TestAdmitDoesNotIncrement(t *testing.T) {
	l := New(nil)
	ctx := context.Background()
	policy := testPolicy(5, 0, 0)

	for i := 0; i < 20; i++ {
		decision, err := l.Admit(ctx, policy)
		require.NoError(t, err)
		assert.True(t, decision.Allowed, "Admit 本身不应消耗额度")
	}

	statuses, err := l.Status(ctx, policy)
	require.NoError(t, err)
	for _, s := range statuses {
		assert.Equal(t, int64(0), s.Current)
	}
}

// TestAdmitLargerWindowDenies 测试小窗口未满时大窗口仍可拒绝
func TestAdmitLargerWindowDenies(t *testing.T) {
	l := New(nil)
	ctx := context.Background()
	policy := testPolicy(100, 1, 0)

	require.NoError(t, l.RecordRequest(ctx, policy.Provider))

	decision, err := l.Admit(ctx, policy)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, WindowHour, decision.Window, "应该报告触发拒绝的窗口")
}

// TestAdmitUnlimited 测试全部窗口不限额
func TestAdmitUnlimited(t *testing.T) {
	l := New(nil)
	ctx := context.Background()
	policy := testPolicy(0, 0, 0)

	for i := 0; i < 50; i++ {
		require.NoError(t, l.RecordRequest(ctx, policy.Provider))
	}

	decision, err := l.Admit(ctx, policy)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

// TestRecordRequestAllWindows 测试一次登记计入所有窗口
func TestRecordRequestAllWindows(t *testing.T) {
	l := New(nil)
	ctx := context.Background()
	policy := testPolicy(10, 10, 10)

	for i := 0; i < 3; i++ {
		require.NoError(t, l.RecordRequest(ctx, policy.Provider))
	}

	statuses, err := l.Status(ctx, policy)
	require.NoError(t, err)
	require.Len(t, statuses, 3)
	for _, s := range statuses {
		assert.Equal(t, int64(3), s.Current, "窗口 %s 计数不正确", s.Window)
		assert.Equal(t, int64(7), s.Remaining)
		assert.True(t, s.ResetAt.After(time.Now().UTC().Add(-time.Minute)))
	}
}

// TestWindowRollover 测试窗口翻转后计数重新开始
func TestWindowRollover(t *testing.T) {
	l := New(nil)
	ctx := context.Background()
	policy := testPolicy(2, 0, 0)

	base := time.Date(2026, 8, 21, 15, 30, 59, 0, time.UTC)
	l.now = func() time.Time { return base }

	require.NoError(t, l.RecordRequest(ctx, policy.Provider))
	require.NoError(t, l.RecordRequest(ctx, policy.Provider))

	decision, err := l.Admit(ctx, policy)
	require.NoError(t, err)
	require.False(t, decision.Allowed)

	// 跨过分钟边界
	l.now = func() time.Time { return base.Add(time.Second) }

	decision, err = l.Admit(ctx, policy)
	require.NoError(t, err)
	assert.True(t, decision.Allowed, "新窗口应该从零开始计数")
}

// TestStatusUnlimitedWindows 测试不限额窗口的状态展示
func TestStatusUnlimitedWindows(t *testing.T) {
	l := New(nil)
	ctx := context.Background()
	policy := testPolicy(5, 0, 0)

	require.NoError(t, l.RecordRequest(ctx, policy.Provider))

	statuses, err := l.Status(ctx, policy)
	require.NoError(t, err)
	require.Len(t, statuses, 3)

	assert.Equal(t, 5, statuses[0].Limit)
	assert.Equal(t, int64(4), statuses[0].Remaining)

	assert.Equal(t, 0, statuses[1].Limit)
	assert.Equal(t, int64(-1), statuses[1].Remaining, "不限额窗口的剩余量为 -1")
	assert.Equal(t, int64(1), statuses[1].Current, "不限额窗口仍然记录用量")
}

// TestConcurrentRecord 测试并发登记不丢计数
func TestConcurrentRecord(t *testing.T) {
	l := New(nil)
	ctx := context.Background()
	policy := testPolicy(0, 0, 0)

	const goroutines = 20
	const perGoroutine = 50

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				_ = l.RecordRequest(ctx, policy.Provider)
			}
		}()
	}
	wg.Wait()

	statuses, err := l.Status(ctx, policy)
	require.NoError(t, err)
	for _, s := range statuses {
		assert.Equal(t, int64(goroutines*perGoroutine), s.Current,
			"窗口 %s 在并发下丢失计数", s.Window)
	}
}

// TestRedisCounters 测试 Redis 计数器的自增和存活时间
func TestRedisCounters(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	counters := NewRedisCounters(client)
	ctx := context.Background()

	val, err := counters.Incr(ctx, "espn:minute:202608211530", 120*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), val)

	val, err = counters.Incr(ctx, "espn:minute:202608211530", 120*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(2), val)

	ttl := mr.TTL(redisKeyPrefix + "espn:minute:202608211530")
	assert.Equal(t, 120*time.Second, ttl, "计数器应该带有存活时间")

	val, err = counters.Get(ctx, "espn:minute:202608211530")
	require.NoError(t, err)
	assert.Equal(t, int64(2), val)

	val, err = counters.Get(ctx, "absent")
	require.NoError(t, err)
	assert.Equal(t, int64(0), val, "不存在的计数器读作 0")
}

// TestRedisCountersExpiry 测试计数器到期后从零开始
func TestRedisCountersExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	counters := NewRedisCounters(client)
	ctx := context.Background()

	_, err := counters.Incr(ctx, "k", time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	val, err := counters.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(0), val)
}

// TestLimiterWithRedis 测试 Redis 存储下的限流判定
func TestLimiterWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	l := New(NewRedisCounters(client))
	ctx := context.Background()
	policy := testPolicy(2, 0, 0)

	require.NoError(t, l.RecordRequest(ctx, policy.Provider))

	decision, err := l.Admit(ctx, policy)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	require.NoError(t, l.RecordRequest(ctx, policy.Provider))

	decision, err = l.Admit(ctx, policy)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}

// TestAdmitFailOpen 测试计数器后端故障时放行
func TestAdmitFailOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	l := New(NewRedisCounters(client))
	ctx := context.Background()
	policy := testPolicy(1, 0, 0)

	mr.Close()

	decision, err := l.Admit(ctx, policy)
	assert.Error(t, err, "后端故障应该向调用方暴露")
	assert.True(t, decision.Allowed, "后端故障时放行，避免故障放大为全面拒绝")
}
