//go:build integration

package limiter_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sportsfetch/pkg/limiter"
	"sportsfetch/pkg/provider"
)

func redisClient(t *testing.T) *redis.Client {
	t.Helper()

	url := os.Getenv("REDIS_URL")
	if url == "" {
		url = "redis://127.0.0.1:6379"
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		t.Skipf("Redis 不可用，跳过集成测试: %v", err)
	}

	t.Cleanup(func() { client.Close() })
	return client
}

// TestRedisCountersIncr 测试真实 Redis 计数器的自增和读取
func TestRedisCountersIncr(t *testing.T) {
	counters := limiter.NewRedisCounters(redisClient(t))
	ctx := context.Background()
	key := "it:" + uuid.NewString()

	for want := int64(1); want <= 3; want++ {
		got, err := counters.Incr(ctx, key, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	val, err := counters.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(3), val)
}

// TestRedisCountersMissingKey 测试不存在的计数器读取为 0
func TestRedisCountersMissingKey(t *testing.T) {
	counters := limiter.NewRedisCounters(redisClient(t))

	val, err := counters.Get(context.Background(), "it:"+uuid.NewString())
	require.NoError(t, err)
	assert.Equal(t, int64(0), val)
}

// TestLimiterOverRedis 测试限流器在真实 Redis 计数器上的准入判断
func TestLimiterOverRedis(t *testing.T) {
	lim := limiter.New(limiter.NewRedisCounters(redisClient(t)))
	ctx := context.Background()

	// 随机提供商标识，避免与并行运行互相污染计数
	policy := provider.DefaultPolicy(provider.ID("it-" + uuid.NewString()))
	policy.RequestsPerMinute = 2
	policy.RequestsPerHour = 0
	policy.RequestsPerDay = 0

	// 临近分钟边界时等一下，避免计数跨窗口
	if s := time.Now().UTC().Second(); s > 55 {
		time.Sleep(time.Duration(61-s) * time.Second)
	}

	for i := 0; i < 2; i++ {
		decision, err := lim.Admit(ctx, policy)
		require.NoError(t, err)
		require.True(t, decision.Allowed)
		require.NoError(t, lim.RecordRequest(ctx, policy.Provider))
	}

	decision, err := lim.Admit(ctx, policy)
	require.NoError(t, err)
	assert.False(t, decision.Allowed, "超出分钟配额后应该拒绝")
	assert.Equal(t, limiter.WindowMinute, decision.Window)
	assert.Equal(t, int64(2), decision.Current)
}
