package limiter

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// redisKeyPrefix 计数器在 Redis 中的命名空间。
const redisKeyPrefix = "sf:rate:"

// memPurgeThreshold 内存计数器数量超过该值时触发过期清扫。
const memPurgeThreshold = 4096

// CounterStore 窗口计数器的存取接口。
// Redis 实现用于多实例共享配额，内存实现用于单实例或无 Redis 部署。
type CounterStore interface {
	// Incr 原子地将计数器加一并刷新存活时间，返回新值。
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Get 返回计数器当前值，不存在时返回 0。
	Get(ctx context.Context, key string) (int64, error)
}

type redisCounters struct {
	client *redis.Client
}

// NewRedisCounters 基于 Redis 的计数器存储。
func NewRedisCounters(client *redis.Client) CounterStore {
	return &redisCounters{client: client}
}

func (r *redisCounters) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKeyPrefix+key)
	pipe.Expire(ctx, redisKeyPrefix+key, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (r *redisCounters) Get(ctx context.Context, key string) (int64, error) {
	val, err := r.client.Get(ctx, redisKeyPrefix+key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

type memCounter struct {
	value     int64
	expiresAt time.Time
}

type memCounters struct {
	mu       sync.Mutex
	counters map[string]*memCounter
}

// NewMemCounters 进程内计数器存储。
func NewMemCounters() CounterStore {
	return &memCounters{counters: make(map[string]*memCounter)}
}

func (m *memCounters) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.counters[key]
	if !ok || !c.expiresAt.After(now) {
		c = &memCounter{}
		m.counters[key] = c
	}
	c.value++
	c.expiresAt = now.Add(ttl)

	if len(m.counters) > memPurgeThreshold {
		m.purgeLocked(now)
	}

	return c.value, nil
}

func (m *memCounters) Get(ctx context.Context, key string) (int64, error) {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.counters[key]
	if !ok || !c.expiresAt.After(now) {
		return 0, nil
	}
	return c.value, nil
}

func (m *memCounters) purgeLocked(now time.Time) {
	for key, c := range m.counters {
		if !c.expiresAt.After(now) {
			delete(m.counters, key)
		}
	}
}
