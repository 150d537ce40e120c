package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend 内存后端，支持故障注入，用于验证分层行为。
type fakeBackend struct {
	mu      sync.Mutex
	entries map[string]*Entry
	failing bool

	setCalls    int
	lastSetTTL  time.Duration
	sweepResult int64
}

var _ Backend = (*fakeBackend)(nil)

func newFakeBackend() *fakeBackend {
	return &fakeBackend{entries: make(map[string]*Entry)}
}

func (f *fakeBackend) fail() *CacheError {
	return NewCacheError(ErrCacheBackend, "injected backend failure")
}

func (f *fakeBackend) Get(ctx context.Context, key string) (*Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return nil, f.fail()
	}
	entry, ok := f.entries[key]
	if !ok || entry.Expired(time.Now()) {
		return nil, ErrCacheMissNotFound
	}
	return entry, nil
}

func (f *fakeBackend) GetStale(ctx context.Context, key string) (*Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return nil, f.fail()
	}
	entry, ok := f.entries[key]
	if !ok {
		return nil, ErrCacheMissNotFound
	}
	return entry, nil
}

func (f *fakeBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return f.fail()
	}
	now := time.Now()
	f.setCalls++
	f.lastSetTTL = ttl
	f.entries[key] = &Entry{
		Key:       key,
		Value:     value,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
		UpdatedAt: now,
	}
	return nil
}

func (f *fakeBackend) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return f.fail()
	}
	delete(f.entries, key)
	return nil
}

func (f *fakeBackend) DeleteByPrefix(ctx context.Context, prefix string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return 0, f.fail()
	}
	var removed int64
	for k := range f.entries {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(f.entries, k)
			removed++
		}
	}
	return removed, nil
}

func (f *fakeBackend) Sweep(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return 0, f.fail()
	}
	return f.sweepResult, nil
}

func (f *fakeBackend) Stats(ctx context.Context) (Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return Stats{}, f.fail()
	}
	return Stats{Entries: int64(len(f.entries))}, nil
}

func (f *fakeBackend) Ping(ctx context.Context) error {
	if f.failing {
		return f.fail()
	}
	return nil
}

func (f *fakeBackend) Close() error { return nil }

func (f *fakeBackend) plant(key string, value []byte, ttl time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	f.entries[key] = &Entry{
		Key:       key,
		Value:     value,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TestStoreDurableOnly 测试未配置易失层时的纯持久层模式
func TestStoreDurableOnly(t *testing.T) {
	durable := newFakeBackend()
	store := NewStore(nil, durable)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))

	entry, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), entry.Value)
}

// TestStoreVolatileHit 测试易失层命中时不访问持久层
func TestStoreVolatileHit(t *testing.T) {
	volatile := newFakeBackend()
	durable := newFakeBackend()
	store := NewStore(volatile, durable)
	ctx := context.Background()

	volatile.plant("k", []byte("hot"), time.Minute)
	durable.plant("k", []byte("cold"), time.Minute)

	entry, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("hot"), entry.Value, "应该返回易失层的值")
}

// TestStoreBackfill 测试持久层命中后回填易失层
func TestStoreBackfill(t *testing.T) {
	volatile := newFakeBackend()
	durable := newFakeBackend()
	store := NewStore(volatile, durable)
	ctx := context.Background()

	durable.plant("k", []byte("v"), time.Minute)

	entry, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), entry.Value)

	volatile.mu.Lock()
	defer volatile.mu.Unlock()
	assert.Equal(t, 1, volatile.setCalls, "持久层命中后应该回填易失层")
	assert.Greater(t, volatile.lastSetTTL, time.Duration(0))
	assert.LessOrEqual(t, volatile.lastSetTTL, time.Minute, "回填 TTL 不应超过剩余有效期")
}

// TestStoreVolatileFailureSoft 测试易失层故障不影响读写
func TestStoreVolatileFailureSoft(t *testing.T) {
	volatile := newFakeBackend()
	volatile.failing = true
	durable := newFakeBackend()
	store := NewStore(volatile, durable)
	ctx := context.Background()

	// 写入仍然成功
	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))

	// 读取降级到持久层
	entry, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), entry.Value)

	// 删除和清理同样不受影响
	assert.NoError(t, store.Delete(ctx, "k"))
	_, err = store.Sweep(ctx)
	assert.NoError(t, err)
}

// TestStoreDurableFailureHard 测试持久层写入故障向上传播
func TestStoreDurableFailureHard(t *testing.T) {
	durable := newFakeBackend()
	durable.failing = true
	store := NewStore(nil, durable)

	err := store.Set(context.Background(), "k", []byte("v"), time.Minute)
	assert.Error(t, err)
	assert.False(t, IsMiss(err))
}

// TestStoreDurableFailureStillWritesVolatile 测试持久层写入故障时易失层仍然写入
func TestStoreDurableFailureStillWritesVolatile(t *testing.T) {
	volatile := newFakeBackend()
	durable := newFakeBackend()
	durable.failing = true
	store := NewStore(volatile, durable)
	ctx := context.Background()

	err := store.Set(ctx, "k", []byte("v"), time.Minute)
	assert.Error(t, err, "持久层写入故障仍然向上传播")

	// 两层独立写入，单独一层成功即可支撑后续读取
	volatile.mu.Lock()
	assert.Equal(t, 1, volatile.setCalls, "持久层故障不应阻止易失层写入")
	volatile.mu.Unlock()

	entry, getErr := store.Get(ctx, "k")
	require.NoError(t, getErr)
	assert.Equal(t, []byte("v"), entry.Value, "易失层应该能提供这次读取")
}

// TestStoreGetStale 测试陈旧读取由持久层提供
func TestStoreGetStale(t *testing.T) {
	volatile := newFakeBackend()
	durable := newFakeBackend()
	store := NewStore(volatile, durable)
	ctx := context.Background()

	durable.plant("k", []byte("stale"), -time.Second)

	_, err := store.Get(ctx, "k")
	assert.True(t, IsMiss(err), "过期条目对 Get 不可见")

	entry, err := store.GetStale(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("stale"), entry.Value)
}

// TestStoreDeleteByPrefixCount 测试前缀删除计数以持久层为准
func TestStoreDeleteByPrefixCount(t *testing.T) {
	volatile := newFakeBackend()
	durable := newFakeBackend()
	store := NewStore(volatile, durable)
	ctx := context.Background()

	volatile.plant("espn:a", []byte("1"), time.Minute)
	durable.plant("espn:a", []byte("1"), time.Minute)
	durable.plant("espn:b", []byte("2"), time.Minute)

	removed, err := store.DeleteByPrefix(ctx, "espn:")
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed, "计数应该来自持久层")
}

// TestStoreHealth 测试各层健康状态上报
func TestStoreHealth(t *testing.T) {
	volatile := newFakeBackend()
	durable := newFakeBackend()
	store := NewStore(volatile, durable)

	health := store.Health(context.Background())
	assert.True(t, health["durable"].Healthy)
	assert.True(t, health["volatile"].Configured)
	assert.True(t, health["volatile"].Healthy)

	volatile.failing = true
	health = store.Health(context.Background())
	assert.False(t, health["volatile"].Healthy)
	assert.NotEmpty(t, health["volatile"].Error)
	assert.True(t, health["durable"].Healthy, "易失层故障不影响持久层状态")

	store = NewStore(nil, durable)
	health = store.Health(context.Background())
	assert.False(t, health["volatile"].Configured)
}

// TestStoreStats 测试统计聚合
func TestStoreStats(t *testing.T) {
	volatile := newFakeBackend()
	durable := newFakeBackend()
	store := NewStore(volatile, durable)
	ctx := context.Background()

	durable.plant("a", []byte("1"), time.Minute)
	durable.plant("b", []byte("2"), time.Minute)
	volatile.plant("a", []byte("1"), time.Minute)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Durable.Entries)
	require.NotNil(t, stats.Volatile)
	assert.Equal(t, int64(1), stats.Volatile.Entries)

	// 易失层统计失败时降级
	volatile.failing = true
	stats, err = store.Stats(ctx)
	require.NoError(t, err)
	assert.Nil(t, stats.Volatile)
}
