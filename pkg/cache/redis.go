package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"sportsfetch/pkg/logger"
)

const (
	volatilePrefix = "sf:cache:"
	scanBatch      = 100
)

// VolatileBackend 基于 Redis 的易失缓存层。
// 所有读写都经过一个熔断器守护：Redis 不可用时快速失败，
// 由上层 Store 降级到持久层，避免每次请求都等待连接超时。
type VolatileBackend struct {
	client    *redis.Client
	guard     *gobreaker.CircuitBreaker
	opTimeout time.Duration
	log       *logrus.Entry
}

var _ Backend = (*VolatileBackend)(nil)

// volatileEntry Redis 中存储的条目信封，时间戳为 Unix 秒。
type volatileEntry struct {
	Value     []byte `json:"v"`
	ExpiresAt int64  `json:"exp"`
	CreatedAt int64  `json:"cre"`
	UpdatedAt int64  `json:"upd"`
}

// NewVolatileBackend 根据 Redis URL 创建易失层后端。
// 启动时连接失败只记录警告，后续操作由熔断器快速失败，
// 易失层恢复后自动重新投入使用。
func NewVolatileBackend(url string, opTimeout time.Duration) (*VolatileBackend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, wrapBackendErr("invalid volatile backend url", err)
	}

	client := redis.NewClient(opts)
	log := logger.WithComponent("cache.volatile")

	v := &VolatileBackend{
		client:    client,
		opTimeout: opTimeout,
		log:       log,
	}

	v.guard = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "volatile-cache",
		MaxRequests: 3,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warnf("易失层熔断器 %s 状态变更: %s -> %s", name, from, to)
		},
	})

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.WithError(err).Warn("易失层连接失败，降级为仅持久层直到恢复")
	}

	return v, nil
}

func (v *VolatileBackend) Get(ctx context.Context, key string) (*Entry, error) {
	return v.get(ctx, key, false)
}

func (v *VolatileBackend) GetStale(ctx context.Context, key string) (*Entry, error) {
	return v.get(ctx, key, true)
}

func (v *VolatileBackend) get(ctx context.Context, key string, stale bool) (*Entry, error) {
	res, err := v.guard.Execute(func() (interface{}, error) {
		opCtx, cancel := context.WithTimeout(ctx, v.opTimeout)
		defer cancel()

		data, err := v.client.Get(opCtx, volatilePrefix+key).Bytes()
		if err == redis.Nil {
			// 未命中不算后端故障
			return nil, nil
		}
		return data, err
	})
	if err != nil {
		return nil, wrapBackendErr("volatile get failed", err)
	}
	if res == nil {
		return nil, ErrCacheMissNotFound
	}

	var ve volatileEntry
	if err := json.Unmarshal(res.([]byte), &ve); err != nil {
		se := NewCacheError(ErrCacheSerialization, "volatile entry decode failed")
		se.Cause = err
		return nil, se
	}

	entry := &Entry{
		Key:       key,
		Value:     ve.Value,
		ExpiresAt: time.Unix(ve.ExpiresAt, 0),
		CreatedAt: time.Unix(ve.CreatedAt, 0),
		UpdatedAt: time.Unix(ve.UpdatedAt, 0),
	}
	if !stale && entry.Expired(time.Now()) {
		return nil, ErrCacheMissNotFound
	}

	return entry, nil
}

func (v *VolatileBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := time.Now()
	data, err := json.Marshal(volatileEntry{
		Value:     value,
		ExpiresAt: now.Add(ttl).Unix(),
		CreatedAt: now.Unix(),
		UpdatedAt: now.Unix(),
	})
	if err != nil {
		se := NewCacheError(ErrCacheSerialization, "volatile entry encode failed")
		se.Cause = err
		return se
	}

	_, err = v.guard.Execute(func() (interface{}, error) {
		opCtx, cancel := context.WithTimeout(ctx, v.opTimeout)
		defer cancel()
		return nil, v.client.Set(opCtx, volatilePrefix+key, data, ttl).Err()
	})
	if err != nil {
		return wrapBackendErr("volatile set failed", err)
	}
	return nil
}

func (v *VolatileBackend) Delete(ctx context.Context, key string) error {
	_, err := v.guard.Execute(func() (interface{}, error) {
		opCtx, cancel := context.WithTimeout(ctx, v.opTimeout)
		defer cancel()
		return nil, v.client.Del(opCtx, volatilePrefix+key).Err()
	})
	if err != nil {
		return wrapBackendErr("volatile delete failed", err)
	}
	return nil
}

func (v *VolatileBackend) DeleteByPrefix(ctx context.Context, prefix string) (int64, error) {
	res, err := v.guard.Execute(func() (interface{}, error) {
		match := escapeMatch(volatilePrefix+prefix) + "*"
		var removed int64
		keys := make([]string, 0, scanBatch)

		iter := v.client.Scan(ctx, 0, match, scanBatch).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
			if len(keys) >= scanBatch {
				n, err := v.client.Del(ctx, keys...).Result()
				if err != nil {
					return removed, err
				}
				removed += n
				keys = keys[:0]
			}
		}
		if err := iter.Err(); err != nil {
			return removed, err
		}
		if len(keys) > 0 {
			n, err := v.client.Del(ctx, keys...).Result()
			if err != nil {
				return removed, err
			}
			removed += n
		}
		return removed, nil
	})
	if err != nil {
		return 0, wrapBackendErr("volatile delete by prefix failed", err)
	}
	return res.(int64), nil
}

// Sweep 易失层条目由 Redis TTL 驱逐，无需清理。
func (v *VolatileBackend) Sweep(ctx context.Context) (int64, error) {
	return 0, nil
}

func (v *VolatileBackend) Stats(ctx context.Context) (Stats, error) {
	res, err := v.guard.Execute(func() (interface{}, error) {
		var count int64
		iter := v.client.Scan(ctx, 0, escapeMatch(volatilePrefix)+"*", scanBatch).Iterator()
		for iter.Next(ctx) {
			count++
		}
		if err := iter.Err(); err != nil {
			return int64(0), err
		}
		return count, nil
	})
	if err != nil {
		return Stats{}, wrapBackendErr("volatile stats failed", err)
	}
	return Stats{Entries: res.(int64)}, nil
}

// Ping 绕过熔断器直接探测，健康检查需要真实的后端状态。
func (v *VolatileBackend) Ping(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, v.opTimeout)
	defer cancel()
	if err := v.client.Ping(opCtx).Err(); err != nil {
		return wrapBackendErr("volatile ping failed", err)
	}
	return nil
}

func (v *VolatileBackend) Close() error {
	return v.client.Close()
}

// wrapBackendErr 将驱动层错误包装为缓存错误，超时单独标记。
func wrapBackendErr(message string, cause error) *CacheError {
	code := ErrCacheBackend
	if errors.Is(cause, context.DeadlineExceeded) {
		code = ErrCacheTimeout
	}
	ce := NewCacheError(code, message)
	ce.Cause = cause
	return ce
}

// escapeMatch 转义 Redis MATCH 模式中的通配符，
// 缓存键本身可能包含 '?'、'*' 等字符。
func escapeMatch(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(s)
}
