package cache

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"sportsfetch/pkg/logger"
	"sportsfetch/pkg/metrics"
)

// Store 两级读穿/写穿缓存。
// 读取顺序为易失层、持久层，持久层命中时回填易失层。
// 易失层的任何故障都只记录日志并降级，不影响调用方；
// 持久层是条目数量和陈旧数据的权威来源。
type Store struct {
	volatile Backend
	durable  Backend
	log      *logrus.Entry
}

// TierStats 各层条目统计。易失层未配置或不可用时为 nil。
type TierStats struct {
	Volatile *Stats `json:"volatile,omitempty"`
	Durable  Stats  `json:"durable"`
}

// TierHealth 单层后端健康状态。
type TierHealth struct {
	Configured bool   `json:"configured"`
	Healthy    bool   `json:"healthy"`
	Error      string `json:"error,omitempty"`
}

// NewStore 组装两级缓存。volatile 可为 nil，表示仅持久层模式。
func NewStore(volatile, durable Backend) *Store {
	return &Store{
		volatile: volatile,
		durable:  durable,
		log:      logger.WithComponent("cache.store"),
	}
}

// Open 按配置打开两级缓存。backendURL 为空时不启用易失层。
func Open(backendURL, durablePath string, opTimeout time.Duration) (*Store, error) {
	durable, err := NewDurableBackend(durablePath)
	if err != nil {
		return nil, err
	}

	var volatile Backend
	if backendURL != "" {
		volatile, err = NewVolatileBackend(backendURL, opTimeout)
		if err != nil {
			durable.Close()
			return nil, err
		}
	}

	return NewStore(volatile, durable), nil
}

// Get 获取一个未过期的条目。
// 条目不存在或已过期时返回 ErrCacheMiss 类错误。
func (s *Store) Get(ctx context.Context, key string) (*Entry, error) {
	if s.volatile != nil {
		entry, err := s.volatile.Get(ctx, key)
		if err == nil {
			metrics.CacheLookupsTotal.WithLabelValues("volatile", "hit").Inc()
			return entry, nil
		}
		if !IsMiss(err) {
			metrics.CacheLookupsTotal.WithLabelValues("volatile", "error").Inc()
			s.log.WithError(err).Warn("易失层读取失败，降级到持久层")
		} else {
			metrics.CacheLookupsTotal.WithLabelValues("volatile", "miss").Inc()
		}
	}

	entry, err := s.durable.Get(ctx, key)
	if err != nil {
		if IsMiss(err) {
			metrics.CacheLookupsTotal.WithLabelValues("durable", "miss").Inc()
		} else {
			metrics.CacheLookupsTotal.WithLabelValues("durable", "error").Inc()
		}
		return nil, err
	}

	metrics.CacheLookupsTotal.WithLabelValues("durable", "hit").Inc()
	s.backfill(ctx, entry)
	return entry, nil
}

// GetStale 获取一个条目，允许已过期。降级路径使用。
func (s *Store) GetStale(ctx context.Context, key string) (*Entry, error) {
	if s.volatile != nil {
		entry, err := s.volatile.Get(ctx, key)
		if err == nil {
			return entry, nil
		}
		if !IsMiss(err) {
			s.log.WithError(err).Warn("易失层读取失败，降级到持久层")
		}
	}

	return s.durable.GetStale(ctx, key)
}

// Set 写穿两层。两层独立写入：任一层失败不阻止另一层，
// 单独一层写成功即可支撑后续读取。易失层失败只记录日志，
// 持久层失败在两层都尝试后返回错误。
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if s.volatile != nil {
		if err := s.volatile.Set(ctx, key, value, ttl); err != nil {
			metrics.CacheWritesTotal.WithLabelValues("volatile", "error").Inc()
			s.log.WithError(err).Warn("易失层写入失败")
		} else {
			metrics.CacheWritesTotal.WithLabelValues("volatile", "ok").Inc()
		}
	}

	if err := s.durable.Set(ctx, key, value, ttl); err != nil {
		metrics.CacheWritesTotal.WithLabelValues("durable", "error").Inc()
		return err
	}
	metrics.CacheWritesTotal.WithLabelValues("durable", "ok").Inc()
	return nil
}

// Delete 从两层删除条目。
func (s *Store) Delete(ctx context.Context, key string) error {
	if s.volatile != nil {
		if err := s.volatile.Delete(ctx, key); err != nil {
			s.log.WithError(err).Warn("易失层删除失败")
		}
	}
	return s.durable.Delete(ctx, key)
}

// DeleteByPrefix 从两层删除所有指定前缀的条目。
// 返回值为持久层删除数量，持久层是数量的权威来源。
func (s *Store) DeleteByPrefix(ctx context.Context, prefix string) (int64, error) {
	if s.volatile != nil {
		if _, err := s.volatile.DeleteByPrefix(ctx, prefix); err != nil {
			s.log.WithError(err).Warn("易失层前缀删除失败")
		}
	}
	return s.durable.DeleteByPrefix(ctx, prefix)
}

// Sweep 清理持久层中已过期的条目。易失层由 TTL 自行驱逐。
func (s *Store) Sweep(ctx context.Context) (int64, error) {
	removed, err := s.durable.Sweep(ctx)
	if err != nil {
		return 0, err
	}
	metrics.CacheSweepRemovedTotal.Add(float64(removed))
	return removed, nil
}

// Stats 返回各层条目统计。
func (s *Store) Stats(ctx context.Context) (TierStats, error) {
	durable, err := s.durable.Stats(ctx)
	if err != nil {
		return TierStats{}, err
	}

	ts := TierStats{Durable: durable}
	if s.volatile != nil {
		if vs, err := s.volatile.Stats(ctx); err == nil {
			ts.Volatile = &vs
		} else {
			s.log.WithError(err).Warn("易失层统计失败")
		}
	}
	return ts, nil
}

// Health 返回各层连通性状态，键为 volatile 和 durable。
func (s *Store) Health(ctx context.Context) map[string]TierHealth {
	health := map[string]TierHealth{
		"volatile": {Configured: false},
		"durable":  {Configured: true},
	}

	if err := s.durable.Ping(ctx); err != nil {
		health["durable"] = TierHealth{Configured: true, Error: err.Error()}
	} else {
		health["durable"] = TierHealth{Configured: true, Healthy: true}
	}

	if s.volatile != nil {
		if err := s.volatile.Ping(ctx); err != nil {
			health["volatile"] = TierHealth{Configured: true, Error: err.Error()}
		} else {
			health["volatile"] = TierHealth{Configured: true, Healthy: true}
		}
	}

	return health
}

// Close 释放两层后端资源。
func (s *Store) Close() error {
	if s.volatile != nil {
		if err := s.volatile.Close(); err != nil {
			s.log.WithError(err).Warn("易失层关闭失败")
		}
	}
	return s.durable.Close()
}

// backfill 持久层命中后按剩余 TTL 回填易失层。
func (s *Store) backfill(ctx context.Context, entry *Entry) {
	if s.volatile == nil {
		return
	}

	remaining := time.Until(entry.ExpiresAt)
	if remaining <= 0 {
		return
	}

	if err := s.volatile.Set(ctx, entry.Key, entry.Value, remaining); err != nil {
		s.log.WithError(err).Debug("易失层回填失败")
	}
}
