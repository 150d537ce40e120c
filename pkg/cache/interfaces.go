package cache

import (
	"context"
	"errors"
	"time"
)

// Backend 定义了单层缓存后端的行为。
// 两级缓存中的每一层（易失层 Redis、持久层 SQLite）都实现此接口。
type Backend interface {
	// Get 获取一个未过期的条目，条目不存在或已过期时返回 ErrCacheMiss。
	Get(ctx context.Context, key string) (*Entry, error)
	// GetStale 获取一个条目，不检查过期时间。
	// 易失层条目到期后由后端自行驱逐，因此陈旧读取实际上只由持久层提供。
	GetStale(ctx context.Context, key string) (*Entry, error)
	// Set 写入一个条目并指定 TTL。
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete 删除一个条目，条目不存在时不报错。
	Delete(ctx context.Context, key string) error
	// DeleteByPrefix 删除所有指定前缀的条目，返回删除数量。
	DeleteByPrefix(ctx context.Context, prefix string) (int64, error)
	// Sweep 清理已过期的条目，返回清理数量。TTL 原生驱逐的后端返回 0。
	Sweep(ctx context.Context) (int64, error)
	// Stats 返回后端当前的条目统计。
	Stats(ctx context.Context) (Stats, error)
	// Ping 检查后端连通性。
	Ping(ctx context.Context) error
	// Close 释放后端持有的资源。
	Close() error
}

// Entry 代表缓存中的一个条目。
type Entry struct {
	Key       string    `json:"key"`
	Value     []byte    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Expired 判断条目在给定时刻是否已过期。
func (e *Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.After(now)
}

// Stats 单层后端的条目统计信息。
type Stats struct {
	Entries int64 `json:"entries"` // 当前条目数
	Expired int64 `json:"expired"` // 其中已过期但尚未清理的条目数
}

// IsMiss 判断错误是否为缓存未命中。
func IsMiss(err error) bool {
	var ce *CacheError
	return errors.As(err, &ce) && ce.Code == ErrCacheMiss
}
