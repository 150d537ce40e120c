package cache

import (
	"sportsfetch/pkg/error"
)

type CacheError struct {
	error.BaseError
}

const (
	// ErrCacheMiss 表示在缓存中未找到请求的条目。
	ErrCacheMiss error.ErrorCode = "CACHE_MISS"
	// ErrCacheSerialization 表示条目编码或解码失败。
	ErrCacheSerialization error.ErrorCode = "CACHE_SERIALIZATION"
	// ErrCacheBackend 表示缓存后端操作失败。
	ErrCacheBackend error.ErrorCode = "CACHE_BACKEND"
	// ErrCacheTimeout 表示缓存操作超时。
	ErrCacheTimeout error.ErrorCode = "CACHE_TIMEOUT"
)

var (
	ErrCacheMissNotFound    = NewCacheError(ErrCacheMiss, "cache entry not found")
	ErrCacheTimeoutExceeded = NewCacheError(ErrCacheTimeout, "cache operation timeout")
)

func NewCacheError(code error.ErrorCode, message string) *CacheError {
	return &CacheError{
		BaseError: *error.NewError(code, message),
	}
}
