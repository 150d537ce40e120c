package fetch

import (
	"sportsfetch/pkg/error"
	"sportsfetch/pkg/provider"
)

// FetchError 取数层对外的错误类型，调用方根据 Code 映射 HTTP 状态。
type FetchError struct {
	error.BaseError
	Provider provider.ID `json:"provider"`
}

const (
	// ErrRateLimitExceeded 表示限流器拒绝了本次请求，稍后可重试。
	ErrRateLimitExceeded error.ErrorCode = "RATE_LIMIT_EXCEEDED"
	// ErrCircuitOpen 表示熔断器处于打开状态，冷却结束后可重试。
	ErrCircuitOpen error.ErrorCode = "CIRCUIT_OPEN"
	// ErrForbidden 表示上游返回 403，属于凭证或配置问题，不可重试。
	ErrForbidden error.ErrorCode = "FORBIDDEN"
	// ErrUpstreamUnavailable 表示重试耗尽后上游仍不可用。
	ErrUpstreamUnavailable error.ErrorCode = "UPSTREAM_UNAVAILABLE"
)

// 预定义错误实例，供调用方用 errors.Is 按代码分类，
// 例如 errors.Is(err, fetch.ErrRateLimitDenied)。
var (
	ErrRateLimitDenied   = NewFetchError(ErrRateLimitExceeded, "rate limit exceeded", "")
	ErrCircuitDenied     = NewFetchError(ErrCircuitOpen, "circuit breaker open", "")
	ErrUpstreamForbidden = NewFetchError(ErrForbidden, "upstream returned 403 forbidden", "")
	ErrUpstreamDown      = NewFetchError(ErrUpstreamUnavailable, "upstream unavailable", "")
)

func NewFetchError(code error.ErrorCode, message string, id provider.ID) *FetchError {
	return &FetchError{
		BaseError: *error.NewError(code, message),
		Provider:  id,
	}
}
