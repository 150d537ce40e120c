package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// FetchRequestsTotal 按提供商和结果统计取数请求总量
	FetchRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sportsfetch_fetch_requests_total",
			Help: "Total number of fetch requests by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	// FetchDurationSeconds 取数请求端到端耗时分布
	FetchDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sportsfetch_fetch_duration_seconds",
			Help:    "End to end fetch duration by provider",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	// FetchRetriesTotal 按提供商和原因统计重试次数
	FetchRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sportsfetch_fetch_retries_total",
			Help: "Total number of retry attempts by provider and reason",
		},
		[]string{"provider", "reason"},
	)

	// UpstreamResponsesTotal 按提供商和状态码级别统计上游响应
	UpstreamResponsesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sportsfetch_upstream_responses_total",
			Help: "Total number of upstream HTTP responses by provider and status class",
		},
		[]string{"provider", "status"},
	)

	// RateLimitDeniedTotal 按提供商和窗口统计限流拒绝次数
	RateLimitDeniedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sportsfetch_rate_limit_denied_total",
			Help: "Total number of requests denied by the rate limiter",
		},
		[]string{"provider", "window"},
	)

	// BreakerTransitionsTotal 按提供商统计熔断器状态迁移
	BreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sportsfetch_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"provider", "to"},
	)

	// CacheLookupsTotal 按缓存层和结果统计查找次数
	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sportsfetch_cache_lookups_total",
			Help: "Total number of cache lookups by tier and outcome",
		},
		[]string{"tier", "outcome"},
	)

	// CacheWritesTotal 按缓存层和结果统计写入次数
	CacheWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sportsfetch_cache_writes_total",
			Help: "Total number of cache writes by tier and outcome",
		},
		[]string{"tier", "outcome"},
	)

	// CacheSweepRemovedTotal 清理掉的过期缓存条目总数
	CacheSweepRemovedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sportsfetch_cache_sweep_removed_total",
			Help: "Total number of expired cache entries removed by sweeps",
		},
	)
)

func init() {
	prometheus.MustRegister(FetchRequestsTotal)
	prometheus.MustRegister(FetchDurationSeconds)
	prometheus.MustRegister(FetchRetriesTotal)
	prometheus.MustRegister(UpstreamResponsesTotal)
	prometheus.MustRegister(RateLimitDeniedTotal)
	prometheus.MustRegister(BreakerTransitionsTotal)
	prometheus.MustRegister(CacheLookupsTotal)
	prometheus.MustRegister(CacheWritesTotal)
	prometheus.MustRegister(CacheSweepRemovedTotal)
}
