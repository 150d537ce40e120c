package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"sportsfetch/pkg/breaker"
	"sportsfetch/pkg/cache"
	"sportsfetch/pkg/limiter"
	"sportsfetch/pkg/logger"
	"sportsfetch/pkg/metrics"
	"sportsfetch/pkg/provider"
)

// maxResponseBytes 单次上游响应体的读取上限。
const maxResponseBytes = 16 << 20

// Service 出站取数服务，所有对第三方提供商的请求都经过这里。
// 组合两级缓存、固定窗口限流器和熔断器，按策略执行带重试的
// HTTP 调用；上游不可用时回退到陈旧缓存。进程启动时构造一次，
// 各调用方共享同一实例。
type Service struct {
	cache    *cache.Store
	limiter  *limiter.Limiter
	breaker  *breaker.Breaker
	registry *provider.Registry
	client   *http.Client
	reporter *metrics.Reporter
	flights  *flightGroup
	log      *logrus.Entry
}

// Options Service 的可选配置。
type Options struct {
	// Reporter InfluxDB 取数结果上报器，nil 表示不上报。
	Reporter *metrics.Reporter
	// EnableCoalescing 同键并发去重。开启后同一缓存键的并发
	// 未命中只有一个调用方真正访问上游，其余等待并共享结果。
	// 默认关闭，保持各调用方独立取数的语义。
	EnableCoalescing bool
	// HTTPClient 自定义 HTTP 客户端，nil 时使用默认客户端。
	// 单次请求超时由提供商策略控制，客户端本身不设超时。
	HTTPClient *http.Client
}

// NewService 组装取数服务。
func NewService(store *cache.Store, lim *limiter.Limiter, brk *breaker.Breaker, reg *provider.Registry, opts Options) *Service {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	s := &Service{
		cache:    store,
		limiter:  lim,
		breaker:  brk,
		registry: reg,
		client:   client,
		reporter: opts.Reporter,
		log:      logger.WithComponent("fetch"),
	}
	if opts.EnableCoalescing {
		s.flights = newFlightGroup()
	}
	return s
}

// FetchWithPolicy 按提供商策略执行一次取数。
//
// 顺序固定：缓存命中直接返回；熔断器拒绝或限流器拒绝时尝试
// 陈旧缓存，有则以 degraded=true 返回，无则返回对应的类型化
// 错误；放行后先登记限流计数再发起 HTTP 调用，重试耗尽后同样
// 回退陈旧缓存。cacheKey 为空时根据提供商、端点和参数自动生成。
// ttlSeconds 决定成功结果的缓存时长。
func (s *Service) FetchWithPolicy(ctx context.Context, id provider.ID, endpoint string, cacheKey string, ttlSeconds int, headers map[string]string, params map[string]string) ([]byte, bool, error) {
	policy, err := s.registry.Get(id)
	if err != nil {
		return nil, false, err
	}

	if cacheKey == "" {
		cacheKey = cache.BuildKey(id, endpoint, params)
	}

	if entry, err := s.cache.Get(ctx, cacheKey); err == nil {
		return entry.Value, false, nil
	}

	if s.flights != nil {
		return s.flights.Do(ctx, cacheKey, func() ([]byte, bool, error) {
			return s.fetchUpstream(ctx, policy, endpoint, cacheKey, ttlSeconds, headers, params)
		})
	}

	return s.fetchUpstream(ctx, policy, endpoint, cacheKey, ttlSeconds, headers, params)
}

// fetchUpstream 缓存未命中后的慢路径：准入检查、重试循环和回退。
func (s *Service) fetchUpstream(ctx context.Context, policy provider.Policy, endpoint, cacheKey string, ttlSeconds int, headers, params map[string]string) ([]byte, bool, error) {
	id := policy.Provider
	start := time.Now()
	log := logger.WithProvider("fetch", id.String()).WithFields(logrus.Fields{
		"endpoint":   endpoint,
		"request_id": uuid.NewString(),
	})

	if !s.breaker.Admit(id) {
		if value, ok := s.staleFallback(ctx, cacheKey); ok {
			log.Warn("熔断器打开，返回陈旧缓存")
			s.observe(id, "stale_circuit_open", start, 0, true)
			return value, true, nil
		}
		s.observe(id, "circuit_open", start, 0, false)
		ferr := NewFetchError(ErrCircuitOpen, "circuit breaker open for provider", id)
		if snap := s.breaker.State(id); snap.CooldownUntil != nil {
			ferr.WithContext("cooldown_until", snap.CooldownUntil.Format(time.RFC3339))
		}
		return nil, false, ferr
	}

	decision, _ := s.limiter.Admit(ctx, policy)
	if !decision.Allowed {
		// 熔断器已放行，半开名额必须归还
		s.breaker.Release(id)
		if value, ok := s.staleFallback(ctx, cacheKey); ok {
			log.WithField("window", decision.Window).Warn("限流拒绝，返回陈旧缓存")
			s.observe(id, "stale_rate_limited", start, 0, true)
			return value, true, nil
		}
		s.observe(id, "rate_limited", start, 0, false)
		ferr := NewFetchError(ErrRateLimitExceeded,
			fmt.Sprintf("rate limit exceeded: %d/%d in %s window", decision.Current, decision.Limit, decision.Window), id)
		ferr.WithContext("window", string(decision.Window))
		ferr.WithContext("limit", decision.Limit)
		return nil, false, ferr
	}

	payload, attempts, lastErr := s.attemptLoop(ctx, policy, endpoint, headers, params, log)

	switch {
	case lastErr == nil:
		s.storeResult(ctx, cacheKey, payload, ttlSeconds)
		s.breaker.RecordSuccess(id)
		s.observe(id, "success", start, attempts, false)
		return payload, false, nil

	case isForbidden(lastErr):
		// 凭证或配置问题，陈旧数据同样不可信，不回退
		s.breaker.Release(id)
		s.observe(id, "forbidden", start, attempts, false)
		return nil, false, lastErr

	case ctx.Err() != nil:
		// 调用方取消，不是上游的失败
		s.breaker.Release(id)
		s.observe(id, "canceled", start, attempts, false)
		return nil, false, ctx.Err()

	default:
		s.breaker.RecordFailure(policy)
		if value, ok := s.staleFallback(ctx, cacheKey); ok {
			log.WithError(lastErr).Warn("重试耗尽，返回陈旧缓存")
			s.observe(id, "stale_fallback", start, attempts, true)
			return value, true, nil
		}
		s.observe(id, "upstream_unavailable", start, attempts, false)
		ferr := NewFetchError(ErrUpstreamUnavailable,
			fmt.Sprintf("upstream unavailable after %d attempts", attempts), id)
		ferr.Cause = lastErr
		ferr.WithContext("attempts", attempts)
		ferr.WithContext("endpoint", endpoint)
		return nil, false, ferr
	}
}

// attemptLoop 带重试的 HTTP 调用循环。
// 429 按 Retry-After 等待且不推进退避指数；403 立即终止；
// 其他失败按指数退避重试。返回最后一次尝试的错误，nil 表示成功。
func (s *Service) attemptLoop(ctx context.Context, policy provider.Policy, endpoint string, headers, params map[string]string, log *logrus.Entry) ([]byte, int, error) {
	id := policy.Provider
	maxAttempts := policy.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	exponent := 0
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, attempt, err
		}

		// 每次物理请求都占用配额，重试也不例外
		s.limiter.RecordRequest(ctx, id)

		res := s.doRequest(ctx, policy, endpoint, headers, params)
		metrics.UpstreamResponsesTotal.WithLabelValues(string(id), statusClass(res.status)).Inc()

		switch classifyAttempt(res.status, res.err) {
		case ClassSuccess:
			return res.body, attempt + 1, nil

		case ClassForbidden:
			ferr := NewFetchError(ErrForbidden, "upstream returned 403 forbidden", id)
			ferr.WithContext("endpoint", endpoint)
			return nil, attempt + 1, ferr

		case ClassRetryAfter:
			lastErr = fmt.Errorf("upstream returned 429 too many requests")
			if attempt == maxAttempts-1 {
				break
			}
			delay := parseRetryAfter(res.retryAfter, time.Now())
			if delay == 0 {
				delay = backoffDelay(policy.BaseBackoff, exponent)
				exponent++
			}
			metrics.FetchRetriesTotal.WithLabelValues(string(id), "retry_after").Inc()
			log.WithField("delay", delay).Debug("收到 429，按服务端指示等待后重试")
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, attempt + 1, err
			}

		case ClassRetryable:
			if res.err != nil {
				lastErr = res.err
			} else {
				lastErr = fmt.Errorf("upstream returned status %d", res.status)
			}
			if attempt == maxAttempts-1 {
				break
			}
			delay := backoffDelay(policy.BaseBackoff, exponent)
			exponent++
			metrics.FetchRetriesTotal.WithLabelValues(string(id), "backoff").Inc()
			log.WithError(lastErr).WithField("delay", delay).Debug("上游请求失败，退避后重试")
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, attempt + 1, err
			}
		}
	}

	return nil, maxAttempts, lastErr
}

// attemptResult 单次 HTTP 尝试的结果。err 非空表示没有得到响应。
type attemptResult struct {
	status     int
	body       []byte
	retryAfter string
	err        error
}

// doRequest 发起一次带超时的上游 HTTP 请求。
func (s *Service) doRequest(ctx context.Context, policy provider.Policy, endpoint string, headers, params map[string]string) attemptResult {
	reqURL, err := buildURL(policy.BaseURL, endpoint, params)
	if err != nil {
		return attemptResult{err: err}
	}

	timeout := policy.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, reqURL, nil)
	if err != nil {
		return attemptResult{err: err}
	}

	req.Header.Set("User-Agent", policy.UserAgent)
	req.Header.Set("X-Request-ID", uuid.NewString())
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return attemptResult{err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return attemptResult{err: fmt.Errorf("read response body: %w", err)}
	}

	return attemptResult{
		status:     resp.StatusCode,
		body:       body,
		retryAfter: resp.Header.Get("Retry-After"),
	}
}

// storeResult 将成功结果写入缓存。
// 使用与调用方取消解耦的上下文：请求已经成功，调用方此刻取消
// 不应丢弃这次写入，其他调用方还等着命中。
func (s *Service) storeResult(ctx context.Context, key string, payload []byte, ttlSeconds int) {
	if ttlSeconds <= 0 {
		return
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := s.cache.Set(writeCtx, key, payload, time.Duration(ttlSeconds)*time.Second); err != nil {
		// 缓存写入失败不影响本次取数结果
		s.log.WithError(err).WithField("key", key).Warn("缓存写入失败")
	}
}

// staleFallback 尝试读取陈旧缓存。
func (s *Service) staleFallback(ctx context.Context, key string) ([]byte, bool) {
	entry, err := s.cache.GetStale(ctx, key)
	if err != nil {
		if !cache.IsMiss(err) {
			s.log.WithError(err).Debug("陈旧缓存读取失败")
		}
		return nil, false
	}
	return entry.Value, true
}

// observe 登记一次取数结果的指标。
func (s *Service) observe(id provider.ID, outcome string, start time.Time, attempts int, degraded bool) {
	elapsed := time.Since(start)
	metrics.FetchRequestsTotal.WithLabelValues(string(id), outcome).Inc()
	metrics.FetchDurationSeconds.WithLabelValues(string(id)).Observe(elapsed.Seconds())
	s.reporter.ReportFetch(string(id), outcome, elapsed, attempts, degraded)
}

// isForbidden 判断错误链中是否带有 403 凭证错误。
func isForbidden(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Code == ErrForbidden
}

// buildURL 拼接基础 URL、端点路径和查询参数。
func buildURL(baseURL, endpoint string, params map[string]string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(endpoint, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid request url: %w", err)
	}

	if len(params) > 0 {
		q := u.Query()
		for k, v := range params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}
