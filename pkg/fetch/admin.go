package fetch

import (
	"context"

	"sportsfetch/pkg/breaker"
	"sportsfetch/pkg/cache"
	"sportsfetch/pkg/limiter"
	"sportsfetch/pkg/provider"
)

// ProviderStatus 单个提供商的运行状态快照，供运维视图消费。
type ProviderStatus struct {
	Provider provider.ID            `json:"provider"`
	Windows  []limiter.WindowStatus `json:"windows"`
	Circuit  breaker.Snapshot       `json:"circuit"`
}

// ProviderStatus 返回指定提供商的限流用量和熔断状态。
func (s *Service) ProviderStatus(ctx context.Context, id provider.ID) (ProviderStatus, error) {
	policy, err := s.registry.Get(id)
	if err != nil {
		return ProviderStatus{}, err
	}

	windows, err := s.limiter.Status(ctx, policy)
	if err != nil {
		return ProviderStatus{}, err
	}

	return ProviderStatus{
		Provider: id,
		Windows:  windows,
		Circuit:  s.breaker.State(id),
	}, nil
}

// ProviderStatuses 返回所有已配置提供商的状态，按标识排序。
func (s *Service) ProviderStatuses(ctx context.Context) ([]ProviderStatus, error) {
	ids := s.registry.List()
	statuses := make([]ProviderStatus, 0, len(ids))
	for _, id := range ids {
		status, err := s.ProviderStatus(ctx, id)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// ClearCache 按前缀清除缓存条目，返回持久层删除数量。
func (s *Service) ClearCache(ctx context.Context, keyPattern string) (int64, error) {
	return s.cache.DeleteByPrefix(ctx, keyPattern)
}

// CleanupExpired 清理持久层中已过期的缓存条目。
func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	removed, err := s.cache.Sweep(ctx)
	if err != nil {
		return 0, err
	}
	s.reporter.ReportSweep(removed)
	return removed, nil
}

// TestBackendConnectivity 探测各缓存层后端的连通性。
func (s *Service) TestBackendConnectivity(ctx context.Context) map[string]cache.TierHealth {
	return s.cache.Health(ctx)
}

// CacheStats 返回各缓存层的条目统计。
func (s *Service) CacheStats(ctx context.Context) (cache.TierStats, error) {
	return s.cache.Stats(ctx)
}
