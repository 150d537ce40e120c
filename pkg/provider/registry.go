package provider

import (
	"fmt"
	"sort"
	"sync"
)

// Registry 提供商策略注册表。
// 进程启动时由配置装配，之后供取数层按提供商标识解析策略。
type Registry struct {
	mu       sync.RWMutex
	policies map[ID]Policy
}

// NewRegistry 创建空的策略注册表
func NewRegistry() *Registry {
	return &Registry{
		policies: make(map[ID]Policy),
	}
}

// Register 注册提供商策略，同名策略整体覆盖
func (r *Registry) Register(policy Policy) error {
	if err := policy.Validate(); err != nil {
		return fmt.Errorf("invalid policy for provider '%s': %w", policy.Provider, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.policies[policy.Provider] = policy
	return nil
}

// Get 获取提供商策略
func (r *Registry) Get(id ID) (Policy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	policy, exists := r.policies[id]
	if !exists {
		return Policy{}, fmt.Errorf("provider '%s' not registered", id)
	}

	return policy, nil
}

// List 列出所有已注册的提供商标识（按字典序）
func (r *Registry) List() []ID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]ID, 0, len(r.policies))
	for id := range r.policies {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Unregister 注销提供商策略
func (r *Registry) Unregister(id ID) error {
	if id == "" {
		return fmt.Errorf("provider id cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.policies[id]; !exists {
		return fmt.Errorf("provider '%s' not registered", id)
	}

	delete(r.policies, id)
	return nil
}
