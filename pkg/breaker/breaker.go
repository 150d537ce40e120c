package breaker

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"sportsfetch/pkg/logger"
	"sportsfetch/pkg/metrics"
	"sportsfetch/pkg/provider"
)

// State 熔断器状态。
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Breaker 按提供商维护熔断状态。
// 连续失败达到阈值后打开，冷却期内快速拒绝；冷却结束后的
// 第一次 Admit 惰性切换到半开并放行一次试探请求，没有后台
// 定时器。试探成功关闭熔断器，失败重新打开并延长冷却期。
type Breaker struct {
	mu       sync.Mutex
	circuits map[provider.ID]*circuit
	log      *logrus.Entry
	now      func() time.Time
}

type circuit struct {
	state               State
	consecutiveFailures int
	openedAt            time.Time
	cooldownUntil       time.Time
	probing             bool
}

// Snapshot 单个提供商熔断状态的只读快照。
type Snapshot struct {
	Provider            provider.ID `json:"provider"`
	State               State       `json:"state"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
	OpenedAt            *time.Time  `json:"opened_at,omitempty"`
	CooldownUntil       *time.Time  `json:"cooldown_until,omitempty"`
}

// New 创建熔断器。
func New() *Breaker {
	return &Breaker{
		circuits: make(map[provider.ID]*circuit),
		log:      logger.WithComponent("breaker"),
		now:      time.Now,
	}
}

// Admit 判断是否允许向提供商发起请求。
// 打开且冷却未结束时直接拒绝，不修改任何状态。
// 半开时只放行一个试探请求，其余调用方被拒绝。
func (b *Breaker) Admit(id provider.ID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuit(id)
	switch c.state {
	case StateClosed:
		return true

	case StateOpen:
		if b.now().Before(c.cooldownUntil) {
			return false
		}
		b.transition(id, c, StateHalfOpen)
		c.probing = true
		return true

	case StateHalfOpen:
		if c.probing {
			return false
		}
		c.probing = true
		return true
	}

	return true
}

// RecordSuccess 登记一次成功的上游请求。
// 半开状态下关闭熔断器；打开状态下的迟到成功不改变状态。
func (b *Breaker) RecordSuccess(id provider.ID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuit(id)
	switch c.state {
	case StateClosed:
		c.consecutiveFailures = 0

	case StateHalfOpen:
		c.consecutiveFailures = 0
		c.probing = false
		c.openedAt = time.Time{}
		c.cooldownUntil = time.Time{}
		b.transition(id, c, StateClosed)
	}
}

// RecordFailure 登记一次失败的上游请求。
// 关闭状态下累计连续失败，达到策略阈值后打开；
// 半开状态下试探失败，重新打开并延长冷却期。
func (b *Breaker) RecordFailure(policy provider.Policy) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := policy.Provider
	c := b.circuit(id)
	now := b.now()

	switch c.state {
	case StateClosed:
		c.consecutiveFailures++
		if policy.FailureThreshold > 0 && c.consecutiveFailures >= policy.FailureThreshold {
			c.openedAt = now
			c.cooldownUntil = now.Add(policy.Cooldown)
			b.transition(id, c, StateOpen)
		}

	case StateHalfOpen:
		c.consecutiveFailures++
		c.probing = false
		c.cooldownUntil = now.Add(policy.Cooldown)
		b.transition(id, c, StateOpen)
	}
}

// Release 归还一次已放行但未能发出的请求。
// 调用方在 Admit 之后可能因为限流拒绝或取消而根本没有发起
// 上游调用，半开状态下必须归还试探名额，否则熔断器会卡在
// 半开且无人试探的状态。
func (b *Breaker) Release(id provider.ID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuit(id)
	if c.state == StateHalfOpen {
		c.probing = false
	}
}

// State 返回提供商当前的熔断快照。
func (b *Breaker) State(id provider.ID) Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuit(id)
	snap := Snapshot{
		Provider:            id,
		State:               c.state,
		ConsecutiveFailures: c.consecutiveFailures,
	}
	if !c.openedAt.IsZero() {
		t := c.openedAt
		snap.OpenedAt = &t
	}
	if !c.cooldownUntil.IsZero() {
		t := c.cooldownUntil
		snap.CooldownUntil = &t
	}
	return snap
}

// circuit 取出或初始化提供商的熔断记录，调用方必须持有锁。
func (b *Breaker) circuit(id provider.ID) *circuit {
	c, ok := b.circuits[id]
	if !ok {
		c = &circuit{state: StateClosed}
		b.circuits[id] = c
	}
	return c
}

// transition 执行状态迁移并记录日志，调用方必须持有锁。
func (b *Breaker) transition(id provider.ID, c *circuit, to State) {
	from := c.state
	c.state = to

	metrics.BreakerTransitionsTotal.WithLabelValues(string(id), string(to)).Inc()
	b.log.WithFields(logrus.Fields{
		"provider": id,
		"from":     from,
		"to":       to,
		"failures": c.consecutiveFailures,
	}).Warn("熔断器状态变更")
}
