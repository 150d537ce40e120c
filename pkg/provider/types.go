package provider

import (
	"errors"
	"time"
)

// ID 提供商标识，例如 "espn" 或 "sportradar"。
type ID string

// 内置提供商标识
const (
	ESPN        ID = "espn"
	Sportradar  ID = "sportradar"
	TheSportsDB ID = "thesportsdb"
)

// String 返回提供商标识的字符串形式
func (id ID) String() string {
	return string(id)
}

// Policy 单个提供商的出站请求策略。
// 启动时从配置加载，加载后不可变；同一提供商全进程只有一份。
type Policy struct {
	Provider  ID     `yaml:"provider" mapstructure:"provider"`     // 提供商标识
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`     // 请求基础 URL，端点路径拼接在其后
	UserAgent string `yaml:"user_agent" mapstructure:"user_agent"` // 出站请求 User-Agent

	// 速率限制，按固定窗口计数；0 表示该粒度不限制
	RequestsPerMinute int `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	RequestsPerHour   int `yaml:"requests_per_hour" mapstructure:"requests_per_hour"`
	RequestsPerDay    int `yaml:"requests_per_day" mapstructure:"requests_per_day"`

	// 重试与退避
	MaxRetries  int           `yaml:"max_retries" mapstructure:"max_retries"`   // 最大尝试次数
	BaseBackoff time.Duration `yaml:"base_backoff" mapstructure:"base_backoff"` // 指数退避基准间隔
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`           // 单次 HTTP 请求超时

	// 熔断
	FailureThreshold int           `yaml:"failure_threshold" mapstructure:"failure_threshold"` // 连续失败触发熔断的阈值
	Cooldown         time.Duration `yaml:"cooldown" mapstructure:"cooldown"`                   // 熔断后的冷却时间
}

// DefaultPolicy 返回带有保守默认值的策略
func DefaultPolicy(id ID) Policy {
	return Policy{
		Provider:          id,
		UserAgent:         "SportsFetch/1.0",
		RequestsPerMinute: 30,
		RequestsPerHour:   500,
		RequestsPerDay:    5000,
		MaxRetries:        3,
		BaseBackoff:       500 * time.Millisecond,
		Timeout:           30 * time.Second,
		FailureThreshold:  3,
		Cooldown:          300 * time.Second,
	}
}

// Validate 验证策略配置
func (p *Policy) Validate() error {
	if p.Provider == "" {
		return errors.New("provider id cannot be empty")
	}

	if p.RequestsPerMinute < 0 || p.RequestsPerHour < 0 || p.RequestsPerDay < 0 {
		return errors.New("rate limits cannot be negative")
	}

	if p.MaxRetries <= 0 {
		return errors.New("max_retries must be positive")
	}

	if p.BaseBackoff < 0 {
		return errors.New("base_backoff cannot be negative")
	}

	if p.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}

	if p.FailureThreshold <= 0 {
		return errors.New("failure_threshold must be positive")
	}

	if p.Cooldown <= 0 {
		return errors.New("cooldown must be positive")
	}

	return nil
}

// HasRateLimits 是否配置了至少一个速率限制粒度
func (p *Policy) HasRateLimits() bool {
	return p.RequestsPerMinute > 0 || p.RequestsPerHour > 0 || p.RequestsPerDay > 0
}
