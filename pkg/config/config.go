package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"sportsfetch/pkg/provider"
)

// Config 主配置结构
type Config struct {
	// 提供商策略，每个上游一条
	Providers []provider.Policy `yaml:"providers" mapstructure:"providers"`

	// 缓存配置
	Cache CacheConfig `yaml:"cache" mapstructure:"cache"`

	// 取数配置
	Fetch FetchConfig `yaml:"fetch" mapstructure:"fetch"`

	// 运维服务配置
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// 过期清理配置
	Sweep SweepConfig `yaml:"sweep" mapstructure:"sweep"`

	// 指标上报配置
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`

	// 日志配置
	Logger LoggerConfig `yaml:"logger" mapstructure:"logger"`
}

// CacheConfig 两级缓存配置
type CacheConfig struct {
	BackendURL      string        `yaml:"backend_url" mapstructure:"backend_url"`           // 易失层 Redis URL，为空时降级为仅持久层
	DurablePath     string        `yaml:"durable_path" mapstructure:"durable_path"`         // 持久层 SQLite 文件路径
	VolatileTimeout time.Duration `yaml:"volatile_timeout" mapstructure:"volatile_timeout"` // 易失层单次操作超时
}

// FetchConfig 取数层配置
type FetchConfig struct {
	UserAgent        string `yaml:"user_agent" mapstructure:"user_agent"`               // 缺省 User-Agent，策略未指定时使用
	EnableCoalescing bool   `yaml:"enable_coalescing" mapstructure:"enable_coalescing"` // 同键并发去重，默认关闭
	Concurrency      int    `yaml:"concurrency" mapstructure:"concurrency"`             // 批量取数工作池大小
}

// ServerConfig 运维 HTTP 服务配置
type ServerConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"` // 监听地址
	Mode string `yaml:"mode" mapstructure:"mode"` // gin 模式 (debug, release)
}

// SweepConfig 持久层过期清理配置
type SweepConfig struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`   // 是否启用定时清理
	Schedule string `yaml:"schedule" mapstructure:"schedule"` // cron 表达式（带秒字段）
}

// MetricsConfig 指标上报配置
type MetricsConfig struct {
	Influx InfluxConfig `yaml:"influx" mapstructure:"influx"`
}

// InfluxConfig InfluxDB 取数结果上报配置
type InfluxConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	URL     string `yaml:"url" mapstructure:"url"`
	Token   string `yaml:"token" mapstructure:"token"`
	Org     string `yaml:"org" mapstructure:"org"`
	Bucket  string `yaml:"bucket" mapstructure:"bucket"`
}

// LoggerConfig 日志配置
type LoggerConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`   // 日志级别 (debug, info, warn, error)
	Format string `yaml:"format" mapstructure:"format"` // 日志格式 (text, json)
}

// Default 返回默认配置
func Default() *Config {
	espn := provider.DefaultPolicy(provider.ESPN)
	espn.BaseURL = "https://site.api.espn.com/apis/site/v2/sports"

	sportradar := provider.DefaultPolicy(provider.Sportradar)
	sportradar.BaseURL = "https://api.sportradar.com"
	sportradar.RequestsPerMinute = 10
	sportradar.RequestsPerHour = 300
	sportradar.RequestsPerDay = 1000

	thesportsdb := provider.DefaultPolicy(provider.TheSportsDB)
	thesportsdb.BaseURL = "https://www.thesportsdb.com/api/v1/json"
	thesportsdb.RequestsPerMinute = 60
	thesportsdb.RequestsPerHour = 0
	thesportsdb.RequestsPerDay = 0

	return &Config{
		Providers: []provider.Policy{espn, sportradar, thesportsdb},
		Cache: CacheConfig{
			BackendURL:      "",
			DurablePath:     "data/sportsfetch.db",
			VolatileTimeout: 3 * time.Second,
		},
		Fetch: FetchConfig{
			UserAgent:        "SportsFetch/1.0",
			EnableCoalescing: false,
			Concurrency:      8,
		},
		Server: ServerConfig{
			Addr: ":8080",
			Mode: "release",
		},
		Sweep: SweepConfig{
			Enabled:  true,
			Schedule: "0 */10 * * * *",
		},
		Metrics: MetricsConfig{
			Influx: InfluxConfig{
				Enabled: false,
				URL:     "http://localhost:8086",
				Org:     "sportsfetch",
				Bucket:  "fetch_outcomes",
			},
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return errors.New("at least one provider must be configured")
	}

	seen := make(map[provider.ID]bool)
	for i := range c.Providers {
		p := &c.Providers[i]
		if err := p.Validate(); err != nil {
			return fmt.Errorf("provider[%d]: %w", i, err)
		}
		if seen[p.Provider] {
			return fmt.Errorf("duplicate provider '%s'", p.Provider)
		}
		seen[p.Provider] = true
	}

	if c.Cache.DurablePath == "" {
		return errors.New("cache durable_path cannot be empty")
	}

	if c.Cache.VolatileTimeout <= 0 {
		return errors.New("cache volatile_timeout must be positive")
	}

	if c.Fetch.Concurrency <= 0 {
		return errors.New("fetch concurrency must be positive")
	}

	if c.Server.Addr == "" {
		return errors.New("server addr cannot be empty")
	}

	if c.Sweep.Enabled && c.Sweep.Schedule == "" {
		return errors.New("sweep schedule cannot be empty when sweep is enabled")
	}

	return nil
}

// ApplyEnv 应用环境变量覆盖。
// 每个提供商支持 {PROVIDER}_RATE_LIMIT_PER_MINUTE / _PER_HOUR / _PER_DAY
// 和 {PROVIDER}_BASE_URL；全局支持 CACHE_BACKEND_URL。
func (c *Config) ApplyEnv() {
	for i := range c.Providers {
		p := &c.Providers[i]
		prefix := strings.ToUpper(strings.ReplaceAll(string(p.Provider), "-", "_"))

		if v, ok := lookupEnvInt(prefix + "_RATE_LIMIT_PER_MINUTE"); ok {
			p.RequestsPerMinute = v
		}
		if v, ok := lookupEnvInt(prefix + "_RATE_LIMIT_PER_HOUR"); ok {
			p.RequestsPerHour = v
		}
		if v, ok := lookupEnvInt(prefix + "_RATE_LIMIT_PER_DAY"); ok {
			p.RequestsPerDay = v
		}
		if v := os.Getenv(prefix + "_BASE_URL"); v != "" {
			p.BaseURL = v
		}
	}

	if v, ok := os.LookupEnv("CACHE_BACKEND_URL"); ok {
		c.Cache.BackendURL = v
	}
}

// lookupEnvInt 读取整数环境变量，未设置或非法时返回 false
func lookupEnvInt(name string) (int, bool) {
	raw, ok := os.LookupEnv(name)
	if !ok || raw == "" {
		return 0, false
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}

	return v, true
}

// BuildRegistry 根据配置构建提供商策略注册表
func (c *Config) BuildRegistry() (*provider.Registry, error) {
	registry := provider.NewRegistry()
	for i := range c.Providers {
		p := c.Providers[i]
		if p.UserAgent == "" {
			p.UserAgent = c.Fetch.UserAgent
		}
		if err := registry.Register(p); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// SetCacheBackendURL 设置易失层后端 URL
func (c *Config) SetCacheBackendURL(url string) *Config {
	c.Cache.BackendURL = url
	return c
}

// SetDurablePath 设置持久层 SQLite 文件路径
func (c *Config) SetDurablePath(path string) *Config {
	c.Cache.DurablePath = path
	return c
}

// SetConcurrency 设置批量取数工作池大小
func (c *Config) SetConcurrency(n int) *Config {
	c.Fetch.Concurrency = n
	return c
}

// SetLogLevel 设置日志级别
func (c *Config) SetLogLevel(level string) *Config {
	c.Logger.Level = level
	return c
}
