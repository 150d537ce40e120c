package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"sportsfetch/pkg/breaker"
	"sportsfetch/pkg/cache"
	"sportsfetch/pkg/config"
	"sportsfetch/pkg/fetch"
	"sportsfetch/pkg/limiter"
	"sportsfetch/pkg/logger"
	"sportsfetch/pkg/metrics"
	"sportsfetch/pkg/scheduler"
)

var (
	configPath = flag.String("config", "", "配置文件路径 (例如 ./config/fetchd.yaml)")
	logLevel   = flag.String("log-level", "", "日志级别覆盖 (debug, info, warn, error)")
)

func main() {
	flag.Parse()

	// .env 文件存在时加载，方便本地开发
	_ = godotenv.Load()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Logger.Level = *logLevel
	}

	logger.Init(logger.Config{Level: cfg.Logger.Level, Format: cfg.Logger.Format})
	log := logger.WithComponent("fetchd")

	registry, err := cfg.BuildRegistry()
	if err != nil {
		log.WithError(err).Fatal("构建提供商注册表失败")
	}

	store, err := cache.Open(cfg.Cache.BackendURL, cfg.Cache.DurablePath, cfg.Cache.VolatileTimeout)
	if err != nil {
		log.WithError(err).Fatal("打开缓存失败")
	}
	defer store.Close()

	// 配置了易失层时限流计数器同样落在 Redis 上，多实例共享配额
	var counters limiter.CounterStore
	if cfg.Cache.BackendURL != "" {
		opts, err := redis.ParseURL(cfg.Cache.BackendURL)
		if err != nil {
			log.WithError(err).Fatal("解析缓存后端 URL 失败")
		}
		counters = limiter.NewRedisCounters(redis.NewClient(opts))
	}

	var reporter *metrics.Reporter
	if cfg.Metrics.Influx.Enabled {
		reporter, err = metrics.NewReporter(cfg.Metrics.Influx.URL, cfg.Metrics.Influx.Token,
			cfg.Metrics.Influx.Org, cfg.Metrics.Influx.Bucket)
		if err != nil {
			log.WithError(err).Warn("InfluxDB 上报器初始化失败，继续运行但不上报")
		} else {
			defer reporter.Close()
		}
	}

	svc := fetch.NewService(store, limiter.New(counters), breaker.New(), registry, fetch.Options{
		Reporter:         reporter,
		EnableCoalescing: cfg.Fetch.EnableCoalescing,
	})

	sched := scheduler.New()
	if cfg.Sweep.Enabled {
		err := sched.AddJob("cache-sweep", cfg.Sweep.Schedule, func(ctx context.Context) error {
			removed, err := svc.CleanupExpired(ctx)
			if err != nil {
				return err
			}
			if removed > 0 {
				log.Infof("过期缓存清理完成，删除 %d 条", removed)
			}
			return nil
		})
		if err != nil {
			log.WithError(err).Fatal("注册清理任务失败")
		}
	}
	sched.Start()
	defer sched.Stop()

	gin.SetMode(cfg.Server.Mode)
	server := NewServer(cfg, svc, sched)
	server.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("收到退出信号，正在停止...")
	server.Stop()
}

// loadConfig 加载配置：内置默认值、YAML 文件、环境变量，按此顺序覆盖。
func loadConfig() (*config.Config, error) {
	v := viper.New()
	if *configPath != "" {
		v.SetConfigFile(*configPath)
	} else {
		v.SetConfigName("fetchd")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("FETCHD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := config.Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// 规范约定的环境变量最后生效:
	// {PROVIDER}_RATE_LIMIT_PER_MINUTE / _PER_HOUR / _PER_DAY, CACHE_BACKEND_URL
	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}
