package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"sportsfetch/pkg/cache"
	"sportsfetch/pkg/logger"
)

// cachetool 直接操作缓存后端的一次性维护工具，
// 不经过运维服务即可执行清理、清除与连通性检查。
var (
	backendURL  = flag.String("backend-url", "", "易失层 Redis URL，为空时读取 CACHE_BACKEND_URL")
	durablePath = flag.String("durable", "data/sportsfetch.db", "持久层 SQLite 文件路径")
	cleanup     = flag.Bool("cleanup", false, "清理持久层中已过期的条目")
	clear       = flag.String("clear", "", "按前缀清除缓存条目 (例如 'espn:')")
	stats       = flag.Bool("stats", false, "输出各层条目统计")
	ping        = flag.Bool("ping", false, "探测各层后端连通性")
)

func main() {
	flag.Parse()
	_ = godotenv.Load()

	logger.InitFromEnv()

	if !*cleanup && *clear == "" && !*stats && !*ping {
		flag.Usage()
		os.Exit(2)
	}

	url := *backendURL
	if url == "" {
		url = os.Getenv("CACHE_BACKEND_URL")
	}

	store, err := cache.Open(url, *durablePath, 3*time.Second)
	if err != nil {
		fmt.Fprintf(os.Stderr, "打开缓存失败: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	exitCode := 0

	if *ping {
		health := store.Health(ctx)
		for tier, h := range health {
			switch {
			case !h.Configured:
				fmt.Printf("%s: 未配置\n", tier)
			case h.Healthy:
				fmt.Printf("%s: 正常\n", tier)
			default:
				fmt.Printf("%s: 异常 (%s)\n", tier, h.Error)
				exitCode = 1
			}
		}
	}

	if *cleanup {
		removed, err := store.Sweep(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "过期清理失败: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("已清理 %d 条过期条目\n", removed)
	}

	if *clear != "" {
		removed, err := store.DeleteByPrefix(ctx, *clear)
		if err != nil {
			fmt.Fprintf(os.Stderr, "前缀清除失败: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("已清除 %d 条前缀为 '%s' 的条目\n", removed, *clear)
	}

	if *stats {
		ts, err := store.Stats(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "统计失败: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("持久层: %d 条 (其中过期 %d 条)\n", ts.Durable.Entries, ts.Durable.Expired)
		if ts.Volatile != nil {
			fmt.Printf("易失层: %d 条\n", ts.Volatile.Entries)
		} else {
			fmt.Println("易失层: 未配置或不可用")
		}
	}

	os.Exit(exitCode)
}
