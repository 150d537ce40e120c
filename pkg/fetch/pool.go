package fetch

import (
	"context"
	"sync"

	"sportsfetch/pkg/provider"
)

// Request 一次批量取数中的单个请求。
type Request struct {
	Provider   provider.ID       `json:"provider"`
	Endpoint   string            `json:"endpoint"`
	CacheKey   string            `json:"cache_key,omitempty"`
	TTLSeconds int               `json:"ttl_seconds"`
	Headers    map[string]string `json:"headers,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
}

// Result 单个请求的取数结果。
type Result struct {
	Request  Request `json:"request"`
	Payload  []byte  `json:"payload,omitempty"`
	Degraded bool    `json:"degraded"`
	Err      error   `json:"-"`
}

// Pool 有界并发的批量取数工作池。
// 固定数量的工作协程消费请求队列，替代调用方各自无限制地
// 起协程并发打上游。上下文取消时未开始的请求以取消错误返回。
type Pool struct {
	svc     *Service
	workers int
}

// NewPool 创建工作池。workers 小于等于 0 时取 4。
func NewPool(svc *Service, workers int) *Pool {
	if workers <= 0 {
		workers = 4
	}
	return &Pool{svc: svc, workers: workers}
}

// FetchMany 并发执行一批取数请求，结果与请求一一对应且顺序一致。
// 单个请求的失败记录在对应 Result.Err 中，不影响其他请求。
func (p *Pool) FetchMany(ctx context.Context, requests []Request) []Result {
	results := make([]Result, len(requests))
	if len(requests) == 0 {
		return results
	}

	workers := p.workers
	if workers > len(requests) {
		workers = len(requests)
	}

	indexes := make(chan int)
	var wg sync.WaitGroup

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for idx := range indexes {
				req := requests[idx]
				results[idx].Request = req

				if err := ctx.Err(); err != nil {
					results[idx].Err = err
					continue
				}

				payload, degraded, err := p.svc.FetchWithPolicy(ctx, req.Provider,
					req.Endpoint, req.CacheKey, req.TTLSeconds, req.Headers, req.Params)
				results[idx].Payload = payload
				results[idx].Degraded = degraded
				results[idx].Err = err
			}
		}()
	}

	for idx := range requests {
		indexes <- idx
	}
	close(indexes)
	wg.Wait()

	return results
}
