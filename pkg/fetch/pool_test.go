package fetch

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sportsfetch/pkg/provider"
)

// TestFetchManyOrder 测试批量结果与请求一一对应
func TestFetchManyOrder(t *testing.T) {
	srv, _ := countingServer(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.URL.Path))
	})
	defer srv.Close()

	svc, _ := newTestService(t, srv.URL, nil, Options{})
	pool := NewPool(svc, 3)

	requests := make([]Request, 10)
	for i := range requests {
		requests[i] = Request{
			Provider:   provider.ESPN,
			Endpoint:   fmt.Sprintf("/games/%d", i),
			TTLSeconds: 30,
		}
	}

	results := pool.FetchMany(context.Background(), requests)
	require.Len(t, results, 10)

	for i, res := range results {
		require.NoError(t, res.Err)
		assert.Equal(t, requests[i].Endpoint, res.Request.Endpoint)
		assert.Equal(t, fmt.Sprintf("/games/%d", i), string(res.Payload))
	}
}

// TestFetchManyBoundedConcurrency 测试并发度不超过工作协程数
func TestFetchManyBoundedConcurrency(t *testing.T) {
	var inflight, peak int64
	srv, _ := countingServer(func(w http.ResponseWriter, r *http.Request) {
		cur := atomic.AddInt64(&inflight, 1)
		for {
			old := atomic.LoadInt64(&peak)
			if cur <= old || atomic.CompareAndSwapInt64(&peak, old, cur) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		atomic.AddInt64(&inflight, -1)
		w.Write([]byte("ok"))
	})
	defer srv.Close()

	svc, _ := newTestService(t, srv.URL, nil, Options{})
	pool := NewPool(svc, 2)

	requests := make([]Request, 8)
	for i := range requests {
		requests[i] = Request{
			Provider: provider.ESPN,
			Endpoint: fmt.Sprintf("/bounded/%d", i),
		}
	}

	results := pool.FetchMany(context.Background(), requests)
	for _, res := range results {
		require.NoError(t, res.Err)
	}

	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(2), "并发上游请求数不应超过工作池大小")
}

// TestFetchManyPartialFailure 测试单个请求失败不影响其他请求
func TestFetchManyPartialFailure(t *testing.T) {
	srv, _ := countingServer(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	defer srv.Close()

	svc, _ := newTestService(t, srv.URL, nil, Options{})
	pool := NewPool(svc, 4)

	requests := []Request{
		{Provider: provider.ESPN, Endpoint: "/good", TTLSeconds: 30},
		{Provider: "nosuch", Endpoint: "/bad", TTLSeconds: 30},
		{Provider: provider.ESPN, Endpoint: "/also-good", TTLSeconds: 30},
	}

	results := pool.FetchMany(context.Background(), requests)

	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
	assert.NoError(t, results[2].Err)
	assert.Equal(t, "ok", string(results[0].Payload))
}

// TestFetchManyCancel 测试取消后未开始的请求以取消错误返回
func TestFetchManyCancel(t *testing.T) {
	srv, _ := countingServer(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.Write([]byte("ok"))
	})
	defer srv.Close()

	svc, _ := newTestService(t, srv.URL, nil, Options{})
	pool := NewPool(svc, 1)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	requests := make([]Request, 6)
	for i := range requests {
		requests[i] = Request{
			Provider: provider.ESPN,
			Endpoint: fmt.Sprintf("/slow/%d", i),
		}
	}

	results := pool.FetchMany(ctx, requests)

	var canceled int
	for _, res := range results {
		if res.Err != nil {
			canceled++
		}
	}
	assert.Greater(t, canceled, 0, "取消后排队中的请求应返回错误")
}

// TestFetchManyEmpty 测试空请求列表
func TestFetchManyEmpty(t *testing.T) {
	svc, _ := newTestService(t, "http://127.0.0.1:0", nil, Options{})
	pool := NewPool(svc, 4)

	results := pool.FetchMany(context.Background(), nil)
	assert.Empty(t, results)
}
