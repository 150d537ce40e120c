package fetch

import (
	"context"
	"sync"
)

// flightGroup 同键并发去重。
// 同一缓存键的并发未命中只由第一个调用方（领跑者）真正访问
// 上游，其余调用方等待并共享结果。等待方各自的上下文取消时
// 独立退出，不影响领跑者继续完成取数和缓存写入。
type flightGroup struct {
	mu      sync.Mutex
	flights map[string]*flight
}

type flight struct {
	done     chan struct{}
	payload  []byte
	degraded bool
	err      error
}

func newFlightGroup() *flightGroup {
	return &flightGroup{flights: make(map[string]*flight)}
}

// Do 以 key 为单位合并并发执行。
// 领跑者执行 fn 并广播结果；跟随者阻塞等待结果或自身取消。
func (g *flightGroup) Do(ctx context.Context, key string, fn func() ([]byte, bool, error)) ([]byte, bool, error) {
	g.mu.Lock()
	if f, ok := g.flights[key]; ok {
		g.mu.Unlock()

		select {
		case <-f.done:
			return f.payload, f.degraded, f.err
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}

	f := &flight{done: make(chan struct{})}
	g.flights[key] = f
	g.mu.Unlock()

	f.payload, f.degraded, f.err = fn()

	g.mu.Lock()
	delete(g.flights, key)
	g.mu.Unlock()
	close(f.done)

	return f.payload, f.degraded, f.err
}
