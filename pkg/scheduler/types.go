package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

// JobFunc 维护任务的执行体，例如缓存过期清理。
// 返回的错误只记录在任务统计中，不会中止后续调度。
type JobFunc func(ctx context.Context) error

// JobStatus 任务状态
type JobStatus string

const (
	JobStatusPending JobStatus = "pending" // 等待下次调度
	JobStatusRunning JobStatus = "running" // 正在执行
	JobStatusError   JobStatus = "error"   // 上次执行失败
)

// Job 一个已注册的维护任务及其运行统计。
type Job struct {
	ID       string       `json:"id"`       // 任务唯一标识
	Name     string       `json:"name"`     // 任务名称
	Schedule string       `json:"schedule"` // cron 表达式（带秒字段）
	EntryID  cron.EntryID `json:"-"`

	Status     JobStatus  `json:"status"`
	LastRun    *time.Time `json:"last_run,omitempty"`
	NextRun    *time.Time `json:"next_run,omitempty"`
	RunCount   int64      `json:"run_count"`
	ErrorCount int64      `json:"error_count"`
	LastError  error      `json:"-"`

	fn JobFunc
}
