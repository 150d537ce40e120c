package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"sportsfetch/pkg/logger"
)

// jobTimeout 单次任务执行的超时时间。
const jobTimeout = 5 * time.Minute

// Scheduler 维护任务调度器。
// 承载缓存过期清理这类周期性后台任务，基于秒级 cron 表达式
// 调度；任务由进程启动时注册，运行统计供运维视图查询。
type Scheduler struct {
	cron   *cron.Cron
	jobs   map[string]*Job
	mu     sync.RWMutex
	log    *logrus.Entry
	ctx    context.Context
	cancel context.CancelFunc
}

// New 创建维护任务调度器
func New() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron:   cron.New(cron.WithSeconds()),
		jobs:   make(map[string]*Job),
		log:    logger.WithComponent("scheduler"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// AddJob 注册一个维护任务。同名任务不允许重复注册。
func (s *Scheduler) AddJob(name, schedule string, fn JobFunc) error {
	if name == "" {
		return fmt.Errorf("job name cannot be empty")
	}
	if fn == nil {
		return fmt.Errorf("job func cannot be nil")
	}

	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid schedule '%s': %w", schedule, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job '%s' already registered", name)
	}

	job := &Job{
		ID:       uuid.New().String(),
		Name:     name,
		Schedule: schedule,
		Status:   JobStatusPending,
		fn:       fn,
	}

	entryID, err := s.cron.AddFunc(schedule, func() {
		s.executeJob(job)
	})
	if err != nil {
		return fmt.Errorf("add job to cron failed: %w", err)
	}

	job.EntryID = entryID
	s.jobs[name] = job

	s.log.Infof("维护任务已注册: %s (调度: %s)", name, schedule)
	return nil
}

// Start 启动调度器
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cron.Start()
	s.updateNextRunTimes()
	s.log.Info("维护任务调度器已启动")
}

// Stop 停止调度器并等待运行中的任务结束。
func (s *Scheduler) Stop() {
	s.cancel()
	ctx := s.cron.Stop()

	select {
	case <-ctx.Done():
		s.log.Info("维护任务调度器已停止")
	case <-time.After(30 * time.Second):
		s.log.Warn("维护任务调度器停止超时")
	}
}

// RunJob 立即执行一次指定任务，不影响其定时调度。
func (s *Scheduler) RunJob(name string) error {
	s.mu.RLock()
	job, exists := s.jobs[name]
	s.mu.RUnlock()

	if !exists {
		return fmt.Errorf("job '%s' not registered", name)
	}

	go s.executeJob(job)
	return nil
}

// Jobs 返回所有任务的快照，按注册顺序不作保证。
func (s *Scheduler) Jobs() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, *job)
	}
	return jobs
}

// Job 返回指定任务的快照。
func (s *Scheduler) Job(name string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[name]
	if !exists {
		return Job{}, fmt.Errorf("job '%s' not registered", name)
	}
	return *job, nil
}

// executeJob 执行任务并更新统计，同一任务不并发执行。
func (s *Scheduler) executeJob(job *Job) {
	s.mu.Lock()
	if job.Status == JobStatusRunning {
		s.mu.Unlock()
		s.log.Warnf("任务正在运行，跳过本次执行: %s", job.Name)
		return
	}
	job.Status = JobStatusRunning
	now := time.Now()
	job.LastRun = &now
	job.RunCount++
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(s.ctx, jobTimeout)
	defer cancel()

	err := job.fn(ctx)

	s.mu.Lock()
	if err != nil {
		job.Status = JobStatusError
		job.LastError = err
		job.ErrorCount++
		s.log.WithError(err).Errorf("维护任务执行失败: %s", job.Name)
	} else {
		job.Status = JobStatusPending
		job.LastError = nil
		s.log.Debugf("维护任务执行成功: %s", job.Name)
	}
	s.updateNextRunTimes()
	s.mu.Unlock()
}

// updateNextRunTimes 更新所有任务的下次运行时间，调用方必须持有锁。
func (s *Scheduler) updateNextRunTimes() {
	for _, entry := range s.cron.Entries() {
		for _, job := range s.jobs {
			if entry.ID == job.EntryID {
				next := entry.Next
				job.NextRun = &next
				break
			}
		}
	}
}
