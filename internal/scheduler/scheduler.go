// Package scheduler 定时任务调度, 基于 cron 表达式 (支持秒) 与 Redis 分布式锁
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/chandrabosep/AVALOOT/internal/metrics"
	"github.com/chandrabosep/AVALOOT/pkg/logger"
)

// Scheduler 任务调度器
type Scheduler struct {
	cron          *cron.Cron
	redis         redis.UniversalClient
	jobs          map[string]Job
	jobConfigs    map[string]JobConfig
	mu            sync.RWMutex
	maxConcurrent int
	running       chan struct{}
	ctx           context.Context
	cancel        context.CancelFunc
}

// JobConfig 任务配置
type JobConfig struct {
	Cron    string
	Enabled bool
}

// SchedulerConfig 调度器配置
type SchedulerConfig struct {
	MaxConcurrentJobs int
	RedisClient       redis.UniversalClient
}

// NewScheduler 创建调度器
func NewScheduler(cfg *SchedulerConfig) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	maxConcurrent := cfg.MaxConcurrentJobs
	if maxConcurrent <= 0 {
		maxConcurrent = 3
	}

	return &Scheduler{
		cron:          cron.New(cron.WithSeconds()),
		redis:         cfg.RedisClient,
		jobs:          make(map[string]Job),
		jobConfigs:    make(map[string]JobConfig),
		maxConcurrent: maxConcurrent,
		running:       make(chan struct{}, maxConcurrent),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// ConfigFor 按配置文件覆盖默认 cron, 未知任务返回 Enabled=false
func ConfigFor(name string, overrides map[string]string) JobConfig {
	def, ok := DefaultJobConfigs[name]
	if !ok {
		return JobConfig{}
	}
	spec := def.Cron
	if v, ok := overrides[name]; ok {
		if v == "" || v == "-" {
			return JobConfig{Cron: spec, Enabled: false}
		}
		spec = v
	}
	return JobConfig{Cron: spec, Enabled: true}
}

// RegisterJob 注册任务
func (s *Scheduler) RegisterJob(job Job, config JobConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.Name()]; exists {
		return fmt.Errorf("job %s already registered", job.Name())
	}

	s.jobs[job.Name()] = job
	s.jobConfigs[job.Name()] = config

	if !config.Enabled {
		logger.Info("job registered but disabled", zap.String("job", job.Name()))
		return nil
	}

	_, err := s.cron.AddFunc(config.Cron, func() {
		s.executeJob(job)
	})
	if err != nil {
		delete(s.jobs, job.Name())
		delete(s.jobConfigs, job.Name())
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	logger.Info("job registered",
		zap.String("job", job.Name()),
		zap.String("cron", config.Cron))

	return nil
}

// Start 启动调度器
func (s *Scheduler) Start() {
	s.cron.Start()
	logger.Info("scheduler started", zap.Int("jobs", len(s.jobs)))
}

// Stop 停止调度器, 等待运行中的任务结束
func (s *Scheduler) Stop() {
	s.cancel()
	ctx := s.cron.Stop()
	<-ctx.Done()
	logger.Info("scheduler stopped")
}

// TriggerJob 手动触发任务
func (s *Scheduler) TriggerJob(jobName string) error {
	s.mu.RLock()
	job, exists := s.jobs[jobName]
	s.mu.RUnlock()

	if !exists {
		return fmt.Errorf("job %s not found", jobName)
	}

	go s.executeJob(job)
	return nil
}

// executeJob 执行任务
func (s *Scheduler) executeJob(job Job) {
	select {
	case s.running <- struct{}{}:
		defer func() { <-s.running }()
	default:
		logger.Warn("max concurrent jobs reached, skipping", zap.String("job", job.Name()))
		metrics.JobRunsTotal.WithLabelValues(job.Name(), "skipped").Inc()
		return
	}

	select {
	case <-s.ctx.Done():
		return
	default:
	}

	ctx, cancel := context.WithTimeout(s.ctx, job.Timeout())
	defer cancel()

	if job.RequiresLock() && s.redis != nil {
		lock := NewDistributedLock(s.redis, job.Name(), job.LockTTL())
		acquired, err := lock.TryLock(ctx)
		if err != nil {
			logger.Error("failed to acquire lock", zap.String("job", job.Name()), zap.Error(err))
			metrics.RecordJobRun(job.Name(), err)
			return
		}
		if !acquired {
			logger.Debug("job is already running on another instance", zap.String("job", job.Name()))
			metrics.JobRunsTotal.WithLabelValues(job.Name(), "skipped").Inc()
			return
		}
		defer func() {
			if err := lock.Unlock(context.Background()); err != nil {
				logger.Error("failed to release lock", zap.String("job", job.Name()), zap.Error(err))
			}
		}()
	}

	start := time.Now()
	logger.Debug("starting job", zap.String("job", job.Name()))

	result, err := job.Execute(ctx)
	metrics.RecordJobRun(job.Name(), err)

	if err != nil {
		logger.Error("job failed",
			zap.String("job", job.Name()),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return
	}

	fields := []zap.Field{
		zap.String("job", job.Name()),
		zap.Duration("duration", time.Since(start)),
	}
	if result != nil {
		fields = append(fields,
			zap.Int("processed", result.ProcessedCount),
			zap.Int("affected", result.AffectedCount),
			zap.Int("errors", result.ErrorCount))
	}
	logger.Info("job completed", fields...)
}

// JobNames 已注册的任务名
func (s *Scheduler) JobNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
