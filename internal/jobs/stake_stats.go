// Package jobs 定时任务实现
package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/chandrabosep/AVALOOT/internal/metrics"
	"github.com/chandrabosep/AVALOOT/internal/model"
	"github.com/chandrabosep/AVALOOT/internal/repository"
	"github.com/chandrabosep/AVALOOT/internal/scheduler"
	"github.com/chandrabosep/AVALOOT/pkg/logger"
)

// StakeCounter 按状态统计质押
type StakeCounter interface {
	CountByStatus(ctx context.Context, now int64) ([]repository.StatusCount, error)
}

// StatsWriter 统计结果写入 (Redis 缓存)
type StatsWriter interface {
	SetStats(ctx context.Context, stats map[string]int64) error
}

// StakeStatsJob 质押状态统计任务, 更新 Prometheus 指标与缓存
type StakeStatsJob struct {
	scheduler.BaseJob
	counter StakeCounter
	writer  StatsWriter
	now     func() time.Time
}

// NewStakeStatsJob 创建统计任务, writer 可为 nil
func NewStakeStatsJob(counter StakeCounter, writer StatsWriter) *StakeStatsJob {
	cfg := scheduler.DefaultJobConfigs[scheduler.JobNameStakeStats]
	return &StakeStatsJob{
		BaseJob: scheduler.NewBaseJob(scheduler.JobNameStakeStats, cfg.Timeout, cfg.LockTTL),
		counter: counter,
		writer:  writer,
		now:     time.Now,
	}
}

// Execute 执行统计
func (j *StakeStatsJob) Execute(ctx context.Context) (*scheduler.JobResult, error) {
	counts, err := j.counter.CountByStatus(ctx, j.now().UnixMilli())
	if err != nil {
		return nil, err
	}

	// 没有记录的状态也要归零
	stats := map[string]int64{
		model.StakeStatusActive.String():   0,
		model.StakeStatusExpired.String():  0,
		model.StakeStatusClaimed.String():  0,
		model.StakeStatusRefunded.String(): 0,
	}
	var total int64
	for _, c := range counts {
		stats[c.Status.String()] += c.Count
		total += c.Count
	}

	metrics.UpdateStakeCounts(stats)

	result := &scheduler.JobResult{
		ProcessedCount: int(total),
		Details:        make(map[string]interface{}, len(stats)),
	}
	for k, v := range stats {
		result.Details[k] = v
	}

	if j.writer != nil {
		if err := j.writer.SetStats(ctx, stats); err != nil {
			logger.Warn("failed to cache stake stats", zap.Error(err))
			result.ErrorCount++
		}
	}
	return result, nil
}
