package jobs

import (
	"context"
	"time"

	"github.com/chandrabosep/AVALOOT/internal/scheduler"
)

// LocationPruner 清理过期定位
type LocationPruner interface {
	Prune(maxAge time.Duration) int
}

// LocationPruneJob 清理超过 maxAge 的定位上报
type LocationPruneJob struct {
	scheduler.BaseJob
	pruner LocationPruner
	maxAge time.Duration
}

// NewLocationPruneJob 创建定位清理任务
func NewLocationPruneJob(pruner LocationPruner, maxAge time.Duration) *LocationPruneJob {
	cfg := scheduler.DefaultJobConfigs[scheduler.JobNameLocationPrune]
	return &LocationPruneJob{
		BaseJob: scheduler.NewBaseJob(scheduler.JobNameLocationPrune, cfg.Timeout, cfg.LockTTL),
		pruner:  pruner,
		maxAge:  maxAge,
	}
}

// Execute 执行清理
func (j *LocationPruneJob) Execute(ctx context.Context) (*scheduler.JobResult, error) {
	removed := j.pruner.Prune(j.maxAge)
	return &scheduler.JobResult{
		ProcessedCount: removed,
		AffectedCount:  removed,
	}, nil
}
