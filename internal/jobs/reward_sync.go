package jobs

import (
	"context"

	"github.com/chandrabosep/AVALOOT/internal/scheduler"
)

// RewardBPSSyncer 从合约读取质押者奖励比例
type RewardBPSSyncer interface {
	SyncRewardBPS(ctx context.Context) (uint64, error)
}

// RewardBPSSyncJob 定期刷新奖励比例缓存
type RewardBPSSyncJob struct {
	scheduler.BaseJob
	syncer RewardBPSSyncer
}

// NewRewardBPSSyncJob 创建奖励比例同步任务
func NewRewardBPSSyncJob(syncer RewardBPSSyncer) *RewardBPSSyncJob {
	cfg := scheduler.DefaultJobConfigs[scheduler.JobNameRewardBPSSync]
	return &RewardBPSSyncJob{
		BaseJob: scheduler.NewBaseJob(scheduler.JobNameRewardBPSSync, cfg.Timeout, cfg.LockTTL),
		syncer:  syncer,
	}
}

// Execute 执行同步
func (j *RewardBPSSyncJob) Execute(ctx context.Context) (*scheduler.JobResult, error) {
	bps, err := j.syncer.SyncRewardBPS(ctx)
	if err != nil {
		return nil, err
	}
	return &scheduler.JobResult{
		ProcessedCount: 1,
		Details:        map[string]interface{}{"reward_bps": bps},
	}, nil
}
