package scheduler

import (
	"context"
	"time"
)

// Job 任务接口
type Job interface {
	// Name 任务名称
	Name() string
	// Execute 执行任务
	Execute(ctx context.Context) (*JobResult, error)
	// Timeout 任务超时时间
	Timeout() time.Duration
	// RequiresLock 是否需要分布式锁
	RequiresLock() bool
	// LockTTL 锁的TTL (仅在 RequiresLock() 返回 true 时有效)
	LockTTL() time.Duration
}

// JobResult 任务执行结果
type JobResult struct {
	// ProcessedCount 处理的记录数
	ProcessedCount int
	// AffectedCount 影响的记录数
	AffectedCount int
	// ErrorCount 错误数
	ErrorCount int
	// Details 详细信息
	Details map[string]interface{}
}

// BaseJob 基础任务实现
type BaseJob struct {
	name    string
	timeout time.Duration
	lockTTL time.Duration
}

// NewBaseJob 创建基础任务, lockTTL 为 0 表示不加锁
func NewBaseJob(name string, timeout, lockTTL time.Duration) BaseJob {
	return BaseJob{
		name:    name,
		timeout: timeout,
		lockTTL: lockTTL,
	}
}

// Name 任务名称
func (j BaseJob) Name() string {
	return j.name
}

// Timeout 任务超时时间
func (j BaseJob) Timeout() time.Duration {
	return j.timeout
}

// RequiresLock 是否需要分布式锁
func (j BaseJob) RequiresLock() bool {
	return j.lockTTL > 0
}

// LockTTL 锁的TTL
func (j BaseJob) LockTTL() time.Duration {
	return j.lockTTL
}

// JobNames 任务名称常量 (与配置文件 scheduler.jobs 的键一致)
const (
	JobNameStakeStats         = "stake_stats"
	JobNameRewardBPSSync      = "reward_percentage_sync"
	JobNameExpiredStakeNotify = "expired_stake_notify"
	JobNameLocationPrune      = "location_prune"
)

// DefaultJobConfigs 默认任务配置
var DefaultJobConfigs = map[string]struct {
	Cron    string
	Timeout time.Duration
	LockTTL time.Duration
}{
	JobNameStakeStats: {
		Cron:    "*/30 * * * * *", // 每30秒
		Timeout: 20 * time.Second,
		LockTTL: 25 * time.Second,
	},
	JobNameRewardBPSSync: {
		Cron:    "0 */5 * * * *", // 每5分钟
		Timeout: 30 * time.Second,
		LockTTL: time.Minute,
	},
	JobNameExpiredStakeNotify: {
		Cron:    "0 * * * * *", // 每分钟
		Timeout: 50 * time.Second,
		LockTTL: time.Minute,
	},
	JobNameLocationPrune: {
		Cron:    "0 */10 * * * *", // 每10分钟
		Timeout: 10 * time.Second,
		LockTTL: 0, // 内存数据, 每个实例各自清理
	},
}
