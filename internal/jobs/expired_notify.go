package jobs

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/chandrabosep/AVALOOT/internal/kafka"
	"github.com/chandrabosep/AVALOOT/internal/model"
	"github.com/chandrabosep/AVALOOT/internal/repository"
	"github.com/chandrabosep/AVALOOT/internal/scheduler"
	"github.com/chandrabosep/AVALOOT/pkg/logger"
)

// KeyExpiredWatermark 已通知的扫描位置, 格式 "expires_at" 或 "expires_at:stake_id" (毫秒)
const KeyExpiredWatermark = "avaloot:job:expired_watermark"

const (
	defaultExpiredBatchSize = 200
	defaultExpiredLookback  = 10 * time.Minute
	maxExpiredBatches       = 20
)

// ExpiredStakeSource 按过期位置分页查询未结算的质押
type ExpiredStakeSource interface {
	ListExpiredAfter(ctx context.Context, after repository.ExpiryCursor, to int64, limit int) ([]*model.Stake, error)
}

// ExpiredStakeNotifyJob 为新过期的质押发布 stake.expired 事件
// 水位保存在 Redis, 多实例共享; 发布失败时水位停在最后成功的质押, 下次从其后继续
type ExpiredStakeNotifyJob struct {
	scheduler.BaseJob
	source    ExpiredStakeSource
	publisher kafka.EventPublisher
	redis     redis.UniversalClient
	batchSize int
	lookback  time.Duration
	now       func() time.Time
}

// NewExpiredStakeNotifyJob 创建过期通知任务
func NewExpiredStakeNotifyJob(source ExpiredStakeSource, publisher kafka.EventPublisher, rdb redis.UniversalClient) *ExpiredStakeNotifyJob {
	cfg := scheduler.DefaultJobConfigs[scheduler.JobNameExpiredStakeNotify]
	return &ExpiredStakeNotifyJob{
		BaseJob:   scheduler.NewBaseJob(scheduler.JobNameExpiredStakeNotify, cfg.Timeout, cfg.LockTTL),
		source:    source,
		publisher: publisher,
		redis:     rdb,
		batchSize: defaultExpiredBatchSize,
		lookback:  defaultExpiredLookback,
		now:       time.Now,
	}
}

// Execute 执行通知
func (j *ExpiredStakeNotifyJob) Execute(ctx context.Context) (*scheduler.JobResult, error) {
	now := j.now().UnixMilli()
	cursor, err := j.loadWatermark(ctx, now)
	if err != nil {
		return nil, err
	}

	result := &scheduler.JobResult{Details: make(map[string]interface{})}
	start := cursor

	for batch := 0; batch < maxExpiredBatches; batch++ {
		stakes, err := j.source.ListExpiredAfter(ctx, cursor, now, j.batchSize)
		if err != nil {
			if cursor != start {
				j.saveWatermarkOnError(ctx, cursor)
			}
			return nil, err
		}
		result.ProcessedCount += len(stakes)

		for _, stake := range stakes {
			if err := j.publisher.PublishStakeEvent(ctx, expiredEvent(stake)); err != nil {
				logger.Error("failed to publish stake expired event",
					zap.Int64("stake_id", stake.StakeID),
					zap.Error(err))
				result.ErrorCount++
				if err := j.saveWatermark(ctx, cursor); err != nil {
					return nil, err
				}
				result.Details["watermark"] = formatCursor(cursor)
				return result, nil
			}
			result.AffectedCount++
			cursor = repository.ExpiryCursor{ExpiresAt: stake.ExpiresAt, StakeID: stake.StakeID}
		}

		if len(stakes) < j.batchSize {
			cursor = repository.ExpiryCursor{ExpiresAt: now, StakeID: math.MaxInt64}
			break
		}
	}

	if err := j.saveWatermark(ctx, cursor); err != nil {
		return nil, err
	}
	result.Details["watermark"] = formatCursor(cursor)
	return result, nil
}

func (j *ExpiredStakeNotifyJob) loadWatermark(ctx context.Context, now int64) (repository.ExpiryCursor, error) {
	fallback := repository.ExpiryCursor{ExpiresAt: now - j.lookback.Milliseconds(), StakeID: math.MaxInt64}

	val, err := j.redis.Get(ctx, KeyExpiredWatermark).Result()
	if errors.Is(err, redis.Nil) {
		return fallback, nil
	}
	if err != nil {
		return repository.ExpiryCursor{}, err
	}
	cursor, err := parseCursor(val)
	if err != nil {
		logger.Warn("invalid expired watermark, resetting", zap.String("value", val))
		return fallback, nil
	}
	return cursor, nil
}

func (j *ExpiredStakeNotifyJob) saveWatermark(ctx context.Context, cursor repository.ExpiryCursor) error {
	return j.redis.Set(ctx, KeyExpiredWatermark, formatCursor(cursor), 0).Err()
}

// saveWatermarkOnError 查询失败时尽量保存已推进的水位, 保存失败下次会重发这部分事件
func (j *ExpiredStakeNotifyJob) saveWatermarkOnError(ctx context.Context, cursor repository.ExpiryCursor) {
	if err := j.saveWatermark(ctx, cursor); err != nil {
		logger.Warn("failed to save expired watermark",
			zap.String("watermark", formatCursor(cursor)),
			zap.Error(err))
	}
}

func formatCursor(c repository.ExpiryCursor) string {
	if c.StakeID == math.MaxInt64 {
		return strconv.FormatInt(c.ExpiresAt, 10)
	}
	return strconv.FormatInt(c.ExpiresAt, 10) + ":" + strconv.FormatInt(c.StakeID, 10)
}

func parseCursor(val string) (repository.ExpiryCursor, error) {
	at, id, found := strings.Cut(val, ":")
	expiresAt, err := strconv.ParseInt(at, 10, 64)
	if err != nil {
		return repository.ExpiryCursor{}, err
	}
	if !found {
		return repository.ExpiryCursor{ExpiresAt: expiresAt, StakeID: math.MaxInt64}, nil
	}
	stakeID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return repository.ExpiryCursor{}, err
	}
	return repository.ExpiryCursor{ExpiresAt: expiresAt, StakeID: stakeID}, nil
}

func expiredEvent(stake *model.Stake) *model.StakeEvent {
	return &model.StakeEvent{
		Type:         model.StakeEventExpired,
		StakeID:      stake.StakeID,
		TxHash:       stake.TransactionHash,
		Staker:       stake.StakerAddress,
		TokenAddress: stake.TokenAddress,
		TokenSymbol:  stake.TokenSymbol,
		Amount:       stake.Amount,
		Latitude:     stake.Latitude,
		Longitude:    stake.Longitude,
		ExpiresAt:    stake.ExpiresAt,
	}
}
