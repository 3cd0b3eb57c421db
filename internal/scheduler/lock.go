package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const lockPrefix = "avaloot:job:lock:"

// 只释放自己持有的锁
const unlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// DistributedLock 分布式锁, 多实例部署时同一任务只在一个实例执行
type DistributedLock struct {
	client redis.UniversalClient
	key    string
	value  string
	ttl    time.Duration
}

// NewDistributedLock 创建分布式锁
func NewDistributedLock(client redis.UniversalClient, jobName string, ttl time.Duration) *DistributedLock {
	return &DistributedLock{
		client: client,
		key:    lockPrefix + jobName,
		value:  uuid.New().String(),
		ttl:    ttl,
	}
}

// TryLock 尝试获取锁
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	return ok, nil
}

// Unlock 释放锁
func (l *DistributedLock) Unlock(ctx context.Context) error {
	_, err := l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// IsHeld 检查锁是否仍被持有
func (l *DistributedLock) IsHeld(ctx context.Context) (bool, error) {
	val, err := l.client.Get(ctx, l.key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return val == l.value, nil
}
