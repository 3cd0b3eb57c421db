// Package ratelimit 基于 Redis 的写接口限流
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix 限流键前缀
const KeyPrefix = "avaloot:ratelimit:"

// SlidingWindow 基于 Redis ZSET 的滑动窗口限流器
type SlidingWindow struct {
	rdb    redis.UniversalClient
	script *redis.Script
	now    func() time.Time
}

// 原子操作: 清理窗口外记录, 未超限时写入本次请求
const slidingWindowLua = `
local key = KEYS[1]
local window = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)

local count = redis.call('ZCARD', key)
if count < limit then
    redis.call('ZADD', key, now, member)
    redis.call('PEXPIRE', key, window)
    return 1
end
return 0
`

// NewSlidingWindow 创建滑动窗口限流器
func NewSlidingWindow(rdb redis.UniversalClient) *SlidingWindow {
	return &SlidingWindow{
		rdb:    rdb,
		script: redis.NewScript(slidingWindowLua),
		now:    time.Now,
	}
}

// Allow 检查是否允许请求, member 为请求唯一标识
func (sw *SlidingWindow) Allow(ctx context.Context, key string, window time.Duration, limit int, member string) (bool, error) {
	result, err := sw.script.Run(ctx, sw.rdb, []string{key},
		window.Milliseconds(),
		limit,
		sw.now().UnixMilli(),
		member,
	).Int()
	if err != nil {
		return false, fmt.Errorf("execute rate limit script: %w", err)
	}
	return result == 1, nil
}

// Remaining 返回窗口内剩余配额
func (sw *SlidingWindow) Remaining(ctx context.Context, key string, window time.Duration, limit int) (int, error) {
	now := sw.now().UnixMilli()
	if err := sw.rdb.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", now-window.Milliseconds())).Err(); err != nil {
		return 0, fmt.Errorf("zremrangebyscore: %w", err)
	}

	count, err := sw.rdb.ZCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard: %w", err)
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Reset 重置计数
func (sw *SlidingWindow) Reset(ctx context.Context, key string) error {
	return sw.rdb.Del(ctx, key).Err()
}
