// Package cache 质押记录与合约参数的 Redis 缓存
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chandrabosep/AVALOOT/internal/model"
)

// Redis 缓存键格式
const (
	KeyStake      = "avaloot:stake:%d"    // stake_id
	KeyStakeByTx  = "avaloot:stake:tx:%s" // tx hash -> stake_id
	KeyRewardBPS  = "avaloot:reward_bps:%s"
	KeyStakeStats = "avaloot:stats:stakes"
)

// 默认 TTL
const (
	DefaultTTL     = 5 * time.Minute
	DefaultBPSTTL  = 5 * time.Minute
	DefaultStatTTL = time.Minute
)

// StakeCache Redis 缓存实现
type StakeCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewStakeCache 创建缓存, ttl 为 0 时使用 DefaultTTL
func NewStakeCache(client redis.UniversalClient, ttl time.Duration) *StakeCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &StakeCache{client: client, ttl: ttl}
}

// SetStake 缓存质押记录, 同时写入交易哈希索引
func (c *StakeCache) SetStake(ctx context.Context, stake *model.Stake) error {
	data, err := json.Marshal(stake)
	if err != nil {
		return err
	}
	pipe := c.client.Pipeline()
	pipe.Set(ctx, fmt.Sprintf(KeyStake, stake.StakeID), data, c.ttl)
	if stake.TransactionHash != "" {
		pipe.Set(ctx, fmt.Sprintf(KeyStakeByTx, strings.ToLower(stake.TransactionHash)), stake.StakeID, c.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// GetStake 读取缓存, 未命中返回 nil, nil
func (c *StakeCache) GetStake(ctx context.Context, stakeID int64) (*model.Stake, error) {
	data, err := c.client.Get(ctx, fmt.Sprintf(KeyStake, stakeID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var stake model.Stake
	if err := json.Unmarshal(data, &stake); err != nil {
		return nil, err
	}
	return &stake, nil
}

// GetStakeIDByTx 通过交易哈希查找 stake_id
func (c *StakeCache) GetStakeIDByTx(ctx context.Context, txHash string) (int64, bool, error) {
	v, err := c.client.Get(ctx, fmt.Sprintf(KeyStakeByTx, strings.ToLower(txHash))).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, err
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// Invalidate 删除质押缓存
func (c *StakeCache) Invalidate(ctx context.Context, stakeID int64) error {
	return c.client.Del(ctx, fmt.Sprintf(KeyStake, stakeID)).Err()
}

// SetRewardBPS 缓存合约奖励比例
func (c *StakeCache) SetRewardBPS(ctx context.Context, contract string, bps uint64, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultBPSTTL
	}
	return c.client.Set(ctx, fmt.Sprintf(KeyRewardBPS, strings.ToLower(contract)), bps, ttl).Err()
}

// GetRewardBPS 读取合约奖励比例
func (c *StakeCache) GetRewardBPS(ctx context.Context, contract string) (uint64, bool, error) {
	v, err := c.client.Get(ctx, fmt.Sprintf(KeyRewardBPS, strings.ToLower(contract))).Uint64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return v, true, nil
}

// SetStats 缓存状态统计
func (c *StakeCache) SetStats(ctx context.Context, stats map[string]int64) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, KeyStakeStats, data, DefaultStatTTL).Err()
}

// GetStats 读取状态统计, 未命中返回 nil, nil
func (c *StakeCache) GetStats(ctx context.Context) (map[string]int64, error) {
	data, err := c.client.Get(ctx, KeyStakeStats).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	stats := make(map[string]int64)
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, err
	}
	return stats, nil
}
