package blockchain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

var ErrNonceLockFailed = errors.New("failed to acquire nonce lock")

// NonceSource 链上 nonce 查询
type NonceSource interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// NonceManager 基于 Redis 的 nonce 分配
// 多实例共用一个签名钱包时, 通过 SET NX 锁串行分配
type NonceManager struct {
	source      NonceSource
	redis       *redis.Client
	wallet      common.Address
	chainID     int64
	lockTimeout time.Duration
	lockWait    time.Duration
}

// NonceManagerConfig 配置
type NonceManagerConfig struct {
	Wallet      common.Address
	ChainID     int64
	LockTimeout time.Duration
	LockWait    time.Duration
}

// NewNonceManager 创建 Nonce 管理器
func NewNonceManager(source NonceSource, rdb *redis.Client, cfg *NonceManagerConfig) *NonceManager {
	m := &NonceManager{
		source:      source,
		redis:       rdb,
		wallet:      cfg.Wallet,
		chainID:     cfg.ChainID,
		lockTimeout: cfg.LockTimeout,
		lockWait:    cfg.LockWait,
	}
	if m.lockTimeout == 0 {
		m.lockTimeout = 30 * time.Second
	}
	if m.lockWait == 0 {
		m.lockWait = 5 * time.Second
	}
	return m
}

func (m *NonceManager) nonceKey() string {
	return fmt.Sprintf("avaloot:nonce:%s:%d", m.wallet.Hex(), m.chainID)
}

func (m *NonceManager) lockKey() string {
	return fmt.Sprintf("avaloot:nonce:lock:%s:%d", m.wallet.Hex(), m.chainID)
}

// Acquire 分配下一个 nonce
// 取 Redis 记录与链上 pending nonce 的较大值, 外部发出的交易不会导致冲突
func (m *NonceManager) Acquire(ctx context.Context) (uint64, error) {
	if err := m.lock(ctx); err != nil {
		return 0, err
	}
	defer m.unlock()

	chainNonce, err := m.source.PendingNonceAt(ctx, m.wallet)
	if err != nil {
		return 0, err
	}

	nonce := chainNonce
	stored, err := m.redis.Get(ctx, m.nonceKey()).Uint64()
	switch {
	case err == nil:
		if stored > nonce {
			nonce = stored
		}
	case !errors.Is(err, redis.Nil):
		return 0, err
	}

	if err := m.redis.Set(ctx, m.nonceKey(), nonce+1, 0).Err(); err != nil {
		return 0, err
	}
	return nonce, nil
}

// Reset 丢弃缓存, 下次从链上同步 (发送失败时调用)
func (m *NonceManager) Reset(ctx context.Context) error {
	return m.redis.Del(ctx, m.nonceKey()).Err()
}

// Current 查询缓存中的下一个 nonce
func (m *NonceManager) Current(ctx context.Context) (uint64, bool, error) {
	v, err := m.redis.Get(ctx, m.nonceKey()).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

func (m *NonceManager) lock(ctx context.Context) error {
	deadline := time.Now().Add(m.lockWait)
	for {
		ok, err := m.redis.SetNX(ctx, m.lockKey(), "1", m.lockTimeout).Result()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrNonceLockFailed
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (m *NonceManager) unlock() {
	m.redis.Del(context.Background(), m.lockKey())
}
