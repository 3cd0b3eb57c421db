package contract

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"go.uber.org/zap"

	"github.com/chandrabosep/AVALOOT/pkg/logger"
)

// ErrGasPriceTooHigh 建议 gas 价格超过配置上限
var ErrGasPriceTooHigh = errors.New("gas price exceeds maximum")

// Operation 交易类型
type Operation string

const (
	OpERC20Approve    Operation = "ERC20_APPROVE"
	OpERC20Transfer   Operation = "ERC20_TRANSFER"
	OpNativeTransfer  Operation = "NATIVE_TRANSFER"
	OpStakeNative     Operation = "STAKE_NATIVE"
	OpStakeERC20      Operation = "STAKE_ERC20"
	OpClaimStake      Operation = "CLAIM_STAKE"
	OpWithdrawRewards Operation = "WITHDRAW_REWARDS"
	OpRefundStake     Operation = "REFUND_STAKE"
)

// DefaultFallbackGas 估算失败且未知操作类型时的 gas limit
const DefaultFallbackGas uint64 = 200_000

// GasLimits 各操作的固定 gas 上限, 估算失败时使用
var GasLimits = map[Operation]uint64{
	OpERC20Approve:    60_000,
	OpERC20Transfer:   65_000,
	OpNativeTransfer:  21_000,
	OpStakeNative:     200_000,
	OpStakeERC20:      250_000,
	OpClaimStake:      180_000,
	OpWithdrawRewards: 150_000,
	OpRefundStake:     DefaultFallbackGas,
}

// FallbackFor 操作对应的回退 gas limit
func FallbackFor(op Operation) uint64 {
	if g, ok := GasLimits[op]; ok {
		return g
	}
	return DefaultFallbackGas
}

// GasBackend gas 查询依赖
type GasBackend interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
}

// GasEstimatorConfig is the configuration for the gas estimator.
type GasEstimatorConfig struct {
	// MaxGasPrice in wei
	MaxGasPrice *big.Int
	// CacheTTL for the suggested gas price
	CacheTTL time.Duration
	// FallbackGas overrides DefaultFallbackGas for operations without a table entry
	FallbackGas uint64
}

// GasEstimate gas 估算结果
type GasEstimate struct {
	GasLimit      uint64
	GasPrice      *big.Int
	EstimatedCost *big.Int
	// Fallback 为 true 表示估算失败, 使用了固定值
	Fallback bool
}

type cachedPrice struct {
	price     *big.Int
	fetchedAt time.Time
}

// GasEstimator estimates gas for GeoStake transactions.
type GasEstimator struct {
	cfg     GasEstimatorConfig
	backend GasBackend

	mu     sync.RWMutex
	cached *cachedPrice
	now    func() time.Time
}

// NewGasEstimator creates a new gas estimator.
func NewGasEstimator(cfg *GasEstimatorConfig, backend GasBackend) *GasEstimator {
	c := GasEstimatorConfig{}
	if cfg != nil {
		c = *cfg
	}
	if c.MaxGasPrice == nil {
		c.MaxGasPrice = big.NewInt(500e9) // 500 Gwei
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = 2 * time.Second // ~1 block on C-Chain
	}
	if c.FallbackGas == 0 {
		c.FallbackGas = DefaultFallbackGas
	}
	return &GasEstimator{
		cfg:     c,
		backend: backend,
		now:     time.Now,
	}
}

// EstimateWithFallback 估算值加 10% 余量, 估算失败返回 fallback
func (e *GasEstimator) EstimateWithFallback(ctx context.Context, msg ethereum.CallMsg, fallback uint64) (uint64, bool) {
	if fallback == 0 {
		fallback = e.cfg.FallbackGas
	}
	gas, err := e.backend.EstimateGas(ctx, msg)
	if err != nil || gas == 0 {
		logger.Warn("gas estimation failed, using fallback",
			zap.Uint64("fallback", fallback),
			zap.Error(err))
		return fallback, true
	}
	return gas + gas/10, false
}

// GetGasPrice 返回缓存的建议 gas 价格, 超过上限返回 ErrGasPriceTooHigh
func (e *GasEstimator) GetGasPrice(ctx context.Context) (*big.Int, error) {
	e.mu.RLock()
	if e.cached != nil && e.now().Sub(e.cached.fetchedAt) < e.cfg.CacheTTL {
		p := new(big.Int).Set(e.cached.price)
		e.mu.RUnlock()
		return p, nil
	}
	e.mu.RUnlock()

	price, err := e.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, err
	}
	if price.Cmp(e.cfg.MaxGasPrice) > 0 {
		return nil, ErrGasPriceTooHigh
	}

	e.mu.Lock()
	e.cached = &cachedPrice{price: new(big.Int).Set(price), fetchedAt: e.now()}
	e.mu.Unlock()

	return price, nil
}

// Estimate 估算 gas limit 与价格
func (e *GasEstimator) Estimate(ctx context.Context, op Operation, msg ethereum.CallMsg) (*GasEstimate, error) {
	limit, fallback := e.EstimateWithFallback(ctx, msg, FallbackFor(op))

	price, err := e.GetGasPrice(ctx)
	if err != nil {
		return nil, err
	}

	return &GasEstimate{
		GasLimit:      limit,
		GasPrice:      price,
		EstimatedCost: new(big.Int).Mul(price, new(big.Int).SetUint64(limit)),
		Fallback:      fallback,
	}, nil
}

// InvalidateCache invalidates the cached gas price.
func (e *GasEstimator) InvalidateCache() {
	e.mu.Lock()
	e.cached = nil
	e.mu.Unlock()
}
