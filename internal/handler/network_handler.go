package handler

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chandrabosep/AVALOOT/internal/contract"
	"github.com/chandrabosep/AVALOOT/internal/dto"
	"github.com/chandrabosep/AVALOOT/internal/lifecycle"
	bizerr "github.com/chandrabosep/AVALOOT/pkg/errors"
	"github.com/chandrabosep/AVALOOT/pkg/geo"
	"github.com/chandrabosep/AVALOOT/pkg/logger"
)

// nativeDecimals 原生币精度
const nativeDecimals = 18

// BalanceReader 查询原生币余额
type BalanceReader interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// StatsReader 读取定时任务写入的状态统计
type StatsReader interface {
	GetStats(ctx context.Context) (map[string]int64, error)
}

// NetworkHandler 网络与合约信息
type NetworkHandler struct {
	network  contract.Network
	contract common.Address
	workflow StakeWorkflow
	stats    StatsReader
	balances BalanceReader
}

// NewNetworkHandler 创建网络信息处理器
func NewNetworkHandler(network contract.Network, contractAddr common.Address, workflow StakeWorkflow) *NetworkHandler {
	return &NetworkHandler{
		network:  network,
		contract: contractAddr,
		workflow: workflow,
	}
}

// GetNetwork 网络信息
// GET /api/v1/network
func (h *NetworkHandler) GetNetwork(c *gin.Context) {
	bps, estimated := h.workflow.RewardBPS(c.Request.Context())
	signer := h.workflow.Signer()

	info := &dto.NetworkInfo{
		Name:               h.network.Name,
		ChainID:            h.network.ChainID,
		NativeSymbol:       h.network.NativeSymbol,
		ExplorerURL:        h.network.ExplorerURL,
		ContractAddress:    h.contract.Hex(),
		ContractURL:        h.network.AddressURL(h.contract),
		Signer:             signer.Hex(),
		SignerURL:          h.network.AddressURL(signer),
		StakerRewardBPS:    bps,
		RewardBPSEstimated: estimated,
		ClaimRadiusMeters:  int(geo.ClaimRadiusMeters),
	}

	// 余额查询失败不影响其余信息
	if h.balances != nil {
		balance, err := h.balances.BalanceAt(c.Request.Context(), signer, nil)
		if err != nil {
			logger.Warn("failed to read signer balance",
				zap.String("signer", signer.Hex()),
				zap.Error(err))
		} else if balance != nil {
			info.SignerBalance = balance.String()
			info.SignerBalanceFormatted = lifecycle.FormatTokenAmount(balance, nativeDecimals)
		}
	}

	Success(c, info)
}

// SetBalances 设置余额来源
func (h *NetworkHandler) SetBalances(balances BalanceReader) {
	h.balances = balances
}

// SetStats 设置统计来源
func (h *NetworkHandler) SetStats(stats StatsReader) {
	h.stats = stats
}

// GetStats 按状态统计的质押数量, 统计任务尚未运行时返回空对象
// GET /api/v1/stats
func (h *NetworkHandler) GetStats(c *gin.Context) {
	if h.stats == nil {
		Success(c, map[string]int64{})
		return
	}
	stats, err := h.stats.GetStats(c.Request.Context())
	if err != nil {
		Error(c, bizerr.Wrap(bizerr.ErrStorageUnavailable, err))
		return
	}
	if stats == nil {
		stats = map[string]int64{}
	}
	Success(c, stats)
}
