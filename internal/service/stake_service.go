// ========================================
// StakeService 质押流程
// ========================================
//
// ## 流程
// 所有写操作遵循: 构建交易 -> 签名发送 -> 等待回执 -> 落库.
// 回执未确认 (回滚, gas, 超时) 时数据库保持不变, 链上错误原文返回, 不自动重试.
//
// - CreateStake:     ERC20 授权不足时先 approve, 再 stake, 从 Staked 事件取 stake id
// - ClaimStake:      距离预检后调用 claim(stakeId, lat, lon), StakeClaimed 事件为金额唯一来源
// - RefundStake:     仅过期且为质押者本人
// - WithdrawRewards: 按 RewardsWithdrawn 事件金额扣减可提取余额
//
// ## 消息输出 (Kafka Producer)
// - Topic: stake-events   (stake.created / stake.claimed / stake.refunded)
// - Topic: reward-events  (reward.withdrawn)
//
// ## 与索引服务的关系
// 索引服务会重放同样的链上事件. 领取通过 "先标记, 标记成功才入账" 保证奖励只入账一次,
// 提取按交易哈希记录, 同一笔提取只扣减一次.
//
// ========================================
package service

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/chandrabosep/AVALOOT/internal/blockchain"
	"github.com/chandrabosep/AVALOOT/internal/contract"
	"github.com/chandrabosep/AVALOOT/internal/kafka"
	"github.com/chandrabosep/AVALOOT/internal/lifecycle"
	"github.com/chandrabosep/AVALOOT/internal/location"
	"github.com/chandrabosep/AVALOOT/internal/metrics"
	"github.com/chandrabosep/AVALOOT/internal/model"
	"github.com/chandrabosep/AVALOOT/internal/repository"
	bizerr "github.com/chandrabosep/AVALOOT/pkg/errors"
	"github.com/chandrabosep/AVALOOT/pkg/geo"
	"github.com/chandrabosep/AVALOOT/pkg/logger"
)

const (
	MinDurationHours = 1
	MaxDurationHours = 8760
)

// TxSender 交易发送与回执等待
type TxSender interface {
	Send(ctx context.Context, req blockchain.TxRequest) (*types.Transaction, error)
	Wait(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	From() common.Address
}

// GasOracle gas 估算
type GasOracle interface {
	EstimateWithFallback(ctx context.Context, msg ethereum.CallMsg, fallback uint64) (uint64, bool)
	GetGasPrice(ctx context.Context) (*big.Int, error)
}

// TokenResolver 代币信息与授权
type TokenResolver interface {
	Resolve(ctx context.Context, address common.Address) (*contract.TokenInfo, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	PackApprove(spender common.Address, amount *big.Int) ([]byte, error)
}

// StakeCache 质押缓存
type StakeCache interface {
	SetStake(ctx context.Context, stake *model.Stake) error
	GetStake(ctx context.Context, stakeID int64) (*model.Stake, error)
	Invalidate(ctx context.Context, stakeID int64) error
	GetRewardBPS(ctx context.Context, contract string) (uint64, bool, error)
	SetRewardBPS(ctx context.Context, contract string, bps uint64, ttl time.Duration) error
}

// CreateStakeRequest 创建质押请求
type CreateStakeRequest struct {
	// Token 为空或零地址表示原生 AVAX
	Token         string
	Amount        string // 可读金额, 如 "1.5"
	Latitude      float64
	Longitude     float64
	DurationHours int
}

// CreateStakeResult 创建质押结果
type CreateStakeResult struct {
	Stake         *model.Stake `json:"stake"`
	TxHash        string       `json:"tx_hash"`
	ApproveTxHash string       `json:"approve_tx_hash,omitempty"`
	ExplorerURL   string       `json:"explorer_url"`
}

// ClaimResult 领取结果
type ClaimResult struct {
	StakeID        int64    `json:"stake_id"`
	TxHash         string   `json:"tx_hash"`
	ClaimerAmount  *big.Int `json:"claimer_amount,omitempty"`
	StakerReward   *big.Int `json:"staker_reward,omitempty"`
	DistanceMeters float64  `json:"distance_meters"`
	ExplorerURL    string   `json:"explorer_url"`
}

// RefundResult 退款结果
type RefundResult struct {
	StakeID     int64    `json:"stake_id"`
	TxHash      string   `json:"tx_hash"`
	Amount      *big.Int `json:"amount"`
	ExplorerURL string   `json:"explorer_url"`
}

// WithdrawResult 提取奖励结果
type WithdrawResult struct {
	Token       string   `json:"token"`
	TxHash      string   `json:"tx_hash"`
	Amount      *big.Int `json:"amount"`
	ExplorerURL string   `json:"explorer_url"`
}

// StakeService 质押流程服务
type StakeService struct {
	stakeRepo  repository.StakeRepository
	rewardRepo repository.StakerRewardRepository
	tx         TxSender
	gas        GasOracle
	tokens     TokenResolver
	geoStake   *contract.GeoStakeContract
	cache      StakeCache
	publisher  kafka.EventPublisher

	network     contract.Network
	bpsTTL      time.Duration
	locationOpt location.Options

	now func() time.Time
}

// StakeServiceConfig 配置
type StakeServiceConfig struct {
	Network         contract.Network
	RewardBPSTTL    time.Duration
	LocationOptions location.Options
}

// NewStakeService 创建质押流程服务
func NewStakeService(
	stakeRepo repository.StakeRepository,
	rewardRepo repository.StakerRewardRepository,
	tx TxSender,
	gas GasOracle,
	tokens TokenResolver,
	geoStake *contract.GeoStakeContract,
	cache StakeCache,
	publisher kafka.EventPublisher,
	cfg *StakeServiceConfig,
) *StakeService {
	bpsTTL := cfg.RewardBPSTTL
	if bpsTTL <= 0 || bpsTTL > 5*time.Minute {
		bpsTTL = 5 * time.Minute
	}

	locOpt := cfg.LocationOptions
	if locOpt.Timeout == 0 {
		locOpt = location.DefaultOptions()
	}

	if publisher == nil {
		publisher = kafka.NoopPublisher{}
	}

	return &StakeService{
		stakeRepo:   stakeRepo,
		rewardRepo:  rewardRepo,
		tx:          tx,
		gas:         gas,
		tokens:      tokens,
		geoStake:    geoStake,
		cache:       cache,
		publisher:   publisher,
		network:     cfg.Network,
		bpsTTL:      bpsTTL,
		locationOpt: locOpt,
		now:         time.Now,
	}
}

// Signer 发起交易的地址
func (s *StakeService) Signer() common.Address {
	return s.tx.From()
}

// CreateStake 创建质押
func (s *StakeService) CreateStake(ctx context.Context, req *CreateStakeRequest) (result *CreateStakeResult, err error) {
	defer func() { metrics.RecordStakeOperation("create", err) }()

	if req.DurationHours < MinDurationHours || req.DurationHours > MaxDurationHours {
		return nil, toBizError(ErrInvalidDuration, false)
	}
	point := geo.NewPoint(req.Latitude, req.Longitude)
	if !point.Valid() {
		return nil, toBizError(ErrInvalidCoordinates, false)
	}
	token, err := parseToken(req.Token)
	if err != nil {
		return nil, toBizError(err, false)
	}

	info, err := s.tokens.Resolve(ctx, token)
	if err != nil {
		return nil, bizerr.Verbatim(bizerr.ErrChainTxFailed, err)
	}
	amount, err := lifecycle.ParseTokenAmount(req.Amount, info.Decimals)
	if err != nil {
		return nil, toBizError(err, false)
	}
	if amount.Sign() <= 0 {
		return nil, toBizError(ErrInvalidAmount, false)
	}

	result = &CreateStakeResult{}
	from := s.tx.From()
	stakeContract := s.geoStake.Address()

	var value *big.Int
	op := contract.OpStakeNative
	if contract.IsNativeToken(token) {
		value = amount
	} else {
		op = contract.OpStakeERC20
		approveHash, err := s.ensureAllowance(ctx, token, from, stakeContract, amount)
		if err != nil {
			return nil, err
		}
		result.ApproveTxHash = approveHash
	}

	lat, lon := point.ToContract()
	data, err := s.geoStake.PackStake(token, amount, lat, lon, uint64(req.DurationHours)*3600)
	if err != nil {
		return nil, bizerr.Wrap(bizerr.ErrInternal, err)
	}

	receipt, err := s.execute(ctx, op, stakeContract, data, value)
	if err != nil {
		return nil, err
	}
	txHash := receipt.TxHash.Hex()

	stakeID, err := s.geoStake.StakeIDFromReceipt(receipt)
	if err != nil {
		logger.Error("stake confirmed but stake id not found in receipt",
			zap.String("tx_hash", txHash),
			zap.Error(err))
		return nil, bizerr.Verbatim(bizerr.ErrChainTxFailed, err).WithDetail("tx_hash", txHash)
	}

	created := s.now()
	expires := lifecycle.ComputeExpiry(created, float64(req.DurationHours))
	if ev, err := s.geoStake.FindStaked(receipt); err == nil && ev.ExpiresAt.Sign() > 0 {
		// 以合约记录的过期时间为准, 创建时间反推以保持 expires = created + duration
		expires = time.Unix(ev.ExpiresAt.Int64(), 0)
		created = expires.Add(-time.Duration(req.DurationHours) * time.Hour)
	}

	stake := &model.Stake{
		StakeID:         stakeID.Int64(),
		TransactionHash: txHash,
		StakerAddress:   from.Hex(),
		TokenAddress:    token.Hex(),
		TokenSymbol:     info.Symbol,
		TokenDecimals:   info.Decimals,
		Amount:          decimal.NewFromBigInt(amount, 0),
		Latitude:        req.Latitude,
		Longitude:       req.Longitude,
		DurationHours:   req.DurationHours,
		CreatedAt:       created.UnixMilli(),
		ExpiresAt:       expires.UnixMilli(),
		ClaimerAmount:   decimal.Zero,
		StakerReward:    decimal.Zero,
		Network:         s.network.Name,
		ContractAddress: stakeContract.Hex(),
	}

	if err := s.stakeRepo.Create(ctx, stake); err != nil {
		if !errors.Is(err, repository.ErrDuplicateStake) {
			logger.Error("stake confirmed on-chain but failed to persist",
				zap.Int64("stake_id", stake.StakeID),
				zap.String("tx_hash", txHash),
				zap.Error(err))
			return nil, bizerr.Wrap(bizerr.ErrStorageUnavailable, err).WithDetail("tx_hash", txHash)
		}
		// 索引服务已先行写入
		logger.Info("stake already indexed", zap.Int64("stake_id", stake.StakeID))
	}

	s.cacheStake(ctx, stake)
	s.publish(ctx, &model.StakeEvent{
		Type:         model.StakeEventCreated,
		StakeID:      stake.StakeID,
		TxHash:       txHash,
		Staker:       stake.StakerAddress,
		TokenAddress: stake.TokenAddress,
		TokenSymbol:  stake.TokenSymbol,
		Amount:       stake.Amount,
		Latitude:     stake.Latitude,
		Longitude:    stake.Longitude,
		ExpiresAt:    stake.ExpiresAt,
	})

	logger.Info("stake created",
		zap.Int64("stake_id", stake.StakeID),
		zap.String("staker", stake.StakerAddress),
		zap.String("token", stake.TokenSymbol),
		zap.String("amount", stake.Amount.String()),
		zap.String("tx_hash", txHash))

	result.Stake = stake
	result.TxHash = txHash
	result.ExplorerURL = s.network.TxURL(receipt.TxHash)
	return result, nil
}

// ensureAllowance 授权不足时发送 approve 并等待确认
func (s *StakeService) ensureAllowance(ctx context.Context, token, owner, spender common.Address, amount *big.Int) (string, error) {
	allowance, err := s.tokens.Allowance(ctx, token, owner, spender)
	if err != nil {
		return "", bizerr.Verbatim(bizerr.ErrChainTxFailed, err)
	}
	if allowance.Cmp(amount) >= 0 {
		return "", nil
	}

	data, err := s.tokens.PackApprove(spender, amount)
	if err != nil {
		return "", bizerr.Wrap(bizerr.ErrInternal, err)
	}
	receipt, err := s.execute(ctx, contract.OpERC20Approve, token, data, nil)
	if err != nil {
		return "", err
	}

	logger.Info("token approved",
		zap.String("token", token.Hex()),
		zap.String("spender", spender.Hex()),
		zap.String("amount", amount.String()),
		zap.String("tx_hash", receipt.TxHash.Hex()))
	return receipt.TxHash.Hex(), nil
}

// ClaimStake 领取质押, 位置由 provider 提供
func (s *StakeService) ClaimStake(ctx context.Context, stakeID int64, provider location.Provider) (result *ClaimResult, err error) {
	defer func() { metrics.RecordStakeOperation("claim", err) }()

	position, err := location.Acquire(ctx, provider, s.locationOpt)
	if err != nil {
		return nil, toBizError(err, false)
	}

	stake, err := s.loadStake(ctx, stakeID)
	if err != nil {
		return nil, err
	}

	from := s.tx.From()
	distance := geo.Distance(position, stake.Point())
	metrics.ClaimDistanceMeters.Observe(distance)
	if err := lifecycle.CheckClaim(stake, from.Hex(), position, s.now()); err != nil {
		return nil, toBizError(err, false)
	}

	lat, lon := position.ToContract()
	data, err := s.geoStake.PackClaim(big.NewInt(stakeID), lat, lon)
	if err != nil {
		return nil, bizerr.Wrap(bizerr.ErrInternal, err)
	}

	receipt, err := s.execute(ctx, contract.OpClaimStake, s.geoStake.Address(), data, nil)
	if err != nil {
		return nil, err
	}
	txHash := receipt.TxHash.Hex()

	result = &ClaimResult{
		StakeID:        stakeID,
		TxHash:         txHash,
		DistanceMeters: distance,
		ExplorerURL:    s.network.TxURL(receipt.TxHash),
	}

	ev, err := s.geoStake.FindStakeClaimed(receipt)
	if err != nil {
		logger.Error("claim confirmed but StakeClaimed event missing",
			zap.Int64("stake_id", stakeID),
			zap.String("tx_hash", txHash),
			zap.Error(err))
		return result, bizerr.Wrap(bizerr.ErrRewardEventMissing, err).WithDetail("tx_hash", txHash)
	}
	result.ClaimerAmount = ev.ClaimerAmount
	result.StakerReward = ev.StakerReward

	if _, err := settleClaim(ctx, s.stakeRepo, s.rewardRepo, stake, ev, txHash, s.now().UnixMilli()); err != nil {
		logger.Error("claim confirmed on-chain but failed to persist",
			zap.Int64("stake_id", stakeID),
			zap.String("tx_hash", txHash),
			zap.Error(err))
		return result, bizerr.Wrap(bizerr.ErrStorageUnavailable, err).WithDetail("tx_hash", txHash)
	}

	s.invalidate(ctx, stakeID)
	s.publish(ctx, &model.StakeEvent{
		Type:          model.StakeEventClaimed,
		StakeID:       stakeID,
		TxHash:        txHash,
		Staker:        stake.StakerAddress,
		Claimer:       strings.ToLower(ev.Claimer.Hex()),
		TokenAddress:  stake.TokenAddress,
		TokenSymbol:   stake.TokenSymbol,
		Amount:        stake.Amount,
		ClaimerAmount: decimal.NewFromBigInt(ev.ClaimerAmount, 0),
		StakerReward:  decimal.NewFromBigInt(ev.StakerReward, 0),
		Latitude:      stake.Latitude,
		Longitude:     stake.Longitude,
	})

	logger.Info("stake claimed",
		zap.Int64("stake_id", stakeID),
		zap.String("claimer", ev.Claimer.Hex()),
		zap.String("claimer_amount", ev.ClaimerAmount.String()),
		zap.String("staker_reward", ev.StakerReward.String()),
		zap.Float64("distance_m", distance),
		zap.String("tx_hash", txHash))

	return result, nil
}

// settleClaim 在同一事务中标记已领取并为质押者入账
// 入账失败时标记一并回滚, 重试仍会入账; 已被其他路径结算时不重复入账
func settleClaim(ctx context.Context, stakeRepo repository.StakeRepository, rewardRepo repository.StakerRewardRepository,
	stake *model.Stake, ev *contract.StakeClaimedEvent, txHash string, claimedAt int64) (bool, error) {
	err := stakeRepo.Transaction(ctx, func(ctx context.Context) error {
		if err := stakeRepo.MarkClaimed(ctx, stake.StakeID, ev.Claimer.Hex(), txHash,
			decimal.NewFromBigInt(ev.ClaimerAmount, 0), decimal.NewFromBigInt(ev.StakerReward, 0), claimedAt); err != nil {
			return err
		}
		key := repository.RewardKey{Staker: stake.StakerAddress, Token: stake.TokenAddress, Network: stake.Network}
		return rewardRepo.Credit(ctx, key, stake.TokenSymbol, stake.ContractAddress,
			decimal.NewFromBigInt(ev.StakerReward, 0))
	})
	if errors.Is(err, repository.ErrStakeAlreadySettled) {
		logger.Info("stake already settled, skip reward credit", zap.Int64("stake_id", stake.StakeID))
		return false, nil
	}
	return err == nil, err
}

// RefundStake 退款
func (s *StakeService) RefundStake(ctx context.Context, stakeID int64) (result *RefundResult, err error) {
	defer func() { metrics.RecordStakeOperation("refund", err) }()

	stake, err := s.loadStake(ctx, stakeID)
	if err != nil {
		return nil, err
	}
	if err := lifecycle.CheckRefund(stake, s.tx.From().Hex(), s.now()); err != nil {
		return nil, toBizError(err, true)
	}

	data, err := s.geoStake.PackRefund(big.NewInt(stakeID))
	if err != nil {
		return nil, bizerr.Wrap(bizerr.ErrInternal, err)
	}
	receipt, err := s.execute(ctx, contract.OpRefundStake, s.geoStake.Address(), data, nil)
	if err != nil {
		return nil, err
	}
	txHash := receipt.TxHash.Hex()

	result = &RefundResult{
		StakeID:     stakeID,
		TxHash:      txHash,
		Amount:      stake.Amount.BigInt(),
		ExplorerURL: s.network.TxURL(receipt.TxHash),
	}

	err = s.stakeRepo.MarkRefunded(ctx, stakeID, txHash, s.now().UnixMilli())
	switch {
	case errors.Is(err, repository.ErrStakeAlreadySettled):
		logger.Info("stake already settled", zap.Int64("stake_id", stakeID))
	case err != nil:
		logger.Error("refund confirmed on-chain but failed to persist",
			zap.Int64("stake_id", stakeID),
			zap.String("tx_hash", txHash),
			zap.Error(err))
		return result, bizerr.Wrap(bizerr.ErrStorageUnavailable, err).WithDetail("tx_hash", txHash)
	}

	s.invalidate(ctx, stakeID)
	s.publish(ctx, &model.StakeEvent{
		Type:         model.StakeEventRefunded,
		StakeID:      stakeID,
		TxHash:       txHash,
		Staker:       stake.StakerAddress,
		TokenAddress: stake.TokenAddress,
		TokenSymbol:  stake.TokenSymbol,
		Amount:       stake.Amount,
	})

	logger.Info("stake refunded",
		zap.Int64("stake_id", stakeID),
		zap.String("amount", stake.Amount.String()),
		zap.String("tx_hash", txHash))

	return result, nil
}

// WithdrawRewards 提取质押者奖励
func (s *StakeService) WithdrawRewards(ctx context.Context, tokenAddress string) (result *WithdrawResult, err error) {
	defer func() { metrics.RecordStakeOperation("withdraw", err) }()

	token, err := parseToken(tokenAddress)
	if err != nil {
		return nil, toBizError(err, false)
	}

	from := s.tx.From()
	key := repository.RewardKey{Staker: from.Hex(), Token: token.Hex(), Network: s.network.Name}
	reward, err := s.rewardRepo.Get(ctx, key)
	if err != nil {
		return nil, toBizError(err, false)
	}
	if !reward.HasBalance() {
		return nil, bizerr.ErrInsufficientRewardBalance
	}

	data, err := s.geoStake.PackWithdrawRewards(token)
	if err != nil {
		return nil, bizerr.Wrap(bizerr.ErrInternal, err)
	}
	receipt, err := s.execute(ctx, contract.OpWithdrawRewards, s.geoStake.Address(), data, nil)
	if err != nil {
		return nil, err
	}
	txHash := receipt.TxHash.Hex()

	amount := reward.AvailableBalance
	if ev, err := s.geoStake.FindRewardsWithdrawn(receipt); err == nil {
		amount = decimal.NewFromBigInt(ev.Amount, 0)
	} else {
		logger.Warn("RewardsWithdrawn event missing, debiting available balance",
			zap.String("tx_hash", txHash),
			zap.String("available", amount.String()),
			zap.Error(err))
	}

	result = &WithdrawResult{
		Token:       strings.ToLower(token.Hex()),
		TxHash:      txHash,
		Amount:      amount.BigInt(),
		ExplorerURL: s.network.TxURL(receipt.TxHash),
	}

	if amount.IsPositive() {
		err = s.rewardRepo.RecordWithdrawal(ctx, &model.RewardWithdrawal{
			TxHash:        txHash,
			StakerAddress: from.Hex(),
			TokenAddress:  token.Hex(),
			Amount:        amount,
			Network:       s.network.Name,
			BlockNumber:   receiptBlock(receipt),
		})
		switch {
		case errors.Is(err, repository.ErrWithdrawalRecorded):
			logger.Info("withdrawal already recorded", zap.String("tx_hash", txHash))
		case errors.Is(err, repository.ErrInsufficientRewardBalance):
			logger.Warn("withdrawn amount exceeds recorded balance", zap.String("tx_hash", txHash))
		case err != nil:
			logger.Error("withdraw confirmed on-chain but failed to persist",
				zap.String("tx_hash", txHash),
				zap.Error(err))
			return result, bizerr.Wrap(bizerr.ErrStorageUnavailable, err).WithDetail("tx_hash", txHash)
		}
	}

	s.publish(ctx, &model.StakeEvent{
		Type:         model.StakeEventRewardWithdrawn,
		TxHash:       txHash,
		Staker:       strings.ToLower(from.Hex()),
		TokenAddress: result.Token,
		TokenSymbol:  reward.TokenSymbol,
		Amount:       amount,
	})

	logger.Info("rewards withdrawn",
		zap.String("staker", from.Hex()),
		zap.String("token", result.Token),
		zap.String("amount", amount.String()),
		zap.String("tx_hash", txHash))

	return result, nil
}

// PreviewClaim 预览领取金额拆分
func (s *StakeService) PreviewClaim(ctx context.Context, stakeID int64) (*lifecycle.RewardSplit, error) {
	stake, err := s.loadStake(ctx, stakeID)
	if err != nil {
		return nil, err
	}
	bps, estimated := s.RewardBPS(ctx)
	split, err := lifecycle.PreviewSplit(stake.Amount.BigInt(), bps, estimated)
	if err != nil {
		return nil, bizerr.Wrap(bizerr.ErrInternal, err)
	}
	return split, nil
}

// RewardBPS 质押者奖励基点, 缓存最长 5 分钟
// 合约不可达时返回默认值, estimated 为 true
func (s *StakeService) RewardBPS(ctx context.Context) (bps uint64, estimated bool) {
	contractAddr := s.geoStake.Address().Hex()
	if s.cache != nil {
		cached, ok, err := s.cache.GetRewardBPS(ctx, contractAddr)
		if err != nil {
			logger.Warn("failed to read cached reward bps", zap.Error(err))
		}
		if ok {
			return cached, false
		}
	}

	bps, err := s.SyncRewardBPS(ctx)
	if err != nil {
		logger.Warn("failed to read reward bps from contract, using default",
			zap.Uint64("default_bps", lifecycle.DefaultStakerRewardBPS),
			zap.Error(err))
		return lifecycle.DefaultStakerRewardBPS, true
	}
	return bps, false
}

// SyncRewardBPS 从合约读取基点并刷新缓存
func (s *StakeService) SyncRewardBPS(ctx context.Context) (uint64, error) {
	bps, err := s.geoStake.StakerRewardPercentage(ctx)
	if err != nil {
		return 0, err
	}
	metrics.RewardBPSGauge.Set(float64(bps))
	if s.cache != nil {
		if err := s.cache.SetRewardBPS(ctx, s.geoStake.Address().Hex(), bps, s.bpsTTL); err != nil {
			logger.Warn("failed to cache reward bps", zap.Error(err))
		}
	}
	return bps, nil
}

// execute 估算 gas, 发送交易并等待回执
func (s *StakeService) execute(ctx context.Context, op contract.Operation, to common.Address, data []byte, value *big.Int) (*types.Receipt, error) {
	start := time.Now()
	from := s.tx.From()

	msg := ethereum.CallMsg{From: from, To: &to, Data: data, Value: value}
	gasLimit, fallback := s.gas.EstimateWithFallback(ctx, msg, contract.FallbackFor(op))
	if fallback {
		logger.Warn("gas estimation failed, using fallback limit",
			zap.String("operation", string(op)),
			zap.Uint64("gas_limit", gasLimit))
	}

	gasPrice, err := s.gas.GetGasPrice(ctx)
	if err != nil {
		metrics.RecordBlockchainTx(string(op), "failed", time.Since(start).Seconds(), 0)
		return nil, bizerr.Verbatim(bizerr.ErrGasEstimationFailed, err)
	}

	tx, err := s.tx.Send(ctx, blockchain.TxRequest{
		To:       to,
		Data:     data,
		Value:    value,
		GasLimit: gasLimit,
		GasPrice: gasPrice,
	})
	if err != nil {
		metrics.RecordBlockchainTx(string(op), "failed", time.Since(start).Seconds(), 0)
		logger.Error("failed to send transaction",
			zap.String("operation", string(op)),
			zap.Error(err))
		return nil, bizerr.Verbatim(bizerr.ErrChainTxFailed, err)
	}

	receipt, err := s.tx.Wait(ctx, tx.Hash())
	if err != nil {
		var gasUsed uint64
		if receipt != nil {
			gasUsed = receipt.GasUsed
		}
		metrics.RecordBlockchainTx(string(op), "failed", time.Since(start).Seconds(), gasUsed)
		logger.Error("transaction not confirmed",
			zap.String("operation", string(op)),
			zap.String("tx_hash", tx.Hash().Hex()),
			zap.Error(err))
		return nil, bizerr.Verbatim(bizerr.ErrChainTxFailed, err).WithDetail("tx_hash", tx.Hash().Hex())
	}

	metrics.RecordBlockchainTx(string(op), "success", time.Since(start).Seconds(), receipt.GasUsed)
	return receipt, nil
}

// loadStake 先查缓存, 未命中查库
func (s *StakeService) loadStake(ctx context.Context, stakeID int64) (*model.Stake, error) {
	if s.cache != nil {
		stake, err := s.cache.GetStake(ctx, stakeID)
		if err != nil {
			logger.Warn("stake cache read failed", zap.Int64("stake_id", stakeID), zap.Error(err))
		}
		if stake != nil {
			return stake, nil
		}
	}

	stake, err := s.stakeRepo.GetByStakeID(ctx, stakeID)
	if err != nil {
		return nil, toBizError(err, false)
	}
	s.cacheStake(ctx, stake)
	return stake, nil
}

func (s *StakeService) cacheStake(ctx context.Context, stake *model.Stake) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetStake(ctx, stake); err != nil {
		logger.Warn("failed to cache stake", zap.Int64("stake_id", stake.StakeID), zap.Error(err))
	}
}

func (s *StakeService) invalidate(ctx context.Context, stakeID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, stakeID); err != nil {
		logger.Warn("failed to invalidate stake cache", zap.Int64("stake_id", stakeID), zap.Error(err))
	}
}

func (s *StakeService) publish(ctx context.Context, event *model.StakeEvent) {
	if err := s.publisher.PublishStakeEvent(ctx, event); err != nil {
		logger.Error("failed to publish stake event",
			zap.String("type", string(event.Type)),
			zap.Int64("stake_id", event.StakeID),
			zap.Error(err))
	}
}

func receiptBlock(receipt *types.Receipt) int64 {
	if receipt.BlockNumber == nil {
		return 0
	}
	return receipt.BlockNumber.Int64()
}

// parseToken 解析代币地址, 空串为原生 AVAX
func parseToken(token string) (common.Address, error) {
	token = strings.TrimSpace(token)
	if token == "" || strings.EqualFold(token, contract.NativeSymbol) {
		return contract.NativeToken(), nil
	}
	if !common.IsHexAddress(token) {
		return common.Address{}, ErrInvalidToken
	}
	return common.HexToAddress(token), nil
}
