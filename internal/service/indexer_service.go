// ========================================
// IndexerService 索引服务
// ========================================
//
// ## 功能概述
// 从上次检查点开始轮询 GeoStake 合约事件, 把链上状态同步到数据库.
// 覆盖不经过本服务发起的交易 (例如用户直接调用合约), 以及本服务落库失败的情况.
//
// ## 事件处理 (均幂等)
// - Staked:           stake_id 不存在时插入
// - StakeClaimed:     未结算时标记已领取并为质押者入账, 已结算跳过
// - StakeRefunded:    未结算时标记已退款
// - RewardsWithdrawn: 按交易哈希记录提取并扣减余额
//
// ## 检查点机制
// - 只处理 latest - confirmations 之前的区块
// - 每 checkpointInterval 个区块保存一次检查点
// - 服务重启后从上次检查点继续扫描
//
// ========================================
package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/chandrabosep/AVALOOT/internal/contract"
	"github.com/chandrabosep/AVALOOT/internal/metrics"
	"github.com/chandrabosep/AVALOOT/internal/model"
	"github.com/chandrabosep/AVALOOT/internal/repository"
	"github.com/chandrabosep/AVALOOT/pkg/geo"
	"github.com/chandrabosep/AVALOOT/pkg/logger"
)

var (
	ErrIndexerAlreadyRunning = errors.New("indexer already running")
	ErrIndexerNotRunning     = errors.New("indexer not running")
)

// ChainReader 链上读取依赖
type ChainReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
}

// TokenLookup 代币信息查询
type TokenLookup interface {
	Resolve(ctx context.Context, address common.Address) (*contract.TokenInfo, error)
}

// IndexerService 链上索引服务
type IndexerService struct {
	chain          ChainReader
	geoStake       *contract.GeoStakeContract
	tokens         TokenLookup
	stakeRepo      repository.StakeRepository
	rewardRepo     repository.StakerRewardRepository
	checkpointRepo repository.CheckpointRepository
	cache          StakeInvalidator

	// 配置
	chainID            int64
	network            string
	pollInterval       time.Duration
	confirmations      uint64
	checkpointInterval uint64
	batchSize          uint64
	startBlock         uint64

	// 运行状态
	mu             sync.RWMutex
	running        bool
	stopCh         chan struct{}
	currentBlock   uint64
	lastCheckpoint uint64
}

// IndexerServiceConfig 配置
type IndexerServiceConfig struct {
	ChainID            int64
	Network            string
	PollInterval       time.Duration
	Confirmations      uint64
	CheckpointInterval uint64
	BatchSize          uint64
	StartBlock         uint64 // 无检查点时的起始区块, 0 表示从最新区块开始
}

// NewIndexerService 创建索引服务
func NewIndexerService(
	chain ChainReader,
	geoStake *contract.GeoStakeContract,
	tokens TokenLookup,
	stakeRepo repository.StakeRepository,
	rewardRepo repository.StakerRewardRepository,
	checkpointRepo repository.CheckpointRepository,
	cache StakeInvalidator,
	cfg *IndexerServiceConfig,
) *IndexerService {
	pollInterval := cfg.PollInterval
	if pollInterval == 0 {
		pollInterval = 5 * time.Second
	}

	checkpointInterval := cfg.CheckpointInterval
	if checkpointInterval == 0 {
		checkpointInterval = 10
	}

	batchSize := cfg.BatchSize
	if batchSize == 0 {
		batchSize = 500
	}

	return &IndexerService{
		chain:              chain,
		geoStake:           geoStake,
		tokens:             tokens,
		stakeRepo:          stakeRepo,
		rewardRepo:         rewardRepo,
		checkpointRepo:     checkpointRepo,
		cache:              cache,
		chainID:            cfg.ChainID,
		network:            cfg.Network,
		pollInterval:       pollInterval,
		confirmations:      cfg.Confirmations,
		checkpointInterval: checkpointInterval,
		batchSize:          batchSize,
		startBlock:         cfg.StartBlock,
	}
}

// Start 启动索引服务
func (s *IndexerService) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrIndexerAlreadyRunning
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	// 获取起始区块
	startBlock, err := s.getStartBlock(ctx)
	if err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	}

	logger.Info("indexer starting",
		zap.Int64("chain_id", s.chainID),
		zap.String("contract", s.geoStake.Address().Hex()),
		zap.Uint64("start_block", startBlock))

	go s.runLoop(ctx, startBlock)

	return nil
}

// Stop 停止索引服务
func (s *IndexerService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return ErrIndexerNotRunning
	}

	close(s.stopCh)
	s.running = false

	logger.Info("indexer stopped", zap.Int64("chain_id", s.chainID))

	return nil
}

// IsRunning 检查是否运行中
func (s *IndexerService) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// GetCurrentBlock 获取当前处理的区块
func (s *IndexerService) GetCurrentBlock() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentBlock
}

// getStartBlock 获取起始区块
func (s *IndexerService) getStartBlock(ctx context.Context) (uint64, error) {
	checkpoint, err := s.checkpointRepo.Get(ctx, s.chainID, s.geoStake.Address().Hex())
	if err == nil {
		s.lastCheckpoint = uint64(checkpoint.BlockNumber)
		return uint64(checkpoint.BlockNumber + 1), nil
	}

	if errors.Is(err, repository.ErrCheckpointNotFound) {
		if s.startBlock > 0 {
			return s.startBlock, nil
		}
		// 从当前区块开始
		return s.chain.BlockNumber(ctx)
	}

	return 0, err
}

// runLoop 主循环
func (s *IndexerService) runLoop(ctx context.Context, startBlock uint64) {
	next := startBlock
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			next = s.Poll(ctx, next)
		}
	}
}

// Poll 处理 next 到安全高度之间的区块, 返回下一个待处理区块
// 某个区间失败时停止, 下次轮询从该区间重新开始
func (s *IndexerService) Poll(ctx context.Context, next uint64) uint64 {
	latest, err := s.chain.BlockNumber(ctx)
	if err != nil {
		logger.Error("failed to get latest block", zap.Error(err))
		return next
	}
	if latest < s.confirmations {
		return next
	}
	safe := latest - s.confirmations

	for next <= safe {
		select {
		case <-s.stopCh:
			return next
		case <-ctx.Done():
			return next
		default:
		}

		to := next + s.batchSize - 1
		if to > safe {
			to = safe
		}

		if err := s.ProcessRange(ctx, next, to); err != nil {
			logger.Error("failed to process block range",
				zap.Uint64("from", next),
				zap.Uint64("to", to),
				zap.Error(err))
			return next
		}

		s.mu.Lock()
		s.currentBlock = to
		s.mu.Unlock()
		metrics.RecordBlockIndexed(to, latest)

		// 定期保存检查点
		if to-s.lastCheckpoint >= s.checkpointInterval {
			s.saveCheckpoint(ctx, to)
		}

		next = to + 1
	}
	return next
}

// ProcessRange 处理 [from, to] 区间内的合约事件
func (s *IndexerService) ProcessRange(ctx context.Context, from, to uint64) error {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{s.geoStake.Address()},
		Topics:    [][]common.Hash{s.geoStake.EventTopics()},
	}

	logs, err := s.chain.FilterLogs(ctx, query)
	if err != nil {
		return err
	}

	blockTimes := make(map[uint64]uint64)
	for _, l := range logs {
		if l.Removed {
			continue
		}
		if err := s.processLog(ctx, l, blockTimes); err != nil {
			return fmt.Errorf("log %s#%d: %w", l.TxHash.Hex(), l.Index, err)
		}
	}
	return nil
}

// processLog 按事件类型分发
// 解析失败只记录日志, 存储失败返回错误使区间重试
func (s *IndexerService) processLog(ctx context.Context, l types.Log, blockTimes map[uint64]uint64) error {
	if len(l.Topics) == 0 {
		return nil
	}

	switch l.Topics[0] {
	case s.geoStake.StakedEventTopic():
		ev, err := s.geoStake.ParseStaked(l)
		if err != nil {
			logParseFailure("Staked", l, err)
			return nil
		}
		return s.handleStaked(ctx, ev, blockTimes)

	case s.geoStake.StakeClaimedEventTopic():
		ev, err := s.geoStake.ParseStakeClaimed(l)
		if err != nil {
			logParseFailure("StakeClaimed", l, err)
			return nil
		}
		return s.handleClaimed(ctx, ev, blockTimes)

	case s.geoStake.StakeRefundedEventTopic():
		ev, err := s.geoStake.ParseStakeRefunded(l)
		if err != nil {
			logParseFailure("StakeRefunded", l, err)
			return nil
		}
		return s.handleRefunded(ctx, ev, blockTimes)

	case s.geoStake.RewardsWithdrawnEventTopic():
		ev, err := s.geoStake.ParseRewardsWithdrawn(l)
		if err != nil {
			logParseFailure("RewardsWithdrawn", l, err)
			return nil
		}
		return s.handleWithdrawn(ctx, ev)
	}
	return nil
}

func (s *IndexerService) handleStaked(ctx context.Context, ev *contract.StakedEvent, blockTimes map[uint64]uint64) error {
	blockTime, err := s.blockTime(ctx, ev.Raw.BlockNumber, blockTimes)
	if err != nil {
		return err
	}

	info, err := s.tokens.Resolve(ctx, ev.Token)
	if err != nil {
		logger.Warn("failed to resolve token, using defaults",
			zap.String("token", ev.Token.Hex()),
			zap.Error(err))
		info = &contract.TokenInfo{Symbol: "UNKNOWN", Address: ev.Token, Decimals: contract.DefaultDecimals}
	}

	expires := ev.ExpiresAt.Int64()
	hours := int(math.Round(float64(expires-int64(blockTime)) / 3600))
	if hours < MinDurationHours {
		hours = MinDurationHours
	}
	point := geo.FromContract(ev.Latitude.Int64(), ev.Longitude.Int64())

	stake := &model.Stake{
		StakeID:         ev.StakeID.Int64(),
		TransactionHash: ev.Raw.TxHash.Hex(),
		StakerAddress:   ev.Staker.Hex(),
		TokenAddress:    ev.Token.Hex(),
		TokenSymbol:     info.Symbol,
		TokenDecimals:   info.Decimals,
		Amount:          decimal.NewFromBigInt(ev.Amount, 0),
		Latitude:        point.Latitude,
		Longitude:       point.Longitude,
		DurationHours:   hours,
		CreatedAt:       (expires - int64(hours)*3600) * 1000,
		ExpiresAt:       expires * 1000,
		ClaimerAmount:   decimal.Zero,
		StakerReward:    decimal.Zero,
		Network:         s.network,
		ContractAddress: s.geoStake.Address().Hex(),
	}

	inserted, err := s.stakeRepo.CreateIfNotExists(ctx, stake)
	if err != nil {
		return err
	}
	metrics.RecordIndexedEvent("staked")
	if inserted {
		logger.Info("indexed stake",
			zap.Int64("stake_id", stake.StakeID),
			zap.String("staker", stake.StakerAddress),
			zap.String("tx_hash", stake.TransactionHash))
	}
	return nil
}

func (s *IndexerService) handleClaimed(ctx context.Context, ev *contract.StakeClaimedEvent, blockTimes map[uint64]uint64) error {
	stakeID := ev.StakeID.Int64()
	stake, err := s.stakeRepo.GetByStakeID(ctx, stakeID)
	if errors.Is(err, repository.ErrStakeNotFound) {
		logger.Warn("claimed stake not indexed, skipping", zap.Int64("stake_id", stakeID))
		return nil
	}
	if err != nil {
		return err
	}

	blockTime, err := s.blockTime(ctx, ev.Raw.BlockNumber, blockTimes)
	if err != nil {
		return err
	}

	credited, err := settleClaim(ctx, s.stakeRepo, s.rewardRepo, stake, ev, ev.Raw.TxHash.Hex(), int64(blockTime)*1000)
	if err != nil {
		return err
	}
	metrics.RecordIndexedEvent("stake_claimed")
	if credited {
		s.invalidate(ctx, stakeID)
		logger.Info("indexed claim",
			zap.Int64("stake_id", stakeID),
			zap.String("claimer", ev.Claimer.Hex()),
			zap.String("staker_reward", ev.StakerReward.String()))
	}
	return nil
}

func (s *IndexerService) handleRefunded(ctx context.Context, ev *contract.StakeRefundedEvent, blockTimes map[uint64]uint64) error {
	stakeID := ev.StakeID.Int64()
	blockTime, err := s.blockTime(ctx, ev.Raw.BlockNumber, blockTimes)
	if err != nil {
		return err
	}

	err = s.stakeRepo.MarkRefunded(ctx, stakeID, ev.Raw.TxHash.Hex(), int64(blockTime)*1000)
	switch {
	case errors.Is(err, repository.ErrStakeAlreadySettled):
		return nil
	case errors.Is(err, repository.ErrStakeNotFound):
		logger.Warn("refunded stake not indexed, skipping", zap.Int64("stake_id", stakeID))
		return nil
	case err != nil:
		return err
	}

	metrics.RecordIndexedEvent("stake_refunded")
	s.invalidate(ctx, stakeID)
	logger.Info("indexed refund", zap.Int64("stake_id", stakeID))
	return nil
}

func (s *IndexerService) handleWithdrawn(ctx context.Context, ev *contract.RewardsWithdrawnEvent) error {
	err := s.rewardRepo.RecordWithdrawal(ctx, &model.RewardWithdrawal{
		TxHash:        ev.Raw.TxHash.Hex(),
		StakerAddress: ev.Staker.Hex(),
		TokenAddress:  ev.Token.Hex(),
		Amount:        decimal.NewFromBigInt(ev.Amount, 0),
		Network:       s.network,
		BlockNumber:   int64(ev.Raw.BlockNumber),
	})
	switch {
	case errors.Is(err, repository.ErrWithdrawalRecorded):
		return nil
	case errors.Is(err, repository.ErrInsufficientRewardBalance):
		logger.Warn("withdrawn amount exceeds recorded balance",
			zap.String("staker", ev.Staker.Hex()),
			zap.String("amount", ev.Amount.String()),
			zap.String("tx_hash", ev.Raw.TxHash.Hex()))
		return nil
	case err != nil:
		return err
	}

	metrics.RecordIndexedEvent("rewards_withdrawn")
	return nil
}

// blockTime 区块时间戳 (秒), 同一区间内缓存
func (s *IndexerService) blockTime(ctx context.Context, number uint64, cache map[uint64]uint64) (uint64, error) {
	if t, ok := cache[number]; ok {
		return t, nil
	}
	header, err := s.chain.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return 0, err
	}
	cache[number] = header.Time
	return header.Time, nil
}

// saveCheckpoint 保存检查点
func (s *IndexerService) saveCheckpoint(ctx context.Context, blockNumber uint64) {
	var blockHash string
	if header, err := s.chain.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNumber)); err == nil {
		blockHash = header.Hash().Hex()
	}

	checkpoint := &model.BlockCheckpoint{
		ChainID:         s.chainID,
		ContractAddress: s.geoStake.Address().Hex(),
		BlockNumber:     int64(blockNumber),
		BlockHash:       blockHash,
	}

	if err := s.checkpointRepo.Upsert(ctx, checkpoint); err != nil {
		logger.Error("failed to save checkpoint",
			zap.Uint64("block", blockNumber),
			zap.Error(err))
		return
	}
	s.lastCheckpoint = blockNumber
}

func (s *IndexerService) invalidate(ctx context.Context, stakeID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, stakeID); err != nil {
		logger.Warn("failed to invalidate stake cache", zap.Int64("stake_id", stakeID), zap.Error(err))
	}
}

func logParseFailure(event string, l types.Log, err error) {
	logger.Warn("failed to parse contract event",
		zap.String("event", event),
		zap.String("tx_hash", l.TxHash.Hex()),
		zap.Uint("log_index", l.Index),
		zap.Error(err))
}
