package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/chandrabosep/AVALOOT/internal/contract"
	"github.com/chandrabosep/AVALOOT/internal/lifecycle"
	"github.com/chandrabosep/AVALOOT/internal/model"
	"github.com/chandrabosep/AVALOOT/internal/repository"
	bizerr "github.com/chandrabosep/AVALOOT/pkg/errors"
	"github.com/chandrabosep/AVALOOT/pkg/geo"
	"github.com/chandrabosep/AVALOOT/pkg/logger"
)

// DefaultNearbyRadius 附近质押默认搜索半径 (米)
const DefaultNearbyRadius = 5000.0

// StakeSnapshot 质押快照 (存储不可用时的降级数据源)
type StakeSnapshot interface {
	Snapshot() []*model.Stake
	Lookup(stakeID int64) (*model.Stake, bool)
}

// StakeView 请求者视角的质押视图
type StakeView struct {
	*model.Stake
	AmountFormatted string                `json:"amount_formatted"`
	Eligibility     lifecycle.Eligibility `json:"eligibility"`
	Timing          lifecycle.TimingInfo  `json:"timing"`
	DistanceMeters  *float64              `json:"distance_meters,omitempty"`
	WithinRange     *bool                 `json:"within_range,omitempty"`
	ExplorerURL     string                `json:"explorer_url"`
	// Stale 为 true 表示数据来自内存快照
	Stale bool `json:"stale"`
}

// RewardView 奖励余额视图
type RewardView struct {
	*model.StakerReward
	Decimals           uint8  `json:"decimals"`
	AvailableFormatted string `json:"available_formatted"`
	EarnedFormatted    string `json:"earned_formatted"`
	WithdrawnFormatted string `json:"withdrawn_formatted"`
}

// ViewOptions 视图参数
type ViewOptions struct {
	Requester string
	Position  *geo.Point
}

// QueryService 质押查询服务
type QueryService struct {
	stakeRepo  repository.StakeRepository
	rewardRepo repository.StakerRewardRepository
	cache      StakeCache
	snapshot   StakeSnapshot
	tokens     TokenResolver
	network    contract.Network

	now func() time.Time
}

// NewQueryService 创建查询服务
func NewQueryService(
	stakeRepo repository.StakeRepository,
	rewardRepo repository.StakerRewardRepository,
	cache StakeCache,
	snapshot StakeSnapshot,
	tokens TokenResolver,
	network contract.Network,
) *QueryService {
	return &QueryService{
		stakeRepo:  stakeRepo,
		rewardRepo: rewardRepo,
		cache:      cache,
		snapshot:   snapshot,
		tokens:     tokens,
		network:    network,
		now:        time.Now,
	}
}

// GetStake 查询单个质押
func (s *QueryService) GetStake(ctx context.Context, stakeID int64, opts ViewOptions) (*StakeView, error) {
	if s.cache != nil {
		stake, err := s.cache.GetStake(ctx, stakeID)
		if err != nil {
			logger.Warn("stake cache read failed", zap.Int64("stake_id", stakeID), zap.Error(err))
		}
		if stake != nil {
			return s.view(stake, opts, s.now(), false), nil
		}
	}

	stake, err := s.stakeRepo.GetByStakeID(ctx, stakeID)
	if err == nil {
		if s.cache != nil {
			if err := s.cache.SetStake(ctx, stake); err != nil {
				logger.Warn("failed to cache stake", zap.Int64("stake_id", stakeID), zap.Error(err))
			}
		}
		return s.view(stake, opts, s.now(), false), nil
	}
	if errors.Is(err, repository.ErrStakeNotFound) {
		return nil, bizerr.ErrStakeNotFound
	}

	logger.Error("failed to load stake", zap.Int64("stake_id", stakeID), zap.Error(err))
	if s.snapshot != nil {
		if stake, ok := s.snapshot.Lookup(stakeID); ok {
			return s.view(stake, opts, s.now(), true), nil
		}
	}
	return nil, bizerr.Wrap(bizerr.ErrStorageUnavailable, err)
}

// GetByTxHash 按创建交易哈希查询
func (s *QueryService) GetByTxHash(ctx context.Context, txHash string, opts ViewOptions) (*StakeView, error) {
	stake, err := s.stakeRepo.GetByTxHash(ctx, txHash)
	if err != nil {
		if errors.Is(err, repository.ErrStakeNotFound) {
			return nil, bizerr.ErrStakeNotFound
		}
		return nil, bizerr.Wrap(bizerr.ErrStorageUnavailable, err)
	}
	return s.view(stake, opts, s.now(), false), nil
}

// ListAll 全部质押
func (s *QueryService) ListAll(ctx context.Context, opts ViewOptions, page *repository.Pagination) ([]*StakeView, error) {
	return s.list(ctx, &repository.StakeFilter{}, opts, page)
}

// ListActive 活跃质押
func (s *QueryService) ListActive(ctx context.Context, opts ViewOptions, page *repository.Pagination) ([]*StakeView, error) {
	status := model.StakeStatusActive
	return s.list(ctx, &repository.StakeFilter{Status: &status}, opts, page)
}

// ListByStaker 某地址创建的质押
func (s *QueryService) ListByStaker(ctx context.Context, staker string, opts ViewOptions, page *repository.Pagination) ([]*StakeView, error) {
	return s.list(ctx, &repository.StakeFilter{Staker: staker}, opts, page)
}

// ListClaimedBy 某地址领取的质押
func (s *QueryService) ListClaimedBy(ctx context.Context, claimer string, opts ViewOptions, page *repository.Pagination) ([]*StakeView, error) {
	return s.list(ctx, &repository.StakeFilter{ClaimedBy: claimer}, opts, page)
}

// ListNearby 中心点半径内的质押, 按距离升序
// 先用经纬度矩形粗筛, 再按精确距离过滤
func (s *QueryService) ListNearby(ctx context.Context, center geo.Point, radiusMeters float64, opts ViewOptions) ([]*StakeView, error) {
	if !center.Valid() {
		return nil, bizerr.ErrInvalidRequest.WithMessage(ErrInvalidCoordinates.Error())
	}
	if radiusMeters <= 0 {
		radiusMeters = DefaultNearbyRadius
	}

	box := geo.BoundingBox(center, radiusMeters)
	opts.Position = &center
	views, err := s.list(ctx, &repository.StakeFilter{Box: &box}, opts, nil)
	if err != nil {
		return nil, err
	}

	nearby := views[:0]
	for _, v := range views {
		if v.DistanceMeters != nil && *v.DistanceMeters <= radiusMeters {
			nearby = append(nearby, v)
		}
	}
	sort.SliceStable(nearby, func(i, j int) bool {
		return *nearby[i].DistanceMeters < *nearby[j].DistanceMeters
	})
	return nearby, nil
}

// GetRewards 质押者在当前网络的奖励余额
func (s *QueryService) GetRewards(ctx context.Context, staker string) ([]*RewardView, error) {
	rewards, err := s.rewardRepo.ListByStaker(ctx, staker, s.network.Name)
	if err != nil {
		return nil, bizerr.Wrap(bizerr.ErrStorageUnavailable, err)
	}

	views := make([]*RewardView, 0, len(rewards))
	for _, r := range rewards {
		decimals := lifecycle.DefaultTokenDecimals
		if s.tokens != nil {
			if info, err := s.tokens.Resolve(ctx, common.HexToAddress(r.TokenAddress)); err == nil {
				decimals = info.Decimals
			}
		}
		views = append(views, &RewardView{
			StakerReward:       r,
			Decimals:           decimals,
			AvailableFormatted: lifecycle.FormatTokenAmount(r.AvailableBalance.BigInt(), decimals),
			EarnedFormatted:    lifecycle.FormatTokenAmount(r.TotalEarned.BigInt(), decimals),
			WithdrawnFormatted: lifecycle.FormatTokenAmount(r.TotalWithdrawn.BigInt(), decimals),
		})
	}
	return views, nil
}

func (s *QueryService) list(ctx context.Context, filter *repository.StakeFilter, opts ViewOptions, page *repository.Pagination) ([]*StakeView, error) {
	now := s.now()
	filter.Now = now.UnixMilli()

	stakes, err := s.stakeRepo.List(ctx, filter, page)
	stale := false
	if err != nil {
		logger.Error("failed to list stakes", zap.Error(err))
		if s.snapshot == nil {
			return nil, bizerr.Wrap(bizerr.ErrStorageUnavailable, err)
		}
		stakes = filterSnapshot(s.snapshot.Snapshot(), filter, now)
		if page != nil {
			page.Total = int64(len(stakes))
			stakes = pageOf(stakes, page)
		}
		stale = true
	}

	views := make([]*StakeView, 0, len(stakes))
	for _, stake := range stakes {
		views = append(views, s.view(stake, opts, now, stale))
	}
	return views, nil
}

func (s *QueryService) view(stake *model.Stake, opts ViewOptions, now time.Time, stale bool) *StakeView {
	v := &StakeView{
		Stake:           stake,
		AmountFormatted: lifecycle.FormatTokenAmount(stake.Amount.BigInt(), stake.TokenDecimals),
		Eligibility:     lifecycle.Evaluate(stake, opts.Requester, now),
		Timing:          lifecycle.CalculateTimingInfo(stake, now),
		ExplorerURL:     s.network.TxURL(common.HexToHash(stake.TransactionHash)),
		Stale:           stale,
	}
	if opts.Position != nil && opts.Position.Valid() {
		d := geo.Distance(*opts.Position, stake.Point())
		within := d <= geo.ClaimRadiusMeters
		v.DistanceMeters = &d
		v.WithinRange = &within
	}
	return v
}

// filterSnapshot 快照按 created_at 倒序过滤, 与仓储排序一致
func filterSnapshot(stakes []*model.Stake, filter *repository.StakeFilter, now time.Time) []*model.Stake {
	out := make([]*model.Stake, 0, len(stakes))
	for _, s := range stakes {
		if matchFilter(s, filter, now) {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt > out[j].CreatedAt
	})
	return out
}

func pageOf(stakes []*model.Stake, page *repository.Pagination) []*model.Stake {
	offset := page.Offset()
	if offset >= len(stakes) {
		return nil
	}
	end := offset + page.Limit()
	if end > len(stakes) {
		end = len(stakes)
	}
	return stakes[offset:end]
}
