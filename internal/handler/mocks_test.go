package handler

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/mock"

	"github.com/chandrabosep/AVALOOT/internal/lifecycle"
	"github.com/chandrabosep/AVALOOT/internal/location"
	"github.com/chandrabosep/AVALOOT/internal/repository"
	"github.com/chandrabosep/AVALOOT/internal/service"
	"github.com/chandrabosep/AVALOOT/pkg/geo"
)

// MockStakeWorkflow Mock 质押写操作
type MockStakeWorkflow struct {
	mock.Mock
	signer common.Address
}

func (m *MockStakeWorkflow) CreateStake(ctx context.Context, req *service.CreateStakeRequest) (*service.CreateStakeResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.CreateStakeResult), args.Error(1)
}

func (m *MockStakeWorkflow) ClaimStake(ctx context.Context, stakeID int64, provider location.Provider) (*service.ClaimResult, error) {
	args := m.Called(ctx, stakeID, provider)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ClaimResult), args.Error(1)
}

func (m *MockStakeWorkflow) RefundStake(ctx context.Context, stakeID int64) (*service.RefundResult, error) {
	args := m.Called(ctx, stakeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.RefundResult), args.Error(1)
}

func (m *MockStakeWorkflow) WithdrawRewards(ctx context.Context, token string) (*service.WithdrawResult, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.WithdrawResult), args.Error(1)
}

func (m *MockStakeWorkflow) PreviewClaim(ctx context.Context, stakeID int64) (*lifecycle.RewardSplit, error) {
	args := m.Called(ctx, stakeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*lifecycle.RewardSplit), args.Error(1)
}

func (m *MockStakeWorkflow) RewardBPS(ctx context.Context) (uint64, bool) {
	args := m.Called(ctx)
	return args.Get(0).(uint64), args.Bool(1)
}

func (m *MockStakeWorkflow) Signer() common.Address {
	return m.signer
}

// MockStakeQuery Mock 质押查询
type MockStakeQuery struct {
	mock.Mock
}

func (m *MockStakeQuery) GetStake(ctx context.Context, stakeID int64, opts service.ViewOptions) (*service.StakeView, error) {
	args := m.Called(ctx, stakeID, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.StakeView), args.Error(1)
}

func (m *MockStakeQuery) GetByTxHash(ctx context.Context, txHash string, opts service.ViewOptions) (*service.StakeView, error) {
	args := m.Called(ctx, txHash, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.StakeView), args.Error(1)
}

func (m *MockStakeQuery) ListAll(ctx context.Context, opts service.ViewOptions, page *repository.Pagination) ([]*service.StakeView, error) {
	args := m.Called(ctx, opts, page)
	return views(args)
}

func (m *MockStakeQuery) ListActive(ctx context.Context, opts service.ViewOptions, page *repository.Pagination) ([]*service.StakeView, error) {
	args := m.Called(ctx, opts, page)
	return views(args)
}

func (m *MockStakeQuery) ListByStaker(ctx context.Context, staker string, opts service.ViewOptions, page *repository.Pagination) ([]*service.StakeView, error) {
	args := m.Called(ctx, staker, opts, page)
	return views(args)
}

func (m *MockStakeQuery) ListClaimedBy(ctx context.Context, claimer string, opts service.ViewOptions, page *repository.Pagination) ([]*service.StakeView, error) {
	args := m.Called(ctx, claimer, opts, page)
	return views(args)
}

func (m *MockStakeQuery) ListNearby(ctx context.Context, center geo.Point, radiusMeters float64, opts service.ViewOptions) ([]*service.StakeView, error) {
	args := m.Called(ctx, center, radiusMeters, opts)
	return views(args)
}

func (m *MockStakeQuery) GetRewards(ctx context.Context, staker string) ([]*service.RewardView, error) {
	args := m.Called(ctx, staker)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*service.RewardView), args.Error(1)
}

func views(args mock.Arguments) ([]*service.StakeView, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*service.StakeView), args.Error(1)
}
