package service

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/chandrabosep/AVALOOT/internal/blockchain"
	"github.com/chandrabosep/AVALOOT/internal/contract"
	"github.com/chandrabosep/AVALOOT/internal/model"
	"github.com/chandrabosep/AVALOOT/internal/repository"
)

var (
	testContractAddr = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testSigner       = common.HexToAddress("0x2222222222222222222222222222222222222222")
	testOtherStaker  = common.HexToAddress("0x3333333333333333333333333333333333333333")
	testUSDC         = common.HexToAddress("0x5425890298aed601595a70AB815c96711a31Bc65")

	testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
)

// mockStakeRepository 模拟质押仓储
type mockStakeRepository struct {
	mock.Mock

	mu      sync.Mutex
	txCount int
}

func (m *mockStakeRepository) Create(ctx context.Context, stake *model.Stake) error {
	args := m.Called(ctx, stake)
	return args.Error(0)
}

func (m *mockStakeRepository) CreateIfNotExists(ctx context.Context, stake *model.Stake) (bool, error) {
	args := m.Called(ctx, stake)
	return args.Bool(0), args.Error(1)
}

func (m *mockStakeRepository) GetByStakeID(ctx context.Context, stakeID int64) (*model.Stake, error) {
	args := m.Called(ctx, stakeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Stake), args.Error(1)
}

func (m *mockStakeRepository) GetByTxHash(ctx context.Context, txHash string) (*model.Stake, error) {
	args := m.Called(ctx, txHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Stake), args.Error(1)
}

func (m *mockStakeRepository) List(ctx context.Context, filter *repository.StakeFilter, page *repository.Pagination) ([]*model.Stake, error) {
	args := m.Called(ctx, filter, page)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Stake), args.Error(1)
}

func (m *mockStakeRepository) MarkClaimed(ctx context.Context, stakeID int64, claimer, txHash string, claimerAmount, stakerReward decimal.Decimal, claimedAt int64) error {
	args := m.Called(ctx, stakeID, claimer, txHash, claimerAmount, stakerReward, claimedAt)
	return args.Error(0)
}

func (m *mockStakeRepository) MarkRefunded(ctx context.Context, stakeID int64, txHash string, refundedAt int64) error {
	args := m.Called(ctx, stakeID, txHash, refundedAt)
	return args.Error(0)
}

func (m *mockStakeRepository) CountByStatus(ctx context.Context, now int64) ([]repository.StatusCount, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]repository.StatusCount), args.Error(1)
}

func (m *mockStakeRepository) ListExpiredAfter(ctx context.Context, after repository.ExpiryCursor, to int64, limit int) ([]*model.Stake, error) {
	args := m.Called(ctx, after, to, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Stake), args.Error(1)
}

// inTxKey 标记 ctx 处于事务中
type inTxKey struct{}

func inTx(ctx context.Context) bool {
	v, _ := ctx.Value(inTxKey{}).(bool)
	return v
}

// Transaction 直接执行 fn, 返回 fn 的错误视为回滚
func (m *mockStakeRepository) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	m.txCount++
	m.mu.Unlock()
	return fn(context.WithValue(ctx, inTxKey{}, true))
}

// mockRewardRepository 模拟奖励仓储
type mockRewardRepository struct {
	mock.Mock
}

func (m *mockRewardRepository) Get(ctx context.Context, key repository.RewardKey) (*model.StakerReward, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.StakerReward), args.Error(1)
}

func (m *mockRewardRepository) ListByStaker(ctx context.Context, staker, network string) ([]*model.StakerReward, error) {
	args := m.Called(ctx, staker, network)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.StakerReward), args.Error(1)
}

func (m *mockRewardRepository) Credit(ctx context.Context, key repository.RewardKey, tokenSymbol, contractAddress string, amount decimal.Decimal) error {
	args := m.Called(ctx, key, tokenSymbol, contractAddress, amount)
	return args.Error(0)
}

func (m *mockRewardRepository) Debit(ctx context.Context, key repository.RewardKey, amount decimal.Decimal) error {
	args := m.Called(ctx, key, amount)
	return args.Error(0)
}

func (m *mockRewardRepository) RecordWithdrawal(ctx context.Context, withdrawal *model.RewardWithdrawal) error {
	args := m.Called(ctx, withdrawal)
	return args.Error(0)
}

// mockCheckpointRepository 模拟检查点仓储
type mockCheckpointRepository struct {
	mock.Mock
}

func (m *mockCheckpointRepository) Get(ctx context.Context, chainID int64, contractAddress string) (*model.BlockCheckpoint, error) {
	args := m.Called(ctx, chainID, contractAddress)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.BlockCheckpoint), args.Error(1)
}

func (m *mockCheckpointRepository) Upsert(ctx context.Context, checkpoint *model.BlockCheckpoint) error {
	args := m.Called(ctx, checkpoint)
	return args.Error(0)
}

// fakeTxSender 按发送顺序返回预设回执
type fakeTxSender struct {
	from     common.Address
	requests []blockchain.TxRequest
	receipts []*types.Receipt
	sendErr  error
	waitErr  error
}

func (f *fakeTxSender) Send(ctx context.Context, req blockchain.TxRequest) (*types.Transaction, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.requests = append(f.requests, req)
	to := req.To
	return types.NewTx(&types.LegacyTx{
		Nonce:    uint64(len(f.requests)),
		To:       &to,
		Value:    req.Value,
		Gas:      req.GasLimit,
		GasPrice: req.GasPrice,
		Data:     req.Data,
	}), nil
}

func (f *fakeTxSender) Wait(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if f.waitErr != nil {
		return nil, f.waitErr
	}
	i := len(f.requests) - 1
	receipt := &types.Receipt{}
	if i < len(f.receipts) && f.receipts[i] != nil {
		receipt = f.receipts[i]
	}
	receipt.TxHash = txHash
	receipt.Status = types.ReceiptStatusSuccessful
	receipt.BlockNumber = big.NewInt(100)
	return receipt, nil
}

func (f *fakeTxSender) From() common.Address {
	return f.from
}

// fakeGas 固定 gas 结果
type fakeGas struct {
	limit    uint64
	fallback bool
	price    *big.Int
	priceErr error
	msgs     []ethereum.CallMsg
}

func (f *fakeGas) EstimateWithFallback(ctx context.Context, msg ethereum.CallMsg, fallback uint64) (uint64, bool) {
	f.msgs = append(f.msgs, msg)
	if f.fallback {
		return fallback, true
	}
	return f.limit, false
}

func (f *fakeGas) GetGasPrice(ctx context.Context) (*big.Int, error) {
	if f.priceErr != nil {
		return nil, f.priceErr
	}
	return f.price, nil
}

// fakeTokens 代币解析
type fakeTokens struct {
	infos     map[common.Address]*contract.TokenInfo
	allowance *big.Int
}

func newFakeTokens() *fakeTokens {
	return &fakeTokens{
		infos: map[common.Address]*contract.TokenInfo{
			contract.NativeToken(): {Symbol: "AVAX", Decimals: 18, IsNative: true},
			testUSDC:               {Symbol: "USDC", Address: testUSDC, Decimals: 6},
		},
		allowance: big.NewInt(0),
	}
}

func (f *fakeTokens) Resolve(ctx context.Context, address common.Address) (*contract.TokenInfo, error) {
	if info, ok := f.infos[address]; ok {
		return info, nil
	}
	return nil, contract.ErrTokenNotFound
}

func (f *fakeTokens) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	return f.allowance, nil
}

func (f *fakeTokens) PackApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	return append([]byte{0x09, 0x5e, 0xa7, 0xb3}, common.LeftPadBytes(amount.Bytes(), 32)...), nil
}

// fakeBPSCaller stakerRewardPercentage 返回固定值
type fakeBPSCaller struct {
	bps   int64
	err   error
	calls int
}

func (f *fakeBPSCaller) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return common.LeftPadBytes(big.NewInt(f.bps).Bytes(), 32), nil
}

// recordingPublisher 记录发布的事件
type recordingPublisher struct {
	mu     sync.Mutex
	events []*model.StakeEvent
	err    error
}

func (p *recordingPublisher) PublishStakeEvent(ctx context.Context, event *model.StakeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) eventTypes() []model.StakeEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.StakeEventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// fakeInvalidator 记录失效的 stake id
type fakeInvalidator struct {
	mu  sync.Mutex
	ids []int64
}

func (f *fakeInvalidator) Invalidate(ctx context.Context, stakeID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, stakeID)
	return nil
}

func newTestGeoStake(t *testing.T, caller contract.Caller) *contract.GeoStakeContract {
	t.Helper()
	c, err := contract.NewGeoStakeContract(testContractAddr, caller)
	require.NoError(t, err)
	return c
}

func bigHash(v int64) common.Hash {
	return common.BigToHash(big.NewInt(v))
}

func stakedLog(t *testing.T, c *contract.GeoStakeContract, stakeID int64, staker, token common.Address, amount *big.Int, lat, lon, expiresAt int64) *types.Log {
	t.Helper()
	ev := c.ABI().Events["Staked"]
	data, err := ev.Inputs.NonIndexed().Pack(amount, big.NewInt(lat), big.NewInt(lon), big.NewInt(expiresAt))
	require.NoError(t, err)
	return &types.Log{
		Address: c.Address(),
		Topics:  []common.Hash{ev.ID, bigHash(stakeID), common.BytesToHash(staker.Bytes()), common.BytesToHash(token.Bytes())},
		Data:    data,
	}
}

func claimedLog(t *testing.T, c *contract.GeoStakeContract, stakeID int64, claimer common.Address, claimerAmount, reward *big.Int) *types.Log {
	t.Helper()
	ev := c.ABI().Events["StakeClaimed"]
	data, err := ev.Inputs.NonIndexed().Pack(claimerAmount, reward)
	require.NoError(t, err)
	return &types.Log{
		Address: c.Address(),
		Topics:  []common.Hash{ev.ID, bigHash(stakeID), common.BytesToHash(claimer.Bytes())},
		Data:    data,
	}
}

func refundedLog(t *testing.T, c *contract.GeoStakeContract, stakeID int64, staker common.Address, amount *big.Int) *types.Log {
	t.Helper()
	ev := c.ABI().Events["StakeRefunded"]
	data, err := ev.Inputs.NonIndexed().Pack(amount)
	require.NoError(t, err)
	return &types.Log{
		Address: c.Address(),
		Topics:  []common.Hash{ev.ID, bigHash(stakeID), common.BytesToHash(staker.Bytes())},
		Data:    data,
	}
}

func withdrawnLog(t *testing.T, c *contract.GeoStakeContract, staker, token common.Address, amount *big.Int) *types.Log {
	t.Helper()
	ev := c.ABI().Events["RewardsWithdrawn"]
	data, err := ev.Inputs.NonIndexed().Pack(amount)
	require.NoError(t, err)
	return &types.Log{
		Address: c.Address(),
		Topics:  []common.Hash{ev.ID, common.BytesToHash(staker.Bytes()), common.BytesToHash(token.Bytes())},
		Data:    data,
	}
}

// activeStake 由 staker 创建, 距 testNow 还有 expiresIn 过期
func activeStake(stakeID int64, staker common.Address, expiresIn time.Duration) *model.Stake {
	expires := testNow.Add(expiresIn)
	return &model.Stake{
		StakeID:         stakeID,
		TransactionHash: bigHash(stakeID).Hex(),
		StakerAddress:   staker.Hex(),
		TokenAddress:    contract.NativeToken().Hex(),
		TokenSymbol:     "AVAX",
		TokenDecimals:   18,
		Amount:          decimal.RequireFromString("1000000000000000000"),
		Latitude:        43.6532,
		Longitude:       -79.3832,
		DurationHours:   24,
		CreatedAt:       expires.Add(-24 * time.Hour).UnixMilli(),
		ExpiresAt:       expires.UnixMilli(),
		Network:         contract.FujiNetworkName,
		ContractAddress: testContractAddr.Hex(),
	}
}

var errDBDown = errors.New("connection refused")
