package contract

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testContract = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testStaker   = common.HexToAddress("0x2222222222222222222222222222222222222222")
	testClaimer  = common.HexToAddress("0x3333333333333333333333333333333333333333")
	testToken    = common.HexToAddress("0x4444444444444444444444444444444444444444")
)

// fakeCaller 按方法选择器返回预设数据
type fakeCaller struct {
	responses map[[4]byte][]byte
	errs      map[[4]byte]error
	calls     []ethereum.CallMsg
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{
		responses: make(map[[4]byte][]byte),
		errs:      make(map[[4]byte]error),
	}
}

func (f *fakeCaller) set(id []byte, data []byte) {
	var key [4]byte
	copy(key[:], id)
	f.responses[key] = data
}

func (f *fakeCaller) fail(id []byte, err error) {
	var key [4]byte
	copy(key[:], id)
	f.errs[key] = err
}

func (f *fakeCaller) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	f.calls = append(f.calls, msg)
	var key [4]byte
	copy(key[:], msg.Data[:4])
	if err, ok := f.errs[key]; ok {
		return nil, err
	}
	if data, ok := f.responses[key]; ok {
		return data, nil
	}
	return nil, errors.New("execution reverted")
}

func newTestGeoStake(t *testing.T, caller Caller) *GeoStakeContract {
	t.Helper()
	c, err := NewGeoStakeContract(testContract, caller)
	require.NoError(t, err)
	return c
}

func hashFromBig(v int64) common.Hash {
	return common.BigToHash(big.NewInt(v))
}

func TestGeoStake_PackStake(t *testing.T) {
	c := newTestGeoStake(t, nil)

	amount := big.NewInt(1_000_000_000_000_000_000)
	data, err := c.PackStake(NativeToken(), amount, 43653225, -79383186, 24*3600)
	require.NoError(t, err)

	method := c.ABI().Methods["stake"]
	assert.Equal(t, method.ID, data[:4])

	args, err := method.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	require.Len(t, args, 5)
	assert.Equal(t, NativeToken(), args[0].(common.Address))
	assert.Equal(t, amount.String(), args[1].(*big.Int).String())
	assert.Equal(t, int64(43653225), args[2].(*big.Int).Int64())
	assert.Equal(t, int64(-79383186), args[3].(*big.Int).Int64())
	assert.Equal(t, int64(86400), args[4].(*big.Int).Int64())
}

func TestGeoStake_PackClaim(t *testing.T) {
	c := newTestGeoStake(t, nil)

	data, err := c.PackClaim(big.NewInt(7), 10_000_000, -20_500_000)
	require.NoError(t, err)

	method := c.ABI().Methods["claim"]
	args, err := method.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	assert.Equal(t, int64(7), args[0].(*big.Int).Int64())
	assert.Equal(t, int64(10_000_000), args[1].(*big.Int).Int64())
	assert.Equal(t, int64(-20_500_000), args[2].(*big.Int).Int64())
}

func TestGeoStake_PackRefundAndWithdraw(t *testing.T) {
	c := newTestGeoStake(t, nil)

	data, err := c.PackRefund(big.NewInt(3))
	require.NoError(t, err)
	assert.Equal(t, c.ABI().Methods["refund"].ID, data[:4])

	data, err = c.PackWithdrawRewards(testToken)
	require.NoError(t, err)
	args, err := c.ABI().Methods["withdrawRewards"].Inputs.Unpack(data[4:])
	require.NoError(t, err)
	assert.Equal(t, testToken, args[0].(common.Address))
}

func TestGeoStake_GetStake(t *testing.T) {
	caller := newFakeCaller()
	c := newTestGeoStake(t, caller)

	method := c.ABI().Methods["getStake"]
	out, err := method.Outputs.Pack(testStaker, testToken, big.NewInt(500),
		big.NewInt(-33868820), big.NewInt(151209290), big.NewInt(1_700_000_000), true)
	require.NoError(t, err)
	caller.set(method.ID, out)

	s, err := c.GetStake(context.Background(), big.NewInt(9))
	require.NoError(t, err)
	assert.Equal(t, int64(9), s.StakeID.Int64())
	assert.Equal(t, testStaker, s.Staker)
	assert.Equal(t, testToken, s.Token)
	assert.Equal(t, int64(500), s.Amount.Int64())
	assert.Equal(t, int64(-33868820), s.Latitude.Int64())
	assert.Equal(t, int64(151209290), s.Longitude.Int64())
	assert.Equal(t, int64(1_700_000_000), s.ExpiresAt.Int64())
	assert.True(t, s.Claimed)

	require.Len(t, caller.calls, 1)
	assert.Equal(t, testContract, *caller.calls[0].To)
}

func TestGeoStake_StakerRewardPercentage(t *testing.T) {
	caller := newFakeCaller()
	c := newTestGeoStake(t, caller)

	method := c.ABI().Methods["stakerRewardPercentage"]
	out, err := method.Outputs.Pack(big.NewInt(750))
	require.NoError(t, err)
	caller.set(method.ID, out)

	bps, err := c.StakerRewardPercentage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(750), bps)
}

func TestGeoStake_CallError(t *testing.T) {
	caller := newFakeCaller()
	c := newTestGeoStake(t, caller)
	caller.fail(c.ABI().Methods["stakerRewards"].ID, errors.New("rpc down"))

	_, err := c.StakerRewards(context.Background(), testStaker, testToken)
	assert.EqualError(t, err, "rpc down")
}

func TestGeoStake_NoCaller(t *testing.T) {
	c := newTestGeoStake(t, nil)
	_, err := c.GetStake(context.Background(), big.NewInt(1))
	assert.Error(t, err)
}

func TestGeoStake_ParseStaked(t *testing.T) {
	c := newTestGeoStake(t, nil)

	ev := c.ABI().Events["Staked"]
	data, err := ev.Inputs.NonIndexed().Pack(big.NewInt(1000), big.NewInt(43653225),
		big.NewInt(-79383186), big.NewInt(1_800_000_000))
	require.NoError(t, err)

	log := types.Log{
		Address: testContract,
		Topics: []common.Hash{
			ev.ID,
			hashFromBig(42),
			common.BytesToHash(testStaker.Bytes()),
			common.BytesToHash(NativeToken().Bytes()),
		},
		Data: data,
	}

	parsed, err := c.ParseStaked(log)
	require.NoError(t, err)
	assert.Equal(t, int64(42), parsed.StakeID.Int64())
	assert.Equal(t, testStaker, parsed.Staker)
	assert.True(t, IsNativeToken(parsed.Token))
	assert.Equal(t, int64(1000), parsed.Amount.Int64())
	assert.Equal(t, int64(-79383186), parsed.Longitude.Int64())
	assert.Equal(t, int64(1_800_000_000), parsed.ExpiresAt.Int64())
}

func TestGeoStake_ParseWrongEvent(t *testing.T) {
	c := newTestGeoStake(t, nil)

	log := types.Log{
		Address: testContract,
		Topics:  []common.Hash{c.StakeRefundedEventTopic(), hashFromBig(1), hashFromBig(2)},
	}
	_, err := c.ParseStakeClaimed(log)
	assert.ErrorIs(t, err, ErrUnexpectedEventLog)
}

func claimedReceipt(t *testing.T, c *GeoStakeContract, claimerAmount, reward int64) *types.Receipt {
	t.Helper()
	ev := c.ABI().Events["StakeClaimed"]
	data, err := ev.Inputs.NonIndexed().Pack(big.NewInt(claimerAmount), big.NewInt(reward))
	require.NoError(t, err)

	return &types.Receipt{
		Status: types.ReceiptStatusSuccessful,
		Logs: []*types.Log{
			{
				Address: testToken,
				Topics:  []common.Hash{common.HexToHash("0xdead"), hashFromBig(1), hashFromBig(2), hashFromBig(3)},
			},
			{
				Address: testContract,
				Topics:  []common.Hash{ev.ID, hashFromBig(5), common.BytesToHash(testClaimer.Bytes())},
				Data:    data,
			},
		},
	}
}

func TestGeoStake_FindStakeClaimed(t *testing.T) {
	c := newTestGeoStake(t, nil)
	receipt := claimedReceipt(t, c, 95, 5)

	ev, err := c.FindStakeClaimed(receipt)
	require.NoError(t, err)
	assert.Equal(t, int64(5), ev.StakeID.Int64())
	assert.Equal(t, testClaimer, ev.Claimer)
	assert.Equal(t, int64(95), ev.ClaimerAmount.Int64())
	assert.Equal(t, int64(5), ev.StakerReward.Int64())

	_, err = c.FindRewardsWithdrawn(receipt)
	assert.ErrorIs(t, err, ErrEventNotFound)
}

func TestGeoStake_FindRewardsWithdrawn(t *testing.T) {
	c := newTestGeoStake(t, nil)
	ev := c.ABI().Events["RewardsWithdrawn"]
	data, err := ev.Inputs.NonIndexed().Pack(big.NewInt(1234))
	require.NoError(t, err)

	receipt := &types.Receipt{Logs: []*types.Log{{
		Address: testContract,
		Topics:  []common.Hash{ev.ID, common.BytesToHash(testStaker.Bytes()), common.BytesToHash(testToken.Bytes())},
		Data:    data,
	}}}

	parsed, err := c.FindRewardsWithdrawn(receipt)
	require.NoError(t, err)
	assert.Equal(t, testStaker, parsed.Staker)
	assert.Equal(t, testToken, parsed.Token)
	assert.Equal(t, int64(1234), parsed.Amount.Int64())
}

func TestStakeIDFromReceipt(t *testing.T) {
	c := newTestGeoStake(t, nil)

	t.Run("first matching log", func(t *testing.T) {
		receipt := &types.Receipt{Logs: []*types.Log{
			// ERC20 Transfer from the token contract
			{Address: testToken, Topics: []common.Hash{{1}, hashFromBig(1), hashFromBig(2), hashFromBig(3)}},
			// fewer than four topics
			{Address: testContract, Topics: []common.Hash{{2}, hashFromBig(8)}},
			{Address: testContract, Topics: []common.Hash{c.StakedEventTopic(), hashFromBig(17), hashFromBig(0), hashFromBig(0)}},
			{Address: testContract, Topics: []common.Hash{c.StakedEventTopic(), hashFromBig(18), hashFromBig(0), hashFromBig(0)}},
		}}

		id, err := c.StakeIDFromReceipt(receipt)
		require.NoError(t, err)
		assert.Equal(t, int64(17), id.Int64())
	})

	t.Run("no matching log", func(t *testing.T) {
		receipt := &types.Receipt{Logs: []*types.Log{
			{Address: testToken, Topics: []common.Hash{{1}, hashFromBig(1), hashFromBig(2), hashFromBig(3)}},
		}}
		_, err := c.StakeIDFromReceipt(receipt)
		assert.ErrorIs(t, err, ErrStakeIDNotFound)
	})
}

type fakeCodeReader struct{ code []byte }

func (f fakeCodeReader) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	return f.code, nil
}

func TestGeoStake_EnsureDeployed(t *testing.T) {
	c := newTestGeoStake(t, nil)

	assert.NoError(t, c.EnsureDeployed(context.Background(), fakeCodeReader{code: []byte{0x60, 0x80}}))
	assert.ErrorIs(t, c.EnsureDeployed(context.Background(), fakeCodeReader{}), ErrContractNotDeployed)
}

func TestEventTopics(t *testing.T) {
	c := newTestGeoStake(t, nil)
	topics := c.EventTopics()
	assert.Len(t, topics, 4)
	assert.NotEqual(t, topics[0], topics[1])
}
