// Package contract provides smart contract ABI bindings for the GeoStake contract.
package contract

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// GeoStake contract errors
var (
	ErrStakeIDNotFound     = errors.New("stake id not found in receipt")
	ErrEventNotFound       = errors.New("event not found in receipt")
	ErrUnexpectedEventLog  = errors.New("log does not match event")
	ErrContractNotDeployed = errors.New("geostake contract not deployed")
)

// GeoStakeABI is the ABI of the GeoStake smart contract.
//
//	function stake(address token, uint256 amount, int256 latitude, int256 longitude, uint256 duration) external payable returns (uint256);
//	function claim(uint256 stakeId, int256 latitude, int256 longitude) external;
//	function refund(uint256 stakeId) external;
//	function withdrawRewards(address token) external;
//	function getStake(uint256 stakeId) external view returns (address, address, uint256, int256, int256, uint256, bool);
//	function stakerRewardPercentage() external view returns (uint256);
//	function stakerRewards(address staker, address token) external view returns (uint256);
const GeoStakeABI = `[
	{
		"type": "function",
		"name": "stake",
		"inputs": [
			{"name": "token", "type": "address"},
			{"name": "amount", "type": "uint256"},
			{"name": "latitude", "type": "int256"},
			{"name": "longitude", "type": "int256"},
			{"name": "duration", "type": "uint256"}
		],
		"outputs": [{"name": "stakeId", "type": "uint256"}],
		"stateMutability": "payable"
	},
	{
		"type": "function",
		"name": "claim",
		"inputs": [
			{"name": "stakeId", "type": "uint256"},
			{"name": "latitude", "type": "int256"},
			{"name": "longitude", "type": "int256"}
		],
		"outputs": [],
		"stateMutability": "nonpayable"
	},
	{
		"type": "function",
		"name": "refund",
		"inputs": [{"name": "stakeId", "type": "uint256"}],
		"outputs": [],
		"stateMutability": "nonpayable"
	},
	{
		"type": "function",
		"name": "withdrawRewards",
		"inputs": [{"name": "token", "type": "address"}],
		"outputs": [],
		"stateMutability": "nonpayable"
	},
	{
		"type": "function",
		"name": "getStake",
		"inputs": [{"name": "stakeId", "type": "uint256"}],
		"outputs": [
			{"name": "staker", "type": "address"},
			{"name": "token", "type": "address"},
			{"name": "amount", "type": "uint256"},
			{"name": "latitude", "type": "int256"},
			{"name": "longitude", "type": "int256"},
			{"name": "expiresAt", "type": "uint256"},
			{"name": "claimed", "type": "bool"}
		],
		"stateMutability": "view"
	},
	{
		"type": "function",
		"name": "stakerRewardPercentage",
		"inputs": [],
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view"
	},
	{
		"type": "function",
		"name": "stakerRewards",
		"inputs": [
			{"name": "staker", "type": "address"},
			{"name": "token", "type": "address"}
		],
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view"
	},
	{
		"type": "event",
		"name": "Staked",
		"inputs": [
			{"name": "stakeId", "type": "uint256", "indexed": true},
			{"name": "staker", "type": "address", "indexed": true},
			{"name": "token", "type": "address", "indexed": true},
			{"name": "amount", "type": "uint256", "indexed": false},
			{"name": "latitude", "type": "int256", "indexed": false},
			{"name": "longitude", "type": "int256", "indexed": false},
			{"name": "expiresAt", "type": "uint256", "indexed": false}
		],
		"anonymous": false
	},
	{
		"type": "event",
		"name": "StakeClaimed",
		"inputs": [
			{"name": "stakeId", "type": "uint256", "indexed": true},
			{"name": "claimer", "type": "address", "indexed": true},
			{"name": "claimerAmount", "type": "uint256", "indexed": false},
			{"name": "stakerReward", "type": "uint256", "indexed": false}
		],
		"anonymous": false
	},
	{
		"type": "event",
		"name": "StakeRefunded",
		"inputs": [
			{"name": "stakeId", "type": "uint256", "indexed": true},
			{"name": "staker", "type": "address", "indexed": true},
			{"name": "amount", "type": "uint256", "indexed": false}
		],
		"anonymous": false
	},
	{
		"type": "event",
		"name": "RewardsWithdrawn",
		"inputs": [
			{"name": "staker", "type": "address", "indexed": true},
			{"name": "token", "type": "address", "indexed": true},
			{"name": "amount", "type": "uint256", "indexed": false}
		],
		"anonymous": false
	}
]`

// Caller 只读调用
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// CodeReader 字节码查询
type CodeReader interface {
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
}

// OnChainStake getStake 返回值
type OnChainStake struct {
	StakeID   *big.Int
	Staker    common.Address
	Token     common.Address
	Amount    *big.Int
	Latitude  *big.Int
	Longitude *big.Int
	ExpiresAt *big.Int
	Claimed   bool
}

// StakedEvent Staked 事件
type StakedEvent struct {
	StakeID   *big.Int
	Staker    common.Address
	Token     common.Address
	Amount    *big.Int
	Latitude  *big.Int
	Longitude *big.Int
	ExpiresAt *big.Int
	Raw       types.Log
}

// StakeClaimedEvent StakeClaimed 事件
type StakeClaimedEvent struct {
	StakeID       *big.Int
	Claimer       common.Address
	ClaimerAmount *big.Int
	StakerReward  *big.Int
	Raw           types.Log
}

// StakeRefundedEvent StakeRefunded 事件
type StakeRefundedEvent struct {
	StakeID *big.Int
	Staker  common.Address
	Amount  *big.Int
	Raw     types.Log
}

// RewardsWithdrawnEvent RewardsWithdrawn 事件
type RewardsWithdrawnEvent struct {
	Staker common.Address
	Token  common.Address
	Amount *big.Int
	Raw    types.Log
}

// GeoStakeContract GeoStake 合约绑定
type GeoStakeContract struct {
	address common.Address
	abi     abi.ABI
	caller  Caller
}

// NewGeoStakeContract 创建合约绑定, caller 为空时只能打包和解析
func NewGeoStakeContract(address common.Address, caller Caller) (*GeoStakeContract, error) {
	parsed, err := abi.JSON(strings.NewReader(GeoStakeABI))
	if err != nil {
		return nil, err
	}
	return &GeoStakeContract{
		address: address,
		abi:     parsed,
		caller:  caller,
	}, nil
}

// Address returns the contract address.
func (c *GeoStakeContract) Address() common.Address {
	return c.address
}

// ABI returns the parsed ABI.
func (c *GeoStakeContract) ABI() abi.ABI {
	return c.abi
}

// EnsureDeployed 检查地址上是否存在合约代码
func (c *GeoStakeContract) EnsureDeployed(ctx context.Context, reader CodeReader) error {
	code, err := reader.CodeAt(ctx, c.address, nil)
	if err != nil {
		return err
	}
	if len(code) == 0 {
		return fmt.Errorf("%w: %s", ErrContractNotDeployed, c.address.Hex())
	}
	return nil
}

// PackStake 打包 stake 调用, duration 单位秒
func (c *GeoStakeContract) PackStake(token common.Address, amount *big.Int, latitude, longitude int64, durationSeconds uint64) ([]byte, error) {
	return c.abi.Pack("stake", token, amount,
		big.NewInt(latitude), big.NewInt(longitude),
		new(big.Int).SetUint64(durationSeconds))
}

// PackClaim 打包 claim 调用
func (c *GeoStakeContract) PackClaim(stakeID *big.Int, latitude, longitude int64) ([]byte, error) {
	return c.abi.Pack("claim", stakeID, big.NewInt(latitude), big.NewInt(longitude))
}

// PackRefund 打包 refund 调用
func (c *GeoStakeContract) PackRefund(stakeID *big.Int) ([]byte, error) {
	return c.abi.Pack("refund", stakeID)
}

// PackWithdrawRewards 打包 withdrawRewards 调用
func (c *GeoStakeContract) PackWithdrawRewards(token common.Address) ([]byte, error) {
	return c.abi.Pack("withdrawRewards", token)
}

func (c *GeoStakeContract) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	if c.caller == nil {
		return nil, errors.New("no contract caller configured")
	}
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, err
	}

	msg := ethereum.CallMsg{
		To:   &c.address,
		Data: data,
	}
	result, err := c.caller.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, err
	}
	return c.abi.Unpack(method, result)
}

// GetStake 查询链上 stake
func (c *GeoStakeContract) GetStake(ctx context.Context, stakeID *big.Int) (*OnChainStake, error) {
	out, err := c.call(ctx, "getStake", stakeID)
	if err != nil {
		return nil, err
	}
	if len(out) != 7 {
		return nil, fmt.Errorf("getStake: unexpected output length %d", len(out))
	}

	s := &OnChainStake{StakeID: new(big.Int).Set(stakeID)}
	var ok bool
	if s.Staker, ok = out[0].(common.Address); !ok {
		return nil, errors.New("getStake: invalid staker")
	}
	if s.Token, ok = out[1].(common.Address); !ok {
		return nil, errors.New("getStake: invalid token")
	}
	if s.Amount, ok = out[2].(*big.Int); !ok {
		return nil, errors.New("getStake: invalid amount")
	}
	if s.Latitude, ok = out[3].(*big.Int); !ok {
		return nil, errors.New("getStake: invalid latitude")
	}
	if s.Longitude, ok = out[4].(*big.Int); !ok {
		return nil, errors.New("getStake: invalid longitude")
	}
	if s.ExpiresAt, ok = out[5].(*big.Int); !ok {
		return nil, errors.New("getStake: invalid expiresAt")
	}
	if s.Claimed, ok = out[6].(bool); !ok {
		return nil, errors.New("getStake: invalid claimed")
	}
	return s, nil
}

// StakerRewardPercentage 查询 staker 奖励比例 (基点)
func (c *GeoStakeContract) StakerRewardPercentage(ctx context.Context) (uint64, error) {
	out, err := c.call(ctx, "stakerRewardPercentage")
	if err != nil {
		return 0, err
	}
	v, err := singleUint(out)
	if err != nil {
		return 0, fmt.Errorf("stakerRewardPercentage: %w", err)
	}
	if !v.IsUint64() {
		return 0, fmt.Errorf("stakerRewardPercentage: value out of range: %s", v)
	}
	return v.Uint64(), nil
}

// StakerRewards 查询 staker 在某代币上的待提取奖励
func (c *GeoStakeContract) StakerRewards(ctx context.Context, staker, token common.Address) (*big.Int, error) {
	out, err := c.call(ctx, "stakerRewards", staker, token)
	if err != nil {
		return nil, err
	}
	v, err := singleUint(out)
	if err != nil {
		return nil, fmt.Errorf("stakerRewards: %w", err)
	}
	return v, nil
}

func singleUint(out []interface{}) (*big.Int, error) {
	if len(out) != 1 {
		return nil, fmt.Errorf("unexpected output length %d", len(out))
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, errors.New("unexpected output type")
	}
	return v, nil
}

// StakedEventTopic returns the topic for Staked events.
func (c *GeoStakeContract) StakedEventTopic() common.Hash {
	return c.abi.Events["Staked"].ID
}

// StakeClaimedEventTopic returns the topic for StakeClaimed events.
func (c *GeoStakeContract) StakeClaimedEventTopic() common.Hash {
	return c.abi.Events["StakeClaimed"].ID
}

// StakeRefundedEventTopic returns the topic for StakeRefunded events.
func (c *GeoStakeContract) StakeRefundedEventTopic() common.Hash {
	return c.abi.Events["StakeRefunded"].ID
}

// RewardsWithdrawnEventTopic returns the topic for RewardsWithdrawn events.
func (c *GeoStakeContract) RewardsWithdrawnEventTopic() common.Hash {
	return c.abi.Events["RewardsWithdrawn"].ID
}

// EventTopics 所有事件 topic, 供日志过滤使用
func (c *GeoStakeContract) EventTopics() []common.Hash {
	return []common.Hash{
		c.StakedEventTopic(),
		c.StakeClaimedEventTopic(),
		c.StakeRefundedEventTopic(),
		c.RewardsWithdrawnEventTopic(),
	}
}

func (c *GeoStakeContract) unpackEvent(name string, log types.Log, topics int) ([]interface{}, error) {
	if len(log.Topics) < topics || log.Topics[0] != c.abi.Events[name].ID {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedEventLog, name)
	}
	return c.abi.Unpack(name, log.Data)
}

// ParseStaked parses a Staked event from a log.
func (c *GeoStakeContract) ParseStaked(log types.Log) (*StakedEvent, error) {
	out, err := c.unpackEvent("Staked", log, 4)
	if err != nil {
		return nil, err
	}
	if len(out) != 4 {
		return nil, fmt.Errorf("Staked: unexpected data length %d", len(out))
	}
	return &StakedEvent{
		StakeID:   new(big.Int).SetBytes(log.Topics[1].Bytes()),
		Staker:    common.BytesToAddress(log.Topics[2].Bytes()),
		Token:     common.BytesToAddress(log.Topics[3].Bytes()),
		Amount:    out[0].(*big.Int),
		Latitude:  out[1].(*big.Int),
		Longitude: out[2].(*big.Int),
		ExpiresAt: out[3].(*big.Int),
		Raw:       log,
	}, nil
}

// ParseStakeClaimed parses a StakeClaimed event from a log.
func (c *GeoStakeContract) ParseStakeClaimed(log types.Log) (*StakeClaimedEvent, error) {
	out, err := c.unpackEvent("StakeClaimed", log, 3)
	if err != nil {
		return nil, err
	}
	if len(out) != 2 {
		return nil, fmt.Errorf("StakeClaimed: unexpected data length %d", len(out))
	}
	return &StakeClaimedEvent{
		StakeID:       new(big.Int).SetBytes(log.Topics[1].Bytes()),
		Claimer:       common.BytesToAddress(log.Topics[2].Bytes()),
		ClaimerAmount: out[0].(*big.Int),
		StakerReward:  out[1].(*big.Int),
		Raw:           log,
	}, nil
}

// ParseStakeRefunded parses a StakeRefunded event from a log.
func (c *GeoStakeContract) ParseStakeRefunded(log types.Log) (*StakeRefundedEvent, error) {
	out, err := c.unpackEvent("StakeRefunded", log, 3)
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("StakeRefunded: unexpected data length %d", len(out))
	}
	return &StakeRefundedEvent{
		StakeID: new(big.Int).SetBytes(log.Topics[1].Bytes()),
		Staker:  common.BytesToAddress(log.Topics[2].Bytes()),
		Amount:  out[0].(*big.Int),
		Raw:     log,
	}, nil
}

// ParseRewardsWithdrawn parses a RewardsWithdrawn event from a log.
func (c *GeoStakeContract) ParseRewardsWithdrawn(log types.Log) (*RewardsWithdrawnEvent, error) {
	out, err := c.unpackEvent("RewardsWithdrawn", log, 3)
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("RewardsWithdrawn: unexpected data length %d", len(out))
	}
	return &RewardsWithdrawnEvent{
		Staker: common.BytesToAddress(log.Topics[1].Bytes()),
		Token:  common.BytesToAddress(log.Topics[2].Bytes()),
		Amount: out[0].(*big.Int),
		Raw:    log,
	}, nil
}

// StakeIDFromReceipt 从回执中提取 stake id
// 取第一个来自本合约且 topic 数不少于 4 的日志, stake id 为 topics[1]
func (c *GeoStakeContract) StakeIDFromReceipt(receipt *types.Receipt) (*big.Int, error) {
	return StakeIDFromLogs(receipt.Logs, c.address)
}

// StakeIDFromLogs 见 StakeIDFromReceipt
func StakeIDFromLogs(logs []*types.Log, contract common.Address) (*big.Int, error) {
	for _, l := range logs {
		if l == nil || l.Address != contract || len(l.Topics) < 4 {
			continue
		}
		return new(big.Int).SetBytes(l.Topics[1].Bytes()), nil
	}
	return nil, ErrStakeIDNotFound
}

// FindStaked 在回执中查找 Staked 事件
func (c *GeoStakeContract) FindStaked(receipt *types.Receipt) (*StakedEvent, error) {
	topic := c.StakedEventTopic()
	for _, l := range receipt.Logs {
		if l == nil || l.Address != c.address || len(l.Topics) == 0 || l.Topics[0] != topic {
			continue
		}
		return c.ParseStaked(*l)
	}
	return nil, fmt.Errorf("%w: Staked", ErrEventNotFound)
}

// FindStakeClaimed 在回执中查找 StakeClaimed 事件
func (c *GeoStakeContract) FindStakeClaimed(receipt *types.Receipt) (*StakeClaimedEvent, error) {
	topic := c.StakeClaimedEventTopic()
	for _, l := range receipt.Logs {
		if l == nil || l.Address != c.address || len(l.Topics) == 0 || l.Topics[0] != topic {
			continue
		}
		return c.ParseStakeClaimed(*l)
	}
	return nil, fmt.Errorf("%w: StakeClaimed", ErrEventNotFound)
}

// FindRewardsWithdrawn 在回执中查找 RewardsWithdrawn 事件
func (c *GeoStakeContract) FindRewardsWithdrawn(receipt *types.Receipt) (*RewardsWithdrawnEvent, error) {
	topic := c.RewardsWithdrawnEventTopic()
	for _, l := range receipt.Logs {
		if l == nil || l.Address != c.address || len(l.Topics) == 0 || l.Topics[0] != topic {
			continue
		}
		return c.ParseRewardsWithdrawn(*l)
	}
	return nil, fmt.Errorf("%w: RewardsWithdrawn", ErrEventNotFound)
}

// NativeToken returns the address representing native AVAX.
func NativeToken() common.Address {
	return common.Address{}
}

// IsNativeToken checks if the token is native AVAX.
func IsNativeToken(token common.Address) bool {
	return token == common.Address{}
}
