package contract

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/chandrabosep/AVALOOT/pkg/logger"
)

// Token registry errors
var (
	ErrTokenNotFound      = errors.New("token not found")
	ErrInvalidTokenConfig = errors.New("invalid token configuration")
)

// DefaultDecimals 查询失败时使用的精度
const DefaultDecimals uint8 = 18

// ERC20ABI is the minimal ABI for ERC20 token queries and approvals.
const ERC20ABI = `[
	{
		"type": "function",
		"name": "symbol",
		"inputs": [],
		"outputs": [{"name": "", "type": "string"}],
		"stateMutability": "view"
	},
	{
		"type": "function",
		"name": "decimals",
		"inputs": [],
		"outputs": [{"name": "", "type": "uint8"}],
		"stateMutability": "view"
	},
	{
		"type": "function",
		"name": "name",
		"inputs": [],
		"outputs": [{"name": "", "type": "string"}],
		"stateMutability": "view"
	},
	{
		"type": "function",
		"name": "balanceOf",
		"inputs": [{"name": "account", "type": "address"}],
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view"
	},
	{
		"type": "function",
		"name": "allowance",
		"inputs": [
			{"name": "owner", "type": "address"},
			{"name": "spender", "type": "address"}
		],
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view"
	},
	{
		"type": "function",
		"name": "approve",
		"inputs": [
			{"name": "spender", "type": "address"},
			{"name": "amount", "type": "uint256"}
		],
		"outputs": [{"name": "", "type": "bool"}],
		"stateMutability": "nonpayable"
	}
]`

// BalanceReader 原生币余额查询
type BalanceReader interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// TokenInfo represents information about a token.
type TokenInfo struct {
	Symbol   string         `json:"symbol"`
	Name     string         `json:"name"`
	Address  common.Address `json:"address"`
	Decimals uint8          `json:"decimals"`
	ChainID  int64          `json:"chain_id"`
	IsNative bool           `json:"is_native"`
}

// TokenRegistryConfig is the configuration for the token registry.
type TokenRegistryConfig struct {
	ChainID int64
	// address -> TokenInfo
	Tokens map[string]*TokenInfo
}

// TokenRegistry 代币信息注册表, 未知代币回落到链上查询
type TokenRegistry struct {
	mu sync.RWMutex

	chainID int64

	tokensByAddress map[common.Address]*TokenInfo
	tokensBySymbol  map[string]*TokenInfo

	erc20ABI abi.ABI
	caller   Caller
}

// NewTokenRegistry creates a new token registry with native AVAX pre-registered.
func NewTokenRegistry(cfg *TokenRegistryConfig, caller Caller) (*TokenRegistry, error) {
	parsed, err := abi.JSON(strings.NewReader(ERC20ABI))
	if err != nil {
		return nil, err
	}

	r := &TokenRegistry{
		chainID:         cfg.ChainID,
		tokensByAddress: make(map[common.Address]*TokenInfo),
		tokensBySymbol:  make(map[string]*TokenInfo),
		erc20ABI:        parsed,
		caller:          caller,
	}

	native := &TokenInfo{
		Symbol:   NativeSymbol,
		Name:     NativeName,
		Address:  NativeToken(),
		Decimals: NativeDecimals,
		ChainID:  cfg.ChainID,
		IsNative: true,
	}
	r.tokensByAddress[native.Address] = native
	r.tokensBySymbol[native.Symbol] = native

	for addrStr, info := range cfg.Tokens {
		if info == nil || info.Symbol == "" || !common.IsHexAddress(addrStr) {
			return nil, ErrInvalidTokenConfig
		}
		t := *info
		t.Address = common.HexToAddress(addrStr)
		t.ChainID = cfg.ChainID
		r.tokensByAddress[t.Address] = &t
		r.tokensBySymbol[strings.ToUpper(t.Symbol)] = &t
	}

	return r, nil
}

// RegisterToken registers a new token.
func (r *TokenRegistry) RegisterToken(info *TokenInfo) error {
	if info == nil || info.Symbol == "" {
		return ErrInvalidTokenConfig
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	info.ChainID = r.chainID
	r.tokensByAddress[info.Address] = info
	r.tokensBySymbol[strings.ToUpper(info.Symbol)] = info
	return nil
}

// GetByAddress returns the token info for a given address.
func (r *TokenRegistry) GetByAddress(address common.Address) (*TokenInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if info, ok := r.tokensByAddress[address]; ok {
		return info, nil
	}
	return nil, ErrTokenNotFound
}

// GetBySymbol returns the token info for a given symbol.
func (r *TokenRegistry) GetBySymbol(symbol string) (*TokenInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if info, ok := r.tokensBySymbol[strings.ToUpper(symbol)]; ok {
		return info, nil
	}
	return nil, ErrTokenNotFound
}

// Resolve 返回代币信息, 未注册时查询链上并缓存
// decimals 查询失败时按 18 位处理, symbol 查询失败时使用地址缩写
func (r *TokenRegistry) Resolve(ctx context.Context, address common.Address) (*TokenInfo, error) {
	if info, err := r.GetByAddress(address); err == nil {
		return info, nil
	}
	if r.caller == nil {
		return nil, ErrTokenNotFound
	}

	symbol, err := r.querySymbol(ctx, address)
	if err != nil {
		logger.Warn("failed to query token symbol",
			zap.String("token", address.Hex()),
			zap.Error(err))
		symbol = shortAddress(address)
	}

	decimals, err := r.queryDecimals(ctx, address)
	if err != nil {
		logger.Warn("failed to query token decimals, defaulting to 18",
			zap.String("token", address.Hex()),
			zap.Error(err))
		decimals = DefaultDecimals
	}

	name, _ := r.queryName(ctx, address)

	info := &TokenInfo{
		Symbol:   symbol,
		Name:     name,
		Address:  address,
		Decimals: decimals,
		ChainID:  r.chainID,
	}

	r.mu.Lock()
	r.tokensByAddress[address] = info
	if _, taken := r.tokensBySymbol[strings.ToUpper(symbol)]; !taken {
		r.tokensBySymbol[strings.ToUpper(symbol)] = info
	}
	r.mu.Unlock()

	return info, nil
}

// GetAllTokens returns all registered tokens.
func (r *TokenRegistry) GetAllTokens() []*TokenInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tokens := make([]*TokenInfo, 0, len(r.tokensByAddress))
	for _, info := range r.tokensByAddress {
		tokens = append(tokens, info)
	}
	return tokens
}

// BalanceOf 查询余额, 原生币需要 BalanceReader
func (r *TokenRegistry) BalanceOf(ctx context.Context, token, account common.Address, native BalanceReader) (*big.Int, error) {
	if IsNativeToken(token) {
		if native == nil {
			return nil, errors.New("no balance reader configured")
		}
		return native.BalanceAt(ctx, account, nil)
	}
	return r.callUint(ctx, token, "balanceOf", account)
}

// Allowance 查询授权额度
func (r *TokenRegistry) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	if IsNativeToken(token) {
		return nil, errors.New("native token has no allowance")
	}
	return r.callUint(ctx, token, "allowance", owner, spender)
}

// PackApprove 打包 approve 调用
func (r *TokenRegistry) PackApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	return r.erc20ABI.Pack("approve", spender, amount)
}

func (r *TokenRegistry) callRaw(ctx context.Context, token common.Address, method string, args ...interface{}) ([]interface{}, error) {
	if r.caller == nil {
		return nil, errors.New("no contract caller configured")
	}
	data, err := r.erc20ABI.Pack(method, args...)
	if err != nil {
		return nil, err
	}

	msg := ethereum.CallMsg{
		To:   &token,
		Data: data,
	}
	result, err := r.caller.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, err
	}
	return r.erc20ABI.Unpack(method, result)
}

func (r *TokenRegistry) callUint(ctx context.Context, token common.Address, method string, args ...interface{}) (*big.Int, error) {
	out, err := r.callRaw(ctx, token, method, args...)
	if err != nil {
		return nil, err
	}
	return singleUint(out)
}

func (r *TokenRegistry) callString(ctx context.Context, token common.Address, method string) (string, error) {
	out, err := r.callRaw(ctx, token, method)
	if err != nil {
		return "", err
	}
	if len(out) != 1 {
		return "", errors.New("unexpected output length")
	}
	s, ok := out[0].(string)
	if !ok {
		return "", errors.New("unexpected output type")
	}
	return s, nil
}

func (r *TokenRegistry) querySymbol(ctx context.Context, address common.Address) (string, error) {
	if IsNativeToken(address) {
		return NativeSymbol, nil
	}
	return r.callString(ctx, address, "symbol")
}

func (r *TokenRegistry) queryName(ctx context.Context, address common.Address) (string, error) {
	if IsNativeToken(address) {
		return NativeName, nil
	}
	return r.callString(ctx, address, "name")
}

func (r *TokenRegistry) queryDecimals(ctx context.Context, address common.Address) (uint8, error) {
	if IsNativeToken(address) {
		return NativeDecimals, nil
	}
	out, err := r.callRaw(ctx, address, "decimals")
	if err != nil {
		return 0, err
	}
	if len(out) != 1 {
		return 0, errors.New("unexpected output length")
	}
	d, ok := out[0].(uint8)
	if !ok {
		return 0, errors.New("unexpected output type")
	}
	return d, nil
}

func shortAddress(address common.Address) string {
	h := address.Hex()
	return h[:6] + "..." + h[len(h)-4:]
}

// DefaultTokens returns the default token configuration for supported networks.
func DefaultTokens(chainID int64) map[string]*TokenInfo {
	switch chainID {
	case FujiChainID:
		return map[string]*TokenInfo{
			"0x5425890298aed601595a70AB815c96711a31Bc65": {Symbol: "USDC", Name: "USD Coin", Decimals: 6},
		}
	default:
		return map[string]*TokenInfo{}
	}
}
