package blockchain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/chandrabosep/AVALOOT/pkg/logger"
)

var (
	ErrNoHealthyRPC            = errors.New("no healthy RPC endpoint available")
	ErrInsufficientFunds       = errors.New("insufficient funds for gas")
	ErrNonceTooLow             = errors.New("nonce too low")
	ErrTxNotFound              = errors.New("transaction not found")
	ErrTxFailed                = errors.New("transaction reverted")
	ErrPrivateKeyNotConfigured = errors.New("private key not configured")
)

// RPCEndpoint RPC 端点信息
type RPCEndpoint struct {
	URL        string
	IsHealthy  bool
	ErrorCount int
	LastCheck  time.Time
}

// Client 区块链客户端, 多 RPC 端点故障切换
type Client struct {
	chainID    int64
	privateKey *ecdsa.PrivateKey
	address    common.Address

	endpoints  []*RPCEndpoint
	currentIdx int
	mu         sync.RWMutex

	client *ethclient.Client

	maxRetries      int
	retryInterval   time.Duration
	healthCheckFreq time.Duration
	receiptPoll     time.Duration
}

// ClientConfig 客户端配置
type ClientConfig struct {
	ChainID         int64
	PrivateKey      string
	RPCURLs         []string
	MaxRetries      int
	RetryInterval   time.Duration
	HealthCheckFreq time.Duration
	ReceiptPoll     time.Duration
}

// NewClient 创建区块链客户端
func NewClient(cfg *ClientConfig) (*Client, error) {
	c, err := newClient(cfg)
	if err != nil {
		return nil, err
	}

	if err := c.connect(context.Background()); err != nil {
		return nil, err
	}
	return c, nil
}

func newClient(cfg *ClientConfig) (*Client, error) {
	urls := make([]string, 0, len(cfg.RPCURLs))
	for _, u := range cfg.RPCURLs {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		return nil, errors.New("at least one RPC URL is required")
	}

	var privateKey *ecdsa.PrivateKey
	var address common.Address
	if cfg.PrivateKey != "" {
		var err error
		privateKey, err = crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		address = crypto.PubkeyToAddress(privateKey.PublicKey)
	}

	endpoints := make([]*RPCEndpoint, len(urls))
	for i, u := range urls {
		endpoints[i] = &RPCEndpoint{URL: u, IsHealthy: true}
	}

	c := &Client{
		chainID:         cfg.ChainID,
		privateKey:      privateKey,
		address:         address,
		endpoints:       endpoints,
		maxRetries:      cfg.MaxRetries,
		retryInterval:   cfg.RetryInterval,
		healthCheckFreq: cfg.HealthCheckFreq,
		receiptPoll:     cfg.ReceiptPoll,
	}
	if c.maxRetries == 0 {
		c.maxRetries = 3
	}
	if c.retryInterval == 0 {
		c.retryInterval = time.Second
	}
	if c.healthCheckFreq == 0 {
		c.healthCheckFreq = 30 * time.Second
	}
	if c.receiptPoll == 0 {
		c.receiptPoll = time.Second
	}
	return c, nil
}

// connect 连接到可用的 RPC, 校验链 ID
func (c *Client) connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.endpoints {
		idx := (c.currentIdx + i) % len(c.endpoints)
		ep := c.endpoints[idx]

		if !ep.IsHealthy && time.Since(ep.LastCheck) < c.healthCheckFreq {
			continue
		}

		client, err := ethclient.DialContext(ctx, ep.URL)
		if err != nil {
			c.markUnhealthy(ep)
			continue
		}

		chainID, err := client.ChainID(ctx)
		if err != nil {
			client.Close()
			c.markUnhealthy(ep)
			continue
		}
		if c.chainID != 0 && chainID.Int64() != c.chainID {
			client.Close()
			c.markUnhealthy(ep)
			logger.Warn("rpc chain id mismatch",
				zap.String("url", ep.URL),
				zap.Int64("expected", c.chainID),
				zap.String("actual", chainID.String()))
			continue
		}

		if c.client != nil {
			c.client.Close()
		}

		c.client = client
		c.currentIdx = idx
		ep.IsHealthy = true
		ep.ErrorCount = 0
		ep.LastCheck = time.Now()
		return nil
	}

	return ErrNoHealthyRPC
}

func (c *Client) markUnhealthy(ep *RPCEndpoint) {
	ep.IsHealthy = false
	ep.ErrorCount++
	ep.LastCheck = time.Now()
}

// getClient 获取客户端, 不可用时重连
func (c *Client) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()

	if client != nil {
		return client, nil
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client, nil
}

// withRetry 只读操作的重试, 失败时切换端点
func (c *Client) withRetry(ctx context.Context, fn func(*ethclient.Client) error) error {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		client, err := c.getClient(ctx)
		if err == nil {
			if err = fn(client); err == nil {
				return nil
			}
			if isPermanent(err) {
				return err
			}
			c.mu.Lock()
			c.markUnhealthy(c.endpoints[c.currentIdx])
			c.mu.Unlock()
		}
		lastErr = err

		if i < c.maxRetries-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryInterval):
			}
			_ = c.connect(ctx)
		}
	}
	return lastErr
}

// isPermanent 业务性错误不切换端点
func isPermanent(err error) bool {
	return errors.Is(err, ErrTxNotFound) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		strings.Contains(err.Error(), "execution reverted")
}

// Address 返回签名钱包地址
func (c *Client) Address() common.Address {
	return c.address
}

// ChainID 返回链 ID
func (c *Client) ChainID() int64 {
	return c.chainID
}

// BlockNumber 获取最新区块号
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var blockNum uint64
	err := c.withRetry(ctx, func(client *ethclient.Client) error {
		var err error
		blockNum, err = client.BlockNumber(ctx)
		return err
	})
	return blockNum, err
}

// HeaderByNumber 获取区块头, number 为 nil 时返回最新块
func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	var header *types.Header
	err := c.withRetry(ctx, func(client *ethclient.Client) error {
		var err error
		header, err = client.HeaderByNumber(ctx, number)
		return err
	})
	return header, err
}

// TransactionReceipt 获取交易回执
func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	var receipt *types.Receipt
	err := c.withRetry(ctx, func(client *ethclient.Client) error {
		var err error
		receipt, err = client.TransactionReceipt(ctx, txHash)
		if errors.Is(err, ethereum.NotFound) {
			return ErrTxNotFound
		}
		return err
	})
	return receipt, err
}

// PendingNonceAt 获取待处理 Nonce
func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	var nonce uint64
	err := c.withRetry(ctx, func(client *ethclient.Client) error {
		var err error
		nonce, err = client.PendingNonceAt(ctx, account)
		return err
	})
	return nonce, err
}

// SuggestGasPrice 获取建议 Gas 价格
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	var gasPrice *big.Int
	err := c.withRetry(ctx, func(client *ethclient.Client) error {
		var err error
		gasPrice, err = client.SuggestGasPrice(ctx)
		return err
	})
	return gasPrice, err
}

// SuggestGasTipCap 获取建议 Gas Tip (EIP-1559)
func (c *Client) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	var gasTip *big.Int
	err := c.withRetry(ctx, func(client *ethclient.Client) error {
		var err error
		gasTip, err = client.SuggestGasTipCap(ctx)
		return err
	})
	return gasTip, err
}

// EstimateGas 估算 Gas, 回滚错误直接返回
func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	var gas uint64
	err := c.withRetry(ctx, func(client *ethclient.Client) error {
		var err error
		gas, err = client.EstimateGas(ctx, msg)
		return err
	})
	return gas, err
}

// SendTransaction 发送已签名交易, 不重试
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	client, err := c.getClient(ctx)
	if err != nil {
		return err
	}
	return classifySendError(client.SendTransaction(ctx, tx))
}

func classifySendError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient funds"):
		return fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
	case strings.Contains(msg, "nonce too low"):
		return fmt.Errorf("%w: %v", ErrNonceTooLow, err)
	default:
		return err
	}
}

// FilterLogs 过滤日志
func (c *Client) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	var logs []types.Log
	err := c.withRetry(ctx, func(client *ethclient.Client) error {
		var err error
		logs, err = client.FilterLogs(ctx, query)
		return err
	})
	return logs, err
}

// BalanceAt 获取原生币余额
func (c *Client) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	var balance *big.Int
	err := c.withRetry(ctx, func(client *ethclient.Client) error {
		var err error
		balance, err = client.BalanceAt(ctx, account, blockNumber)
		return err
	})
	return balance, err
}

// CallContract 调用合约只读方法
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	var result []byte
	err := c.withRetry(ctx, func(client *ethclient.Client) error {
		var err error
		result, err = client.CallContract(ctx, msg, blockNumber)
		return err
	})
	return result, err
}

// CodeAt 获取合约字节码
func (c *Client) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	var code []byte
	err := c.withRetry(ctx, func(client *ethclient.Client) error {
		var err error
		code, err = client.CodeAt(ctx, account, blockNumber)
		return err
	})
	return code, err
}

// SignTransaction 签名交易 (London signer, 兼容 legacy 与 EIP-1559)
func (c *Client) SignTransaction(tx *types.Transaction) (*types.Transaction, error) {
	if c.privateKey == nil {
		return nil, ErrPrivateKeyNotConfigured
	}
	signer := types.NewLondonSigner(big.NewInt(c.chainID))
	return types.SignTx(tx, signer, c.privateKey)
}

// Close 关闭客户端
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
}

// HealthCheck 健康检查
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.BlockNumber(ctx)
	return err
}

// GetHealthyEndpoints 获取健康的端点列表
func (c *Client) GetHealthyEndpoints() []RPCEndpoint {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var healthy []RPCEndpoint
	for _, ep := range c.endpoints {
		if ep.IsHealthy {
			healthy = append(healthy, *ep)
		}
	}
	return healthy
}
