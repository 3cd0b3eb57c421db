package blockchain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/chandrabosep/AVALOOT/pkg/logger"
)

// NonceAllocator nonce 分配
type NonceAllocator interface {
	Acquire(ctx context.Context) (uint64, error)
	Reset(ctx context.Context) error
}

// TxBackend 交易发送依赖
type TxBackend interface {
	ReceiptFetcher
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	SignTransaction(tx *types.Transaction) (*types.Transaction, error)
	Address() common.Address
}

// TxRequest 交易请求
type TxRequest struct {
	To       common.Address
	Data     []byte
	Value    *big.Int
	GasLimit uint64
	GasPrice *big.Int // 为空时使用节点建议值
}

// Transactor 构建, 签名, 发送交易并等待回执
type Transactor struct {
	backend        TxBackend
	nonces         NonceAllocator
	receiptPoll    time.Duration
	receiptTimeout time.Duration
}

// TransactorConfig 配置
type TransactorConfig struct {
	ReceiptPoll    time.Duration
	ReceiptTimeout time.Duration
}

// NewTransactor 创建 Transactor
func NewTransactor(backend TxBackend, nonces NonceAllocator, cfg *TransactorConfig) *Transactor {
	t := &Transactor{
		backend:        backend,
		nonces:         nonces,
		receiptPoll:    cfg.ReceiptPoll,
		receiptTimeout: cfg.ReceiptTimeout,
	}
	if t.receiptPoll == 0 {
		t.receiptPoll = time.Second
	}
	if t.receiptTimeout == 0 {
		t.receiptTimeout = 2 * time.Minute
	}
	return t
}

// From 签名地址
func (t *Transactor) From() common.Address {
	return t.backend.Address()
}

// Send 发送交易, 失败时重置 nonce 缓存, 不自动重发
func (t *Transactor) Send(ctx context.Context, req TxRequest) (*types.Transaction, error) {
	gasPrice := req.GasPrice
	if gasPrice == nil {
		var err error
		gasPrice, err = t.backend.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("suggest gas price: %w", err)
		}
	}

	value := req.Value
	if value == nil {
		value = new(big.Int)
	}

	nonce, err := t.nonces.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire nonce: %w", err)
	}

	to := req.To
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      req.GasLimit,
		GasPrice: gasPrice,
		Data:     req.Data,
	})

	signed, err := t.backend.SignTransaction(tx)
	if err != nil {
		t.resetNonce(ctx)
		return nil, err
	}

	if err := t.backend.SendTransaction(ctx, signed); err != nil {
		t.resetNonce(ctx)
		return nil, err
	}

	logger.Info("transaction sent",
		zap.String("tx_hash", signed.Hash().Hex()),
		zap.String("to", to.Hex()),
		zap.Uint64("nonce", nonce),
		zap.Uint64("gas", req.GasLimit))

	return signed, nil
}

// Wait 阻塞等待回执, 超过 receiptTimeout 返回 ErrReceiptTimeout
func (t *Transactor) Wait(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, t.receiptTimeout)
	defer cancel()
	return WaitForReceipt(ctx, t.backend, txHash, t.receiptPoll)
}

func (t *Transactor) resetNonce(ctx context.Context) {
	if err := t.nonces.Reset(ctx); err != nil {
		logger.Warn("failed to reset nonce", zap.Error(err))
	}
}
