package blockchain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrReceiptTimeout 等待回执超时, 交易状态未知
var ErrReceiptTimeout = errors.New("timed out waiting for transaction receipt")

// ReceiptFetcher 回执查询
type ReceiptFetcher interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// WaitForReceipt 轮询直到交易上链
// 回执状态为失败时同时返回回执和 ErrTxFailed
func WaitForReceipt(ctx context.Context, f ReceiptFetcher, txHash common.Hash, poll time.Duration) (*types.Receipt, error) {
	if poll <= 0 {
		poll = time.Second
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		receipt, err := f.TransactionReceipt(ctx, txHash)
		switch {
		case err == nil && receipt != nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return receipt, fmt.Errorf("%w: %s", ErrTxFailed, txHash.Hex())
			}
			return receipt, nil
		case err != nil && !errors.Is(err, ErrTxNotFound):
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, ErrReceiptTimeout
			}
			return nil, err
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, ErrReceiptTimeout
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// WaitForReceipt 等待交易回执
func (c *Client) WaitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return WaitForReceipt(ctx, c, txHash, c.receiptPoll)
}
