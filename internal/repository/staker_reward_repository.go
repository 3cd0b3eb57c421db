package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/chandrabosep/AVALOOT/internal/model"
)

var (
	ErrRewardNotFound            = errors.New("staker reward not found")
	ErrInsufficientRewardBalance = errors.New("insufficient reward balance")
	ErrWithdrawalRecorded        = errors.New("reward withdrawal already recorded")
)

// RewardKey staker 奖励唯一键
type RewardKey struct {
	Staker  string
	Token   string
	Network string
}

// StakerRewardRepository 质押者奖励仓储接口
type StakerRewardRepository interface {
	Get(ctx context.Context, key RewardKey) (*model.StakerReward, error)
	ListByStaker(ctx context.Context, staker, network string) ([]*model.StakerReward, error)
	// Credit 累加奖励, 记录不存在时创建
	Credit(ctx context.Context, key RewardKey, tokenSymbol, contractAddress string, amount decimal.Decimal) error
	// Debit 扣减可提取余额, 余额不足返回 ErrInsufficientRewardBalance
	Debit(ctx context.Context, key RewardKey, amount decimal.Decimal) error
	// RecordWithdrawal 在同一事务中记录提取并扣减余额, 同一交易哈希重复记录返回 ErrWithdrawalRecorded
	RecordWithdrawal(ctx context.Context, withdrawal *model.RewardWithdrawal) error
}

// stakerRewardRepository 质押者奖励仓储实现
type stakerRewardRepository struct {
	*Repository
}

// NewStakerRewardRepository 创建质押者奖励仓储
func NewStakerRewardRepository(db *gorm.DB) StakerRewardRepository {
	return &stakerRewardRepository{
		Repository: NewRepository(db),
	}
}

func (k RewardKey) normalized() RewardKey {
	return RewardKey{
		Staker:  NormalizeAddress(k.Staker),
		Token:   NormalizeAddress(k.Token),
		Network: k.Network,
	}
}

func (r *stakerRewardRepository) Get(ctx context.Context, key RewardKey) (*model.StakerReward, error) {
	key = key.normalized()
	var reward model.StakerReward
	err := r.DB(ctx).
		Where("staker_address = ? AND token_address = ? AND network = ?", key.Staker, key.Token, key.Network).
		First(&reward).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRewardNotFound
	}
	if err != nil {
		return nil, err
	}
	return &reward, nil
}

func (r *stakerRewardRepository) ListByStaker(ctx context.Context, staker, network string) ([]*model.StakerReward, error) {
	var rewards []*model.StakerReward
	err := r.DB(ctx).
		Where("staker_address = ? AND network = ?", NormalizeAddress(staker), network).
		Order("token_symbol ASC").
		Find(&rewards).Error
	return rewards, err
}

func (r *stakerRewardRepository) Credit(ctx context.Context, key RewardKey, tokenSymbol, contractAddress string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return errors.New("credit amount must not be negative")
	}
	if amount.IsZero() {
		return nil
	}
	key = key.normalized()
	now := time.Now().UnixMilli()

	sql := `INSERT INTO staker_rewards
			   (staker_address, token_address, token_symbol, total_earned, total_withdrawn,
			    available_balance, network, contract_address, created_at, updated_at)
		   VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?, ?)
		   ON CONFLICT (staker_address, token_address, network) DO UPDATE
		   SET total_earned = staker_rewards.total_earned + EXCLUDED.total_earned,
			   available_balance = staker_rewards.available_balance + EXCLUDED.available_balance,
			   updated_at = EXCLUDED.updated_at`

	result := r.DB(ctx).Exec(sql, key.Staker, key.Token, tokenSymbol, amount, amount,
		key.Network, NormalizeAddress(contractAddress), now, now)
	if result.Error != nil {
		return fmt.Errorf("credit staker reward failed: %w", result.Error)
	}
	return nil
}

func (r *stakerRewardRepository) Debit(ctx context.Context, key RewardKey, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return errors.New("debit amount must be positive")
	}
	key = key.normalized()

	sql := `UPDATE staker_rewards
		   SET total_withdrawn = total_withdrawn + ?,
			   available_balance = available_balance - ?,
			   updated_at = ?
		   WHERE staker_address = ? AND token_address = ? AND network = ? AND available_balance >= ?`

	result := r.DB(ctx).Exec(sql, amount, amount, time.Now().UnixMilli(),
		key.Staker, key.Token, key.Network, amount)
	if result.Error != nil {
		return fmt.Errorf("debit staker reward failed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrInsufficientRewardBalance
	}
	return nil
}

func (r *stakerRewardRepository) RecordWithdrawal(ctx context.Context, w *model.RewardWithdrawal) error {
	key := RewardKey{Staker: w.StakerAddress, Token: w.TokenAddress, Network: w.Network}.normalized()
	w.StakerAddress = key.Staker
	w.TokenAddress = key.Token
	w.TxHash = strings.ToLower(w.TxHash)
	if w.CreatedAt == 0 {
		w.CreatedAt = time.Now().UnixMilli()
	}

	return r.Transaction(ctx, func(ctx context.Context) error {
		sql := `INSERT INTO reward_withdrawals
				   (tx_hash, staker_address, token_address, amount, network, block_number, created_at)
			   VALUES (?, ?, ?, ?, ?, ?, ?)
			   ON CONFLICT (tx_hash) DO NOTHING`

		result := r.DB(ctx).Exec(sql, w.TxHash, w.StakerAddress, w.TokenAddress, w.Amount,
			w.Network, w.BlockNumber, w.CreatedAt)
		if result.Error != nil {
			return fmt.Errorf("record reward withdrawal failed: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrWithdrawalRecorded
		}
		return r.Debit(ctx, key, w.Amount)
	})
}
