package model

import "github.com/shopspring/decimal"

// RewardWithdrawal 奖励提取记录, 交易哈希唯一, 用于防止重复扣减
type RewardWithdrawal struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TxHash        string          `gorm:"column:tx_hash;type:varchar(66);uniqueIndex;not null" json:"tx_hash"`
	StakerAddress string          `gorm:"column:staker_address;type:varchar(42);index;not null" json:"staker_address"`
	TokenAddress  string          `gorm:"column:token_address;type:varchar(42);not null" json:"token_address"`
	Amount        decimal.Decimal `gorm:"column:amount;type:numeric(78,0);not null" json:"amount"`
	Network       string          `gorm:"column:network;type:varchar(32);not null" json:"network"`
	BlockNumber   int64           `gorm:"column:block_number;type:bigint" json:"block_number"`
	CreatedAt     int64           `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
}

// TableName 返回表名
func (RewardWithdrawal) TableName() string {
	return "reward_withdrawals"
}
