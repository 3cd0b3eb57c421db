package model

import "github.com/shopspring/decimal"

// StakerReward 质押者奖励汇总 (staker, token, network 唯一)
// AvailableBalance = TotalEarned - TotalWithdrawn, 不可为负
type StakerReward struct {
	ID               int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	StakerAddress    string          `gorm:"column:staker_address;type:varchar(42);uniqueIndex:uk_staker_token_network;not null" json:"staker_address"`
	TokenAddress     string          `gorm:"column:token_address;type:varchar(42);uniqueIndex:uk_staker_token_network;not null" json:"token_address"`
	TokenSymbol      string          `gorm:"column:token_symbol;type:varchar(20);not null" json:"token_symbol"`
	TotalEarned      decimal.Decimal `gorm:"column:total_earned;type:numeric(78,0);not null;default:0" json:"total_earned"`
	TotalWithdrawn   decimal.Decimal `gorm:"column:total_withdrawn;type:numeric(78,0);not null;default:0" json:"total_withdrawn"`
	AvailableBalance decimal.Decimal `gorm:"column:available_balance;type:numeric(78,0);not null;default:0" json:"available_balance"`
	Network          string          `gorm:"column:network;type:varchar(32);uniqueIndex:uk_staker_token_network;not null" json:"network"`
	ContractAddress  string          `gorm:"column:contract_address;type:varchar(42);not null" json:"contract_address"`
	CreatedAt        int64           `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
	UpdatedAt        int64           `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

// TableName 返回表名
func (StakerReward) TableName() string {
	return "staker_rewards"
}

// HasBalance 是否有可提取余额
func (r *StakerReward) HasBalance() bool {
	return r.AvailableBalance.IsPositive()
}
