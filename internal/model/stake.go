package model

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/chandrabosep/AVALOOT/pkg/geo"
)

// StakeStatus 质押生命周期状态 (由字段推导, 不落库)
type StakeStatus int8

const (
	StakeStatusActive   StakeStatus = 0 // 可领取
	StakeStatusExpired  StakeStatus = 1 // 已过期, 仅质押者可退款
	StakeStatusClaimed  StakeStatus = 2 // 已被领取
	StakeStatusRefunded StakeStatus = 3 // 已退款
)

func (s StakeStatus) String() string {
	switch s {
	case StakeStatusActive:
		return "active"
	case StakeStatusExpired:
		return "expired"
	case StakeStatusClaimed:
		return "claimed"
	case StakeStatusRefunded:
		return "refunded"
	default:
		return "unknown"
	}
}

// IsTerminal 是否终态
func (s StakeStatus) IsTerminal() bool {
	return s == StakeStatusClaimed || s == StakeStatusRefunded
}

// MarshalText 以字符串形式序列化
func (s StakeStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseStakeStatus 解析状态字符串
func ParseStakeStatus(s string) (StakeStatus, bool) {
	switch s {
	case "active":
		return StakeStatusActive, true
	case "expired":
		return StakeStatusExpired, true
	case "claimed":
		return StakeStatusClaimed, true
	case "refunded":
		return StakeStatusRefunded, true
	default:
		return 0, false
	}
}

// Stake 质押记录
// Amount / ClaimerAmount / StakerReward 均为链上最小单位 (wei)
type Stake struct {
	ID              int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	StakeID         int64           `gorm:"column:stake_id;type:bigint;uniqueIndex;not null" json:"stake_id"`
	TransactionHash string          `gorm:"column:transaction_hash;type:varchar(66);uniqueIndex;not null" json:"transaction_hash"`
	StakerAddress   string          `gorm:"column:staker_address;type:varchar(42);index;not null" json:"staker_address"`
	TokenAddress    string          `gorm:"column:token_address;type:varchar(42);not null" json:"token_address"`
	TokenSymbol     string          `gorm:"column:token_symbol;type:varchar(20);not null" json:"token_symbol"`
	TokenDecimals   uint8           `gorm:"column:token_decimals;type:smallint;not null;default:18" json:"token_decimals"`
	Amount          decimal.Decimal `gorm:"column:amount;type:numeric(78,0);not null" json:"amount"`
	Latitude        float64         `gorm:"column:latitude;type:double precision;index:idx_stakes_location;not null" json:"latitude"`
	Longitude       float64         `gorm:"column:longitude;type:double precision;index:idx_stakes_location;not null" json:"longitude"`
	DurationHours   int             `gorm:"column:duration_hours;type:int;not null" json:"duration_hours"`
	CreatedAt       int64           `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
	ExpiresAt       int64           `gorm:"column:expires_at;type:bigint;index;not null" json:"expires_at"`
	Claimed         bool            `gorm:"column:claimed;type:boolean;index;not null;default:false" json:"claimed"`
	ClaimedBy       string          `gorm:"column:claimed_by;type:varchar(42)" json:"claimed_by,omitempty"`
	ClaimedAt       int64           `gorm:"column:claimed_at;type:bigint" json:"claimed_at,omitempty"`
	ClaimTxHash     string          `gorm:"column:claim_tx_hash;type:varchar(66)" json:"claim_tx_hash,omitempty"`
	ClaimerAmount   decimal.Decimal `gorm:"column:claimer_amount;type:numeric(78,0);not null;default:0" json:"claimer_amount"`
	StakerReward    decimal.Decimal `gorm:"column:staker_reward;type:numeric(78,0);not null;default:0" json:"staker_reward"`
	Refunded        bool            `gorm:"column:refunded;type:boolean;index;not null;default:false" json:"refunded"`
	RefundedAt      int64           `gorm:"column:refunded_at;type:bigint" json:"refunded_at,omitempty"`
	RefundTxHash    string          `gorm:"column:refund_tx_hash;type:varchar(66)" json:"refund_tx_hash,omitempty"`
	Network         string          `gorm:"column:network;type:varchar(32);not null" json:"network"`
	ContractAddress string          `gorm:"column:contract_address;type:varchar(42);not null" json:"contract_address"`
	UpdatedAt       int64           `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

// TableName 返回表名
func (Stake) TableName() string {
	return "stakes"
}

// Point 质押坐标
func (s *Stake) Point() geo.Point {
	return geo.NewPoint(s.Latitude, s.Longitude)
}

// CreatedTime 创建时间
func (s *Stake) CreatedTime() time.Time {
	return time.UnixMilli(s.CreatedAt)
}

// ExpiresTime 过期时间
func (s *Stake) ExpiresTime() time.Time {
	return time.UnixMilli(s.ExpiresAt)
}

// Settled 已领取或已退款
func (s *Stake) Settled() bool {
	return s.Claimed || s.Refunded
}
