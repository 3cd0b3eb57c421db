package model

import "github.com/shopspring/decimal"

// StakeEventType 质押事件类型
type StakeEventType string

const (
	StakeEventCreated         StakeEventType = "stake.created"
	StakeEventClaimed         StakeEventType = "stake.claimed"
	StakeEventRefunded        StakeEventType = "stake.refunded"
	StakeEventExpired         StakeEventType = "stake.expired"
	StakeEventRewardWithdrawn StakeEventType = "reward.withdrawn"
)

// StakeEvent 质押生命周期事件 (发送到 Kafka)
type StakeEvent struct {
	EventID       string          `json:"event_id"`
	Type          StakeEventType  `json:"type"`
	StakeID       int64           `json:"stake_id,omitempty"`
	TxHash        string          `json:"tx_hash,omitempty"`
	Staker        string          `json:"staker,omitempty"`
	Claimer       string          `json:"claimer,omitempty"`
	TokenAddress  string          `json:"token_address"`
	TokenSymbol   string          `json:"token_symbol,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	ClaimerAmount decimal.Decimal `json:"claimer_amount"`
	StakerReward  decimal.Decimal `json:"staker_reward"`
	Latitude      float64         `json:"latitude,omitempty"`
	Longitude     float64         `json:"longitude,omitempty"`
	ExpiresAt     int64           `json:"expires_at,omitempty"`
	Network       string          `json:"network"`
	OccurredAt    int64           `json:"occurred_at"`
}
