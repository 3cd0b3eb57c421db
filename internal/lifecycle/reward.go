package lifecycle

import "math/big"

const (
	// BPSDenominator 基点分母
	BPSDenominator = 10000
	// DefaultStakerRewardBPS 合约不可达时用于预估的默认基点 (5%)
	DefaultStakerRewardBPS uint64 = 500
)

// SplitReward 按基点拆分领取金额
// stakerReward = floor(total * bps / 10000), 余数归领取者
func SplitReward(total *big.Int, bps uint64) (claimerAmount, stakerReward *big.Int, err error) {
	if total == nil || total.Sign() < 0 {
		return nil, nil, ErrNegativeAmount
	}
	if bps > BPSDenominator {
		return nil, nil, ErrInvalidBPS
	}

	stakerReward = new(big.Int).Mul(total, new(big.Int).SetUint64(bps))
	stakerReward.Quo(stakerReward, big.NewInt(BPSDenominator))
	claimerAmount = new(big.Int).Sub(total, stakerReward)
	return claimerAmount, stakerReward, nil
}

// RewardSplit 奖励拆分预览
type RewardSplit struct {
	Total         *big.Int `json:"total"`
	ClaimerAmount *big.Int `json:"claimer_amount"`
	StakerReward  *big.Int `json:"staker_reward"`
	BPS           uint64   `json:"bps"`
	Estimated     bool     `json:"estimated"` // 基点来自默认值而非合约
}

// PreviewSplit 生成拆分预览
func PreviewSplit(total *big.Int, bps uint64, estimated bool) (*RewardSplit, error) {
	claimer, staker, err := SplitReward(total, bps)
	if err != nil {
		return nil, err
	}
	return &RewardSplit{
		Total:         new(big.Int).Set(total),
		ClaimerAmount: claimer,
		StakerReward:  staker,
		BPS:           bps,
		Estimated:     estimated,
	}, nil
}
