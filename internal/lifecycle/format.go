package lifecycle

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/chandrabosep/AVALOOT/internal/model"
)

// DefaultTokenDecimals 未知代币的默认精度
const DefaultTokenDecimals uint8 = 18

// FormatTokenAmount 最小单位转为可读金额, 去掉小数末尾的 0
func FormatTokenAmount(raw *big.Int, decimals uint8) string {
	if raw == nil {
		return "0"
	}
	return decimal.NewFromBigInt(raw, -int32(decimals)).String()
}

// FormatTokenAmountString 同 FormatTokenAmount, 输入为十进制字符串
func FormatTokenAmountString(raw string, decimals uint8) (string, error) {
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	return FormatTokenAmount(v, decimals), nil
}

// ParseTokenAmount 可读金额转为最小单位
func ParseTokenAmount(human string, decimals uint8) (*big.Int, error) {
	d, err := decimal.NewFromString(human)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, human)
	}
	if d.IsNegative() {
		return nil, ErrNegativeAmount
	}
	shifted := d.Shift(int32(decimals))
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, fmt.Errorf("%w: %q has more than %d decimals", ErrInvalidAmount, human, decimals)
	}
	return shifted.BigInt(), nil
}

// FormatCoordinate 合约整数坐标格式化为 6 位小数
func FormatCoordinate(c int64) string {
	return decimal.New(c, -6).StringFixed(6)
}

// ClaimPeriodExplanation 领取期说明文案
func ClaimPeriodExplanation(status model.StakeStatus, timeRemaining string) string {
	switch status {
	case model.StakeStatusClaimed, model.StakeStatusRefunded:
		return "This stake has been claimed or refunded and is no longer available."
	case model.StakeStatusExpired:
		return "This stake has expired. Only the original staker can now refund the tokens."
	default:
		return fmt.Sprintf("This stake is active for %s. Anyone except the original staker can claim it during this period.", timeRemaining)
	}
}

// MarkerKind 地图标记类型
type MarkerKind string

const (
	MarkerClaimable MarkerKind = "claimable" // 活跃, 他人可领取
	MarkerLocked    MarkerKind = "locked"    // 活跃, 本人质押尚在领取期
	MarkerOwn       MarkerKind = "own"       // 已过期, 本人可退款
	MarkerExpired   MarkerKind = "expired"
	MarkerGone      MarkerKind = "gone" // 已领取或已退款
)

// Marker 根据资格选择标记类型
func Marker(e Eligibility) MarkerKind {
	switch {
	case e.Status.IsTerminal():
		return MarkerGone
	case e.CanClaim:
		return MarkerClaimable
	case e.CanRefund:
		return MarkerOwn
	case e.Status == model.StakeStatusExpired:
		return MarkerExpired
	default:
		return MarkerLocked
	}
}
