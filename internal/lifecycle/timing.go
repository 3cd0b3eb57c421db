// Package lifecycle 质押生命周期: 过期时间, 状态推导, 领取/退款资格, 奖励拆分
//
// 包内均为纯函数, 不做任何 I/O. 状态始终从原始字段 (claimed, refunded, expires_at)
// 实时推导, 调用方不应缓存推导结果作为权威数据.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/chandrabosep/AVALOOT/internal/model"
)

// ExpiredLabel 剩余时间为零时的标记
const ExpiredLabel = "EXPIRED"

// ComputeExpiry 过期时间 = 创建时间 + 时长
func ComputeExpiry(createdAt time.Time, durationHours float64) time.Time {
	return createdAt.Add(time.Duration(durationHours * float64(time.Hour)))
}

// FormatRemaining 剩余时间, 逐级向下取整
func FormatRemaining(expiresAt, now time.Time) string {
	if !now.Before(expiresAt) {
		return ExpiredLabel
	}

	total := int64(expiresAt.Sub(now) / time.Second)
	days := total / 86400
	hours := total / 3600
	minutes := total / 60
	seconds := total % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours%24, minutes%60)
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes%60, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

// TimingInfo 时间信息
type TimingInfo struct {
	CreatedAt     time.Time `json:"created_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	TimeRemaining string    `json:"time_remaining"`
	IsExpired     bool      `json:"is_expired"`
	DurationHours int       `json:"duration_hours"`
}

// CalculateTimingInfo 计算质押的时间信息
func CalculateTimingInfo(stake *model.Stake, now time.Time) TimingInfo {
	expiresAt := stake.ExpiresTime()
	return TimingInfo{
		CreatedAt:     stake.CreatedTime(),
		ExpiresAt:     expiresAt,
		TimeRemaining: FormatRemaining(expiresAt, now),
		IsExpired:     !now.Before(expiresAt),
		DurationHours: stake.DurationHours,
	}
}
