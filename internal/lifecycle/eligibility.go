package lifecycle

import (
	"strings"
	"time"

	"github.com/chandrabosep/AVALOOT/internal/model"
	"github.com/chandrabosep/AVALOOT/pkg/geo"
)

// IsOwner 地址比较不区分大小写
func IsOwner(requester, staker string) bool {
	requester = strings.TrimSpace(requester)
	if requester == "" {
		return false
	}
	return strings.EqualFold(requester, strings.TrimSpace(staker))
}

// CanClaim 活跃且非质押者本人
func CanClaim(status model.StakeStatus, isOwner bool) bool {
	return status == model.StakeStatusActive && !isOwner
}

// CanRefund 已过期且为质押者本人
func CanRefund(status model.StakeStatus, isOwner bool) bool {
	return status == model.StakeStatusExpired && isOwner
}

// Eligibility 某个请求者视角下的质押资格
type Eligibility struct {
	Status        model.StakeStatus `json:"status"`
	IsOwner       bool              `json:"is_owner"`
	CanClaim      bool              `json:"can_claim"`
	CanRefund     bool              `json:"can_refund"`
	TimeRemaining string            `json:"time_remaining"`
	Explanation   string            `json:"explanation"`
	Marker        MarkerKind        `json:"marker"`
}

// Evaluate 计算请求者对质押的资格
func Evaluate(stake *model.Stake, requester string, now time.Time) Eligibility {
	status := Classify(stake, now)
	owner := IsOwner(requester, stake.StakerAddress)
	remaining := FormatRemaining(stake.ExpiresTime(), now)

	e := Eligibility{
		Status:        status,
		IsOwner:       owner,
		CanClaim:      CanClaim(status, owner),
		CanRefund:     CanRefund(status, owner),
		TimeRemaining: remaining,
		Explanation:   ClaimPeriodExplanation(status, remaining),
	}
	e.Marker = Marker(e)
	return e
}

// CheckClaim 领取前预检: 状态, 归属, 距离
// 预检通过后链上交易仍可能回滚, 调用方必须处理
func CheckClaim(stake *model.Stake, requester string, position geo.Point, now time.Time) error {
	status := Classify(stake, now)
	if IsOwner(requester, stake.StakerAddress) {
		return ErrOwnerCannotClaim
	}
	if status != model.StakeStatusActive {
		return &StatusError{StakeID: stake.StakeID, Status: status}
	}
	return geo.ValidateClaimLocation(position, stake.Point())
}

// CheckRefund 退款前预检
func CheckRefund(stake *model.Stake, requester string, now time.Time) error {
	if !IsOwner(requester, stake.StakerAddress) {
		return ErrNotOwner
	}
	status := Classify(stake, now)
	if !CanRefund(status, true) {
		return &StatusError{StakeID: stake.StakeID, Status: status}
	}
	return nil
}
