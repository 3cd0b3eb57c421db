package lifecycle

import (
	"time"

	"github.com/chandrabosep/AVALOOT/internal/model"
)

// Classify 推导质押状态
// 优先级: claimed > refunded > 过期 > 活跃. 终态不受时间影响.
func Classify(stake *model.Stake, now time.Time) model.StakeStatus {
	switch {
	case stake.Claimed:
		return model.StakeStatusClaimed
	case stake.Refunded:
		return model.StakeStatusRefunded
	case !now.Before(stake.ExpiresTime()):
		return model.StakeStatusExpired
	default:
		return model.StakeStatusActive
	}
}
