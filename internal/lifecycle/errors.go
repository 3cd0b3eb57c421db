package lifecycle

import (
	"errors"
	"fmt"

	"github.com/chandrabosep/AVALOOT/internal/model"
)

var (
	ErrOwnerCannotClaim = errors.New("the original staker cannot claim their own stake")
	ErrNotOwner         = errors.New("only the original staker can refund this stake")
	ErrInvalidBPS       = errors.New("basis points must be between 0 and 10000")
	ErrNegativeAmount   = errors.New("amount must not be negative")
	ErrInvalidAmount    = errors.New("invalid token amount")
)

// StatusError 当前状态不允许该操作
type StatusError struct {
	StakeID int64
	Status  model.StakeStatus
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("stake %d is %s", e.StakeID, e.Status)
}
