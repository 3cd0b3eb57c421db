package service

import (
	"errors"
	"fmt"

	"github.com/chandrabosep/AVALOOT/internal/lifecycle"
	"github.com/chandrabosep/AVALOOT/internal/location"
	"github.com/chandrabosep/AVALOOT/internal/repository"
	bizerr "github.com/chandrabosep/AVALOOT/pkg/errors"
	"github.com/chandrabosep/AVALOOT/pkg/geo"
)

var (
	ErrInvalidDuration    = errors.New("duration must be between 1 and 8760 hours")
	ErrInvalidCoordinates = errors.New("latitude must be within [-90, 90] and longitude within [-180, 180]")
	ErrInvalidAmount      = errors.New("amount must be greater than zero")
	ErrInvalidToken       = errors.New("invalid token address")
)

// toBizError 把领域错误转换为业务错误码
// refund 为 true 时状态错误映射为不可退款
func toBizError(err error, refund bool) error {
	if err == nil {
		return nil
	}

	var bizErr *bizerr.Error
	if errors.As(err, &bizErr) {
		return bizErr
	}

	var distErr *geo.DistanceError
	if errors.As(err, &distErr) {
		return bizerr.ErrTooFarToClaim.
			WithMessage(distErr.Error()).
			WithDetail("distance_meters", fmt.Sprintf("%.1f", distErr.Distance))
	}

	var statusErr *lifecycle.StatusError
	if errors.As(err, &statusErr) {
		target := bizerr.ErrStakeNotClaimable
		if refund {
			target = bizerr.ErrStakeNotRefundable
		}
		return target.WithDetail("status", statusErr.Status.String())
	}

	switch {
	case errors.Is(err, lifecycle.ErrOwnerCannotClaim):
		return bizerr.ErrOwnerCannotClaim
	case errors.Is(err, lifecycle.ErrNotOwner):
		return bizerr.ErrNotStakeOwner
	case errors.Is(err, location.ErrLocationDenied):
		return bizerr.ErrLocationDenied
	case errors.Is(err, location.ErrLocationTimeout):
		return bizerr.ErrLocationTimeout
	case errors.Is(err, location.ErrLocationUnavailable):
		return bizerr.ErrLocationUnavailable
	case errors.Is(err, repository.ErrStakeNotFound):
		return bizerr.ErrStakeNotFound
	case errors.Is(err, repository.ErrInsufficientRewardBalance),
		errors.Is(err, repository.ErrRewardNotFound):
		return bizerr.ErrInsufficientRewardBalance
	case errors.Is(err, ErrInvalidDuration),
		errors.Is(err, ErrInvalidCoordinates),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidToken),
		errors.Is(err, lifecycle.ErrInvalidAmount),
		errors.Is(err, lifecycle.ErrNegativeAmount):
		return bizerr.ErrInvalidRequest.WithMessage(err.Error())
	}

	return bizerr.Wrap(bizerr.ErrStorageUnavailable, err)
}
