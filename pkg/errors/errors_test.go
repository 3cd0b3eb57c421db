package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
)

func TestError_Is(t *testing.T) {
	err := ErrTooFarToClaim.WithMessage("you are 150m away")
	assert.True(t, errors.Is(err, ErrTooFarToClaim))
	assert.False(t, errors.Is(err, ErrStakeNotFound))

	wrapped := fmt.Errorf("claim: %w", err)
	assert.True(t, errors.Is(wrapped, ErrTooFarToClaim))
}

func TestError_WithDetailDoesNotMutateOriginal(t *testing.T) {
	err := ErrTooFarToClaim.WithDetail("distance_meters", "150")
	assert.Equal(t, "150", err.Details["distance_meters"])
	assert.Nil(t, ErrTooFarToClaim.Details)
}

func TestWrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(ErrStorageUnavailable, cause)

	assert.Equal(t, cause, errors.Unwrap(err))
	assert.Contains(t, err.Error(), "connection refused")
	assert.NotEmpty(t, err.Stack)
	assert.Equal(t, CategoryPersistence, err.Category)
}

func TestVerbatim(t *testing.T) {
	cause := errors.New("execution reverted: too far")
	err := Verbatim(ErrChainTxFailed, cause)

	assert.Equal(t, "execution reverted: too far", err.Message)
	assert.Equal(t, http.StatusBadGateway, err.HTTPStatus)
	assert.Equal(t, codes.Aborted, err.GRPCCode)
	assert.False(t, err.Retryable)
}

func TestRetryableCategories(t *testing.T) {
	assert.True(t, ErrLocationDenied.Retryable)
	assert.True(t, ErrTooFarToClaim.Retryable)
	assert.False(t, ErrChainTxFailed.Retryable)
	assert.False(t, ErrStakeNotFound.Retryable)
}

func TestFromError(t *testing.T) {
	assert.Nil(t, FromError(nil))

	biz := ErrStakeNotFound.WithMessage("stake 9 not found")
	assert.Equal(t, biz, FromError(fmt.Errorf("lookup: %w", biz)))

	plain := FromError(errors.New("boom"))
	assert.Equal(t, ErrInternal.Code, plain.Code)
}

func TestError_MarshalJSON(t *testing.T) {
	err := ErrTooFarToClaim.WithDetail("distance_meters", "150")

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(err.JSON()), &out))
	assert.Equal(t, "TOO_FAR_TO_CLAIM", out["code"])
	assert.Equal(t, "distance", out["category"])
	assert.Equal(t, true, out["retryable"])
	assert.NotEmpty(t, out["error"])
}
