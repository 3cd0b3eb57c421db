// Package errors 带错误码的业务错误
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"

	"google.golang.org/grpc/codes"
)

// Category 错误类别
type Category string

const (
	CategoryLocation    Category = "location"
	CategoryDistance    Category = "distance"
	CategoryChain       Category = "chain"
	CategoryPersistence Category = "persistence"
	CategoryDomain      Category = "domain"
	CategoryInternal    Category = "internal"
)

// Error 业务错误
type Error struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Category   Category          `json:"category"`
	Retryable  bool              `json:"retryable"`
	HTTPStatus int               `json:"-"`
	GRPCCode   codes.Code        `json:"-"`
	Cause      error             `json:"-"`
	Details    map[string]string `json:"details,omitempty"`
	Stack      string            `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is 按错误码比较
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetails 添加详情
func (e *Error) WithDetails(details map[string]string) *Error {
	newErr := e.Copy()
	if newErr.Details == nil {
		newErr.Details = make(map[string]string, len(details))
	}
	for k, v := range details {
		newErr.Details[k] = v
	}
	return newErr
}

// WithDetail 添加单个详情
func (e *Error) WithDetail(key, value string) *Error {
	return e.WithDetails(map[string]string{key: value})
}

// WithMessage 替换错误消息
func (e *Error) WithMessage(message string) *Error {
	newErr := e.Copy()
	newErr.Message = message
	return newErr
}

// WithMessagef 格式化替换错误消息
func (e *Error) WithMessagef(format string, args ...interface{}) *Error {
	return e.WithMessage(fmt.Sprintf(format, args...))
}

// Copy 复制错误
func (e *Error) Copy() *Error {
	newErr := *e
	if e.Details != nil {
		newErr.Details = make(map[string]string, len(e.Details))
		for k, v := range e.Details {
			newErr.Details[k] = v
		}
	}
	return &newErr
}

// JSON 返回 JSON 格式
func (e *Error) JSON() string {
	data, _ := json.Marshal(e)
	return string(data)
}

// MarshalJSON 实现 json.Marshaler
func (e *Error) MarshalJSON() ([]byte, error) {
	type Alias Error
	return json.Marshal(&struct {
		*Alias
		Error string `json:"error,omitempty"`
	}{
		Alias: (*Alias)(e),
		Error: e.Error(),
	})
}

// New 创建内部错误
func New(code, message string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Category:   CategoryInternal,
		HTTPStatus: http.StatusInternalServerError,
		GRPCCode:   codes.Internal,
	}
}

// NewWithStatus 创建带状态码和类别的错误
func NewWithStatus(code, message string, category Category, httpStatus int, grpcCode codes.Code) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Category:   category,
		Retryable:  category == CategoryLocation || category == CategoryDistance,
		HTTPStatus: httpStatus,
		GRPCCode:   grpcCode,
	}
}

// Wrap 包装错误
func Wrap(err *Error, cause error) *Error {
	newErr := err.Copy()
	newErr.Cause = cause
	newErr.Stack = getStack()
	return newErr
}

// Wrapf 包装错误并追加信息
func Wrapf(err *Error, format string, args ...interface{}) *Error {
	newErr := err.Copy()
	newErr.Message = fmt.Sprintf("%s: %s", err.Message, fmt.Sprintf(format, args...))
	newErr.Stack = getStack()
	return newErr
}

// Verbatim 包装链上错误, 消息保留原文
func Verbatim(err *Error, cause error) *Error {
	newErr := Wrap(err, cause)
	if cause != nil {
		newErr.Message = cause.Error()
	}
	return newErr
}

func getStack() string {
	var pcs [32]uintptr
	n := runtime.Callers(3, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	var builder strings.Builder
	for {
		frame, more := frames.Next()
		fmt.Fprintf(&builder, "%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line)
		if !more {
			break
		}
	}
	return builder.String()
}

// FromError 从标准错误转换
func FromError(err error) *Error {
	if err == nil {
		return nil
	}

	var bizErr *Error
	if errors.As(err, &bizErr) {
		return bizErr
	}

	return Wrap(ErrInternal, err)
}

// 通用错误码
var (
	ErrInternal       = NewWithStatus("INTERNAL_ERROR", "internal error", CategoryInternal, http.StatusInternalServerError, codes.Internal)
	ErrInvalidRequest = NewWithStatus("INVALID_REQUEST", "invalid request", CategoryDomain, http.StatusBadRequest, codes.InvalidArgument)
	ErrNotFound       = NewWithStatus("NOT_FOUND", "resource not found", CategoryDomain, http.StatusNotFound, codes.NotFound)
	ErrTimeout        = NewWithStatus("TIMEOUT", "request timeout", CategoryInternal, http.StatusGatewayTimeout, codes.DeadlineExceeded)
	ErrRateLimited    = NewWithStatus("RATE_LIMIT_EXCEEDED", "too many requests", CategoryDomain, http.StatusTooManyRequests, codes.ResourceExhausted)
)

// 位置相关
var (
	ErrLocationDenied      = NewWithStatus("LOCATION_DENIED", "location access denied, enable location permissions and try again", CategoryLocation, http.StatusBadRequest, codes.PermissionDenied)
	ErrLocationUnavailable = NewWithStatus("LOCATION_UNAVAILABLE", "current location is unavailable", CategoryLocation, http.StatusBadRequest, codes.Unavailable)
	ErrLocationTimeout     = NewWithStatus("LOCATION_TIMEOUT", "timed out acquiring location", CategoryLocation, http.StatusRequestTimeout, codes.DeadlineExceeded)
	ErrTooFarToClaim       = NewWithStatus("TOO_FAR_TO_CLAIM", "too far from the stake to claim it", CategoryDistance, http.StatusUnprocessableEntity, codes.FailedPrecondition)
)

// 质押相关
var (
	ErrStakeNotFound             = NewWithStatus("STAKE_NOT_FOUND", "stake not found", CategoryDomain, http.StatusNotFound, codes.NotFound)
	ErrStakeNotClaimable         = NewWithStatus("STAKE_NOT_CLAIMABLE", "stake is not active", CategoryDomain, http.StatusConflict, codes.FailedPrecondition)
	ErrStakeNotRefundable        = NewWithStatus("STAKE_NOT_REFUNDABLE", "stake has not expired or is already settled", CategoryDomain, http.StatusConflict, codes.FailedPrecondition)
	ErrOwnerCannotClaim          = NewWithStatus("OWNER_CANNOT_CLAIM", "the original staker cannot claim their own stake", CategoryDomain, http.StatusForbidden, codes.PermissionDenied)
	ErrNotStakeOwner             = NewWithStatus("NOT_STAKE_OWNER", "only the original staker can refund", CategoryDomain, http.StatusForbidden, codes.PermissionDenied)
	ErrInsufficientRewardBalance = NewWithStatus("INSUFFICIENT_REWARD_BALANCE", "no rewards available to withdraw", CategoryDomain, http.StatusConflict, codes.FailedPrecondition)
)

// 链上与存储
var (
	ErrChainTxFailed       = NewWithStatus("CHAIN_TX_FAILED", "transaction failed", CategoryChain, http.StatusBadGateway, codes.Aborted)
	ErrGasEstimationFailed = NewWithStatus("GAS_ESTIMATION_FAILED", "gas estimation failed", CategoryChain, http.StatusBadGateway, codes.Unavailable)
	ErrRewardEventMissing  = NewWithStatus("REWARD_EVENT_MISSING", "claim confirmed but reward event could not be decoded", CategoryChain, http.StatusBadGateway, codes.DataLoss)
	ErrStorageUnavailable  = NewWithStatus("STORAGE_UNAVAILABLE", "storage unavailable", CategoryPersistence, http.StatusServiceUnavailable, codes.Unavailable)
)
