package handler

import (
	"context"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/chandrabosep/AVALOOT/internal/dto"
	"github.com/chandrabosep/AVALOOT/internal/lifecycle"
	"github.com/chandrabosep/AVALOOT/internal/location"
	"github.com/chandrabosep/AVALOOT/internal/repository"
	"github.com/chandrabosep/AVALOOT/internal/service"
	bizerr "github.com/chandrabosep/AVALOOT/pkg/errors"
	"github.com/chandrabosep/AVALOOT/pkg/geo"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// StakeWorkflow 质押写操作
type StakeWorkflow interface {
	CreateStake(ctx context.Context, req *service.CreateStakeRequest) (*service.CreateStakeResult, error)
	ClaimStake(ctx context.Context, stakeID int64, provider location.Provider) (*service.ClaimResult, error)
	RefundStake(ctx context.Context, stakeID int64) (*service.RefundResult, error)
	WithdrawRewards(ctx context.Context, token string) (*service.WithdrawResult, error)
	PreviewClaim(ctx context.Context, stakeID int64) (*lifecycle.RewardSplit, error)
	RewardBPS(ctx context.Context) (uint64, bool)
	Signer() common.Address
}

// StakeQuery 质押查询
type StakeQuery interface {
	GetStake(ctx context.Context, stakeID int64, opts service.ViewOptions) (*service.StakeView, error)
	GetByTxHash(ctx context.Context, txHash string, opts service.ViewOptions) (*service.StakeView, error)
	ListAll(ctx context.Context, opts service.ViewOptions, page *repository.Pagination) ([]*service.StakeView, error)
	ListActive(ctx context.Context, opts service.ViewOptions, page *repository.Pagination) ([]*service.StakeView, error)
	ListByStaker(ctx context.Context, staker string, opts service.ViewOptions, page *repository.Pagination) ([]*service.StakeView, error)
	ListClaimedBy(ctx context.Context, claimer string, opts service.ViewOptions, page *repository.Pagination) ([]*service.StakeView, error)
	ListNearby(ctx context.Context, center geo.Point, radiusMeters float64, opts service.ViewOptions) ([]*service.StakeView, error)
	GetRewards(ctx context.Context, staker string) ([]*service.RewardView, error)
}

// StakeHandler 质押处理器
type StakeHandler struct {
	workflow StakeWorkflow
	query    StakeQuery
	tracker  *location.Tracker
	// position 签名地址最近上报的定位
	position *location.CachedProvider
}

// NewStakeHandler 创建质押处理器
func NewStakeHandler(workflow StakeWorkflow, query StakeQuery, tracker *location.Tracker) *StakeHandler {
	if tracker == nil {
		tracker = location.NewTracker()
	}
	return &StakeHandler{
		workflow: workflow,
		query:    query,
		tracker:  tracker,
		position: location.NewCachedProvider(tracker.Provider(workflow.Signer().Hex())),
	}
}

// ListStakes 质押列表
// GET /api/v1/stakes
// staker / claimed_by 过滤时返回全部状态, 否则 status 默认 active
func (h *StakeHandler) ListStakes(c *gin.Context) {
	var q dto.ListStakesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		BadRequest(c, err.Error())
		return
	}

	opts, err := viewOptions(q.Address, q.Latitude, q.Longitude)
	if err != nil {
		Error(c, err)
		return
	}
	page := newPagination(q.Page, q.PageSize)
	ctx := c.Request.Context()

	var views []*service.StakeView
	switch {
	case q.Staker != "":
		if !common.IsHexAddress(q.Staker) {
			BadRequest(c, "invalid staker address")
			return
		}
		views, err = h.query.ListByStaker(ctx, q.Staker, opts, page)
	case q.ClaimedBy != "":
		if !common.IsHexAddress(q.ClaimedBy) {
			BadRequest(c, "invalid claimer address")
			return
		}
		views, err = h.query.ListClaimedBy(ctx, q.ClaimedBy, opts, page)
	case q.Status == "" || q.Status == "active":
		views, err = h.query.ListActive(ctx, opts, page)
	case q.Status == "all":
		views, err = h.query.ListAll(ctx, opts, page)
	default:
		BadRequest(c, "status must be active or all")
		return
	}
	if err != nil {
		Error(c, err)
		return
	}

	SuccessWithPagination(c, views, page.Total, page.Page, page.PageSize)
}

// ListNearby 附近质押
// GET /api/v1/stakes/nearby?lat=&lon=&radius=
func (h *StakeHandler) ListNearby(c *gin.Context) {
	var q dto.NearbyQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		BadRequest(c, "lat and lon are required")
		return
	}
	if q.Radius < 0 {
		BadRequest(c, "radius must be positive")
		return
	}

	opts, err := viewOptions(q.Address, nil, nil)
	if err != nil {
		Error(c, err)
		return
	}

	views, err := h.query.ListNearby(c.Request.Context(), geo.NewPoint(*q.Latitude, *q.Longitude), q.Radius, opts)
	if err != nil {
		Error(c, err)
		return
	}

	Success(c, views)
}

// GetStake 单个质押及请求者视角的资格
// GET /api/v1/stakes/:id
func (h *StakeHandler) GetStake(c *gin.Context) {
	stakeID, ok := stakeIDParam(c)
	if !ok {
		return
	}

	var q dto.ViewQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		BadRequest(c, err.Error())
		return
	}
	opts, err := viewOptions(q.Address, q.Latitude, q.Longitude)
	if err != nil {
		Error(c, err)
		return
	}

	view, err := h.query.GetStake(c.Request.Context(), stakeID, opts)
	if err != nil {
		Error(c, err)
		return
	}

	Success(c, view)
}

// GetStakeByTx 按创建交易查询
// GET /api/v1/stakes/tx/:hash
func (h *StakeHandler) GetStakeByTx(c *gin.Context) {
	hash := c.Param("hash")
	if len(hash) != 66 || hash[:2] != "0x" {
		BadRequest(c, "invalid transaction hash")
		return
	}

	opts, err := viewOptions(c.Query("address"), nil, nil)
	if err != nil {
		Error(c, err)
		return
	}

	view, err := h.query.GetByTxHash(c.Request.Context(), hash, opts)
	if err != nil {
		Error(c, err)
		return
	}

	Success(c, view)
}

// PreviewClaim 领取金额预览
// GET /api/v1/stakes/:id/preview
func (h *StakeHandler) PreviewClaim(c *gin.Context) {
	stakeID, ok := stakeIDParam(c)
	if !ok {
		return
	}

	split, err := h.workflow.PreviewClaim(c.Request.Context(), stakeID)
	if err != nil {
		Error(c, err)
		return
	}

	Success(c, split)
}

// CreateStake 创建质押
// POST /api/v1/stakes
func (h *StakeHandler) CreateStake(c *gin.Context) {
	var req dto.CreateStakeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	result, err := h.workflow.CreateStake(c.Request.Context(), &service.CreateStakeRequest{
		Token:         req.Token,
		Amount:        req.Amount,
		Latitude:      *req.Latitude,
		Longitude:     *req.Longitude,
		DurationHours: req.DurationHours,
	})
	if err != nil {
		// 交易已确认但落库失败时仍返回结果
		errorWithResult(c, err, result)
		return
	}

	Success(c, result)
}

// ClaimStake 领取质押
// POST /api/v1/stakes/:id/claim
func (h *StakeHandler) ClaimStake(c *gin.Context) {
	stakeID, ok := stakeIDParam(c)
	if !ok {
		return
	}

	var req dto.ClaimStakeRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			BadRequest(c, err.Error())
			return
		}
	}

	var provider location.Provider
	switch {
	case req.Latitude != nil && req.Longitude != nil:
		provider = location.Static(geo.NewPoint(*req.Latitude, *req.Longitude))
	case req.Latitude == nil && req.Longitude == nil:
		provider = h.position
	default:
		BadRequest(c, "lat and lon must be provided together")
		return
	}

	result, err := h.workflow.ClaimStake(c.Request.Context(), stakeID, provider)
	if err != nil {
		errorWithResult(c, err, result)
		return
	}

	Success(c, result)
}

// RefundStake 退回过期质押
// POST /api/v1/stakes/:id/refund
func (h *StakeHandler) RefundStake(c *gin.Context) {
	stakeID, ok := stakeIDParam(c)
	if !ok {
		return
	}

	result, err := h.workflow.RefundStake(c.Request.Context(), stakeID)
	if err != nil {
		errorWithResult(c, err, result)
		return
	}

	Success(c, result)
}

// ReportLocation 上报签名地址的当前定位
// POST /api/v1/location
func (h *StakeHandler) ReportLocation(c *gin.Context) {
	var req dto.LocationReport
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "lat and lon are required")
		return
	}

	signer := h.workflow.Signer().Hex()
	if err := h.tracker.Report(signer, geo.NewPoint(*req.Latitude, *req.Longitude)); err != nil {
		Error(c, bizerr.ErrInvalidRequest.WithMessage(err.Error()))
		return
	}
	h.position.Reset()

	Success(c, gin.H{"address": signer})
}

// GetRewards 质押者奖励余额
// GET /api/v1/rewards/:address
func (h *StakeHandler) GetRewards(c *gin.Context) {
	address := c.Param("address")
	if !common.IsHexAddress(address) {
		BadRequest(c, "invalid address")
		return
	}

	rewards, err := h.query.GetRewards(c.Request.Context(), address)
	if err != nil {
		Error(c, err)
		return
	}

	Success(c, rewards)
}

// WithdrawRewards 提取奖励
// POST /api/v1/rewards/withdraw
func (h *StakeHandler) WithdrawRewards(c *gin.Context) {
	var req dto.WithdrawRewardsRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			BadRequest(c, err.Error())
			return
		}
	}

	result, err := h.workflow.WithdrawRewards(c.Request.Context(), req.Token)
	if err != nil {
		errorWithResult(c, err, result)
		return
	}

	Success(c, result)
}

func stakeIDParam(c *gin.Context) (int64, bool) {
	stakeID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || stakeID < 0 {
		BadRequest(c, "invalid stake id")
		return 0, false
	}
	return stakeID, true
}

func errorWithResult[T any](c *gin.Context, err error, result *T) {
	if result == nil {
		Error(c, err)
		return
	}
	ErrorWithData(c, err, result)
}

func viewOptions(address string, lat, lon *float64) (service.ViewOptions, error) {
	var opts service.ViewOptions
	if address != "" {
		if !common.IsHexAddress(address) {
			return opts, bizerr.ErrInvalidRequest.WithMessage("invalid address")
		}
		opts.Requester = address
	}

	switch {
	case lat != nil && lon != nil:
		p := geo.NewPoint(*lat, *lon)
		if !p.Valid() {
			return opts, bizerr.ErrInvalidRequest.WithMessage("invalid coordinates")
		}
		opts.Position = &p
	case lat != nil || lon != nil:
		return opts, bizerr.ErrInvalidRequest.WithMessage("lat and lon must be provided together")
	}
	return opts, nil
}

func newPagination(page, pageSize int) *repository.Pagination {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return &repository.Pagination{Page: page, PageSize: pageSize}
}
