package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/chandrabosep/AVALOOT/internal/dto"
	"github.com/chandrabosep/AVALOOT/internal/lifecycle"
	"github.com/chandrabosep/AVALOOT/internal/location"
	"github.com/chandrabosep/AVALOOT/internal/model"
	"github.com/chandrabosep/AVALOOT/internal/repository"
	"github.com/chandrabosep/AVALOOT/internal/service"
	bizerr "github.com/chandrabosep/AVALOOT/pkg/errors"
	"github.com/chandrabosep/AVALOOT/pkg/geo"
)

var (
	testSigner = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testStaker = common.HexToAddress("0x2222222222222222222222222222222222222222")
	testTxHash = "0x" + "ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12"
)

func setupStakeRouter() (*gin.Engine, *MockStakeWorkflow, *MockStakeQuery) {
	wf := &MockStakeWorkflow{signer: testSigner}
	q := new(MockStakeQuery)
	h := NewStakeHandler(wf, q, nil)

	r := gin.New()
	v1 := r.Group("/api/v1")
	v1.GET("/stakes", h.ListStakes)
	v1.GET("/stakes/nearby", h.ListNearby)
	v1.GET("/stakes/tx/:hash", h.GetStakeByTx)
	v1.GET("/stakes/:id", h.GetStake)
	v1.GET("/stakes/:id/preview", h.PreviewClaim)
	v1.POST("/stakes", h.CreateStake)
	v1.POST("/stakes/:id/claim", h.ClaimStake)
	v1.POST("/stakes/:id/refund", h.RefundStake)
	v1.POST("/location", h.ReportLocation)
	v1.GET("/rewards/:address", h.GetRewards)
	v1.POST("/rewards/withdraw", h.WithdrawRewards)
	return r, wf, q
}

func doRequest(t *testing.T, r *gin.Engine, method, path string, body interface{}) (*httptest.ResponseRecorder, *dto.Response) {
	t.Helper()
	var req *http.Request
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		req = httptest.NewRequest(method, path, bytes.NewReader(data))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, &resp
}

func testView(stakeID int64) *service.StakeView {
	return &service.StakeView{
		Stake: &model.Stake{
			StakeID:       stakeID,
			StakerAddress: testStaker.Hex(),
			TokenSymbol:   "AVAX",
			Amount:        decimal.RequireFromString("1000000000000000000"),
			Latitude:      43.6532,
			Longitude:     -79.3832,
		},
		AmountFormatted: "1",
	}
}

func withTotal(total int64) func(mock.Arguments) {
	return func(args mock.Arguments) {
		args.Get(len(args) - 1).(*repository.Pagination).Total = total
	}
}

func float(v float64) *float64 { return &v }

func TestStakeHandler_ListStakes_DefaultsToActive(t *testing.T) {
	r, _, q := setupStakeRouter()
	q.On("ListActive", mock.Anything, service.ViewOptions{}, &repository.Pagination{Page: 1, PageSize: 20}).
		Return([]*service.StakeView{testView(1), testView(2)}, nil).
		Run(withTotal(42))

	w, resp := doRequest(t, r, http.MethodGet, "/api/v1/stakes", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, dto.CodeSuccess, resp.Code)
	data := resp.Data.(map[string]interface{})
	assert.Len(t, data["items"], 2)
	pagination := data["pagination"].(map[string]interface{})
	assert.Equal(t, float64(42), pagination["total"])
	assert.Equal(t, float64(3), pagination["total_pages"])
	q.AssertExpectations(t)
}

func TestStakeHandler_ListStakes_Filters(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		method string
		arg    interface{}
	}{
		{"all", "?status=all", "ListAll", nil},
		{"by staker", "?staker=" + testStaker.Hex(), "ListByStaker", testStaker.Hex()},
		{"claimed by", "?claimed_by=" + testSigner.Hex(), "ListClaimedBy", testSigner.Hex()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _, q := setupStakeRouter()
			if tt.arg == nil {
				q.On(tt.method, mock.Anything, mock.Anything, mock.Anything).Return([]*service.StakeView{}, nil)
			} else {
				q.On(tt.method, mock.Anything, tt.arg, mock.Anything, mock.Anything).Return([]*service.StakeView{}, nil)
			}

			w, _ := doRequest(t, r, http.MethodGet, "/api/v1/stakes"+tt.query, nil)
			assert.Equal(t, http.StatusOK, w.Code)
			q.AssertExpectations(t)
		})
	}
}

func TestStakeHandler_ListStakes_RequesterView(t *testing.T) {
	r, _, q := setupStakeRouter()
	pos := geo.NewPoint(43.6532, -79.3832)
	q.On("ListActive", mock.Anything, service.ViewOptions{Requester: testSigner.Hex(), Position: &pos}, &repository.Pagination{Page: 2, PageSize: 100}).
		Return([]*service.StakeView{}, nil)

	w, _ := doRequest(t, r, http.MethodGet,
		"/api/v1/stakes?address="+testSigner.Hex()+"&lat=43.6532&lon=-79.3832&page=2&page_size=500", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	q.AssertExpectations(t)
}

func TestStakeHandler_ListStakes_BadRequest(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{"unknown status", "?status=pending"},
		{"invalid staker", "?staker=bob"},
		{"invalid requester", "?address=0x123"},
		{"partial position", "?lat=43.6"},
		{"invalid position", "?lat=95&lon=0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _, q := setupStakeRouter()

			w, resp := doRequest(t, r, http.MethodGet, "/api/v1/stakes"+tt.query, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, bizerr.ErrInvalidRequest.Code, resp.Code)
			q.AssertNotCalled(t, "ListActive", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestStakeHandler_ListStakes_StorageDown(t *testing.T) {
	r, _, q := setupStakeRouter()
	q.On("ListActive", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, bizerr.Wrap(bizerr.ErrStorageUnavailable, errors.New("connection refused")))

	w, resp := doRequest(t, r, http.MethodGet, "/api/v1/stakes", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, bizerr.ErrStorageUnavailable.Code, resp.Code)
}

func TestStakeHandler_ListNearby(t *testing.T) {
	r, _, q := setupStakeRouter()
	q.On("ListNearby", mock.Anything, geo.NewPoint(43.65, -79.38), 500.0, service.ViewOptions{}).
		Return([]*service.StakeView{testView(3)}, nil)

	w, resp := doRequest(t, r, http.MethodGet, "/api/v1/stakes/nearby?lat=43.65&lon=-79.38&radius=500", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, resp.Data, 1)
	q.AssertExpectations(t)
}

func TestStakeHandler_ListNearby_MissingCenter(t *testing.T) {
	r, _, _ := setupStakeRouter()

	w, _ := doRequest(t, r, http.MethodGet, "/api/v1/stakes/nearby?lat=43.65", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = doRequest(t, r, http.MethodGet, "/api/v1/stakes/nearby?lat=43.65&lon=-79.38&radius=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStakeHandler_GetStake(t *testing.T) {
	r, _, q := setupStakeRouter()
	view := testView(7)
	view.Eligibility = lifecycle.Eligibility{Status: model.StakeStatusActive, CanClaim: true}
	q.On("GetStake", mock.Anything, int64(7), service.ViewOptions{Requester: testSigner.Hex()}).Return(view, nil)

	w, resp := doRequest(t, r, http.MethodGet, "/api/v1/stakes/7?address="+testSigner.Hex(), nil)

	require.Equal(t, http.StatusOK, w.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, float64(7), data["stake_id"])
	eligibility := data["eligibility"].(map[string]interface{})
	assert.Equal(t, true, eligibility["can_claim"])
}

func TestStakeHandler_GetStake_Errors(t *testing.T) {
	r, _, q := setupStakeRouter()
	q.On("GetStake", mock.Anything, int64(404), mock.Anything).Return(nil, bizerr.ErrStakeNotFound)

	w, resp := doRequest(t, r, http.MethodGet, "/api/v1/stakes/404", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, bizerr.ErrStakeNotFound.Code, resp.Code)

	w, _ = doRequest(t, r, http.MethodGet, "/api/v1/stakes/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStakeHandler_GetStakeByTx(t *testing.T) {
	r, _, q := setupStakeRouter()
	q.On("GetByTxHash", mock.Anything, testTxHash, service.ViewOptions{}).Return(testView(9), nil)

	w, _ := doRequest(t, r, http.MethodGet, "/api/v1/stakes/tx/"+testTxHash, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = doRequest(t, r, http.MethodGet, "/api/v1/stakes/tx/0x1234", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	q.AssertNumberOfCalls(t, "GetByTxHash", 1)
}

func TestStakeHandler_PreviewClaim(t *testing.T) {
	r, wf, _ := setupStakeRouter()
	wf.On("PreviewClaim", mock.Anything, int64(7)).Return(&lifecycle.RewardSplit{
		Total:         big.NewInt(1000),
		ClaimerAmount: big.NewInt(950),
		StakerReward:  big.NewInt(50),
		BPS:           500,
		Estimated:     true,
	}, nil)

	w, resp := doRequest(t, r, http.MethodGet, "/api/v1/stakes/7/preview", nil)

	require.Equal(t, http.StatusOK, w.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, float64(950), data["claimer_amount"])
	assert.Equal(t, true, data["estimated"])
}

func TestStakeHandler_CreateStake(t *testing.T) {
	r, wf, _ := setupStakeRouter()
	wf.On("CreateStake", mock.Anything, &service.CreateStakeRequest{
		Amount:        "0.5",
		Latitude:      43.6532,
		Longitude:     -79.3832,
		DurationHours: 24,
	}).Return(&service.CreateStakeResult{
		Stake:  testView(11).Stake,
		TxHash: testTxHash,
	}, nil)

	w, resp := doRequest(t, r, http.MethodPost, "/api/v1/stakes", map[string]interface{}{
		"amount":         "0.5",
		"latitude":       43.6532,
		"longitude":      -79.3832,
		"duration_hours": 24,
	})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, testTxHash, resp.Data.(map[string]interface{})["tx_hash"])
	wf.AssertExpectations(t)
}

func TestStakeHandler_CreateStake_Validation(t *testing.T) {
	r, wf, _ := setupStakeRouter()

	w, _ := doRequest(t, r, http.MethodPost, "/api/v1/stakes", map[string]interface{}{
		"amount":         "1",
		"duration_hours": 24,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	wf.AssertNotCalled(t, "CreateStake", mock.Anything, mock.Anything)
}

func TestStakeHandler_CreateStake_ChainFailure(t *testing.T) {
	r, wf, _ := setupStakeRouter()
	revert := errors.New("execution reverted: insufficient funds for gas")
	wf.On("CreateStake", mock.Anything, mock.Anything).
		Return(nil, bizerr.Verbatim(bizerr.ErrChainTxFailed, revert).WithDetail("tx_hash", testTxHash))

	w, resp := doRequest(t, r, http.MethodPost, "/api/v1/stakes", map[string]interface{}{
		"amount":         "1",
		"latitude":       0.0,
		"longitude":      0.0,
		"duration_hours": 1,
	})

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, bizerr.ErrChainTxFailed.Code, resp.Code)
	assert.Equal(t, revert.Error(), resp.Message)
	assert.Equal(t, testTxHash, resp.Details["tx_hash"])
	assert.Nil(t, resp.Data)
}

func TestStakeHandler_ClaimStake_WithCoordinates(t *testing.T) {
	r, wf, _ := setupStakeRouter()
	want := geo.NewPoint(43.6533, -79.3832)
	wf.On("ClaimStake", mock.Anything, int64(5), mock.MatchedBy(func(p location.Provider) bool {
		got, err := p.CurrentPosition(context.Background(), location.DefaultOptions())
		return err == nil && got == want
	})).Return(&service.ClaimResult{
		StakeID:        5,
		TxHash:         testTxHash,
		ClaimerAmount:  big.NewInt(950),
		StakerReward:   big.NewInt(50),
		DistanceMeters: 11.1,
	}, nil)

	w, resp := doRequest(t, r, http.MethodPost, "/api/v1/stakes/5/claim", map[string]float64{
		"lat": 43.6533,
		"lon": -79.3832,
	})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(950), resp.Data.(map[string]interface{})["claimer_amount"])
	wf.AssertExpectations(t)
}

func TestStakeHandler_ClaimStake_UsesReportedLocation(t *testing.T) {
	r, wf, _ := setupStakeRouter()
	want := geo.NewPoint(43.6533, -79.3832)

	w, resp := doRequest(t, r, http.MethodPost, "/api/v1/location", map[string]float64{
		"lat": want.Latitude,
		"lon": want.Longitude,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, testSigner.Hex(), resp.Data.(map[string]interface{})["address"])

	wf.On("ClaimStake", mock.Anything, int64(5), mock.MatchedBy(func(p location.Provider) bool {
		got, err := p.CurrentPosition(context.Background(), location.DefaultOptions())
		return err == nil && got == want
	})).Return(&service.ClaimResult{StakeID: 5, TxHash: testTxHash}, nil)

	w, _ = doRequest(t, r, http.MethodPost, "/api/v1/stakes/5/claim", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	wf.AssertExpectations(t)
}

func TestStakeHandler_ClaimStake_NewReportReplacesCachedFix(t *testing.T) {
	r, wf, _ := setupStakeRouter()
	first := geo.NewPoint(43.6533, -79.3832)
	second := geo.NewPoint(43.7000, -79.4000)

	var seen []geo.Point
	wf.On("ClaimStake", mock.Anything, int64(5), mock.MatchedBy(func(p location.Provider) bool {
		got, err := p.CurrentPosition(context.Background(), location.DefaultOptions())
		if err != nil {
			return false
		}
		seen = append(seen, got)
		return true
	})).Return(&service.ClaimResult{StakeID: 5, TxHash: testTxHash}, nil)

	for _, p := range []geo.Point{first, second} {
		w, _ := doRequest(t, r, http.MethodPost, "/api/v1/location", map[string]float64{
			"lat": p.Latitude,
			"lon": p.Longitude,
		})
		require.Equal(t, http.StatusOK, w.Code)

		w, _ = doRequest(t, r, http.MethodPost, "/api/v1/stakes/5/claim", nil)
		require.Equal(t, http.StatusOK, w.Code)
	}

	require.NotEmpty(t, seen)
	assert.Equal(t, first, seen[0])
	assert.Equal(t, second, seen[len(seen)-1])
}

func TestStakeHandler_ClaimStake_NoLocation(t *testing.T) {
	r, wf, _ := setupStakeRouter()
	wf.On("ClaimStake", mock.Anything, int64(5), mock.MatchedBy(func(p location.Provider) bool {
		_, err := p.CurrentPosition(context.Background(), location.DefaultOptions())
		return errors.Is(err, location.ErrLocationUnavailable)
	})).Return(nil, bizerr.ErrLocationUnavailable)

	w, resp := doRequest(t, r, http.MethodPost, "/api/v1/stakes/5/claim", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, bizerr.ErrLocationUnavailable.Code, resp.Code)
}

func TestStakeHandler_ClaimStake_TooFar(t *testing.T) {
	r, wf, _ := setupStakeRouter()
	wf.On("ClaimStake", mock.Anything, int64(5), mock.Anything).
		Return(nil, bizerr.ErrTooFarToClaim.WithDetail("distance_meters", "311.4"))

	w, resp := doRequest(t, r, http.MethodPost, "/api/v1/stakes/5/claim", map[string]float64{"lat": 43.656, "lon": -79.3832})

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, bizerr.ErrTooFarToClaim.Code, resp.Code)
	assert.Equal(t, "311.4", resp.Details["distance_meters"])
}

func TestStakeHandler_ClaimStake_PartialCoordinates(t *testing.T) {
	r, wf, _ := setupStakeRouter()

	w, _ := doRequest(t, r, http.MethodPost, "/api/v1/stakes/5/claim", map[string]float64{"lat": 43.656})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	wf.AssertNotCalled(t, "ClaimStake", mock.Anything, mock.Anything, mock.Anything)
}

func TestStakeHandler_ClaimStake_EventMissingKeepsTxHash(t *testing.T) {
	r, wf, _ := setupStakeRouter()
	wf.On("ClaimStake", mock.Anything, int64(5), mock.Anything).
		Return(&service.ClaimResult{StakeID: 5, TxHash: testTxHash},
			bizerr.Wrap(bizerr.ErrRewardEventMissing, errors.New("event not found")).WithDetail("tx_hash", testTxHash))

	w, resp := doRequest(t, r, http.MethodPost, "/api/v1/stakes/5/claim", map[string]float64{"lat": 43.6533, "lon": -79.3832})

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, bizerr.ErrRewardEventMissing.Code, resp.Code)
	require.NotNil(t, resp.Data)
	assert.Equal(t, testTxHash, resp.Data.(map[string]interface{})["tx_hash"])
}

func TestStakeHandler_RefundStake(t *testing.T) {
	r, wf, _ := setupStakeRouter()
	wf.On("RefundStake", mock.Anything, int64(8)).Return(&service.RefundResult{
		StakeID: 8,
		TxHash:  testTxHash,
		Amount:  big.NewInt(1000),
	}, nil)
	wf.On("RefundStake", mock.Anything, int64(9)).Return(nil, bizerr.ErrNotStakeOwner)

	w, _ := doRequest(t, r, http.MethodPost, "/api/v1/stakes/8/refund", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, resp := doRequest(t, r, http.MethodPost, "/api/v1/stakes/9/refund", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, bizerr.ErrNotStakeOwner.Code, resp.Code)
}

func TestStakeHandler_ReportLocation_Invalid(t *testing.T) {
	r, _, _ := setupStakeRouter()

	w, _ := doRequest(t, r, http.MethodPost, "/api/v1/location", map[string]float64{"lat": 43.6})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = doRequest(t, r, http.MethodPost, "/api/v1/location", map[string]float64{"lat": 120, "lon": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStakeHandler_GetRewards(t *testing.T) {
	r, _, q := setupStakeRouter()
	q.On("GetRewards", mock.Anything, testStaker.Hex()).Return([]*service.RewardView{
		{
			StakerReward:       &model.StakerReward{StakerAddress: testStaker.Hex(), TokenSymbol: "AVAX"},
			Decimals:           18,
			AvailableFormatted: "0.05",
		},
	}, nil)

	w, resp := doRequest(t, r, http.MethodGet, "/api/v1/rewards/"+testStaker.Hex(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, resp.Data, 1)

	w, _ = doRequest(t, r, http.MethodGet, "/api/v1/rewards/nobody", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStakeHandler_WithdrawRewards(t *testing.T) {
	r, wf, _ := setupStakeRouter()
	wf.On("WithdrawRewards", mock.Anything, "").Return(nil, bizerr.ErrInsufficientRewardBalance)
	wf.On("WithdrawRewards", mock.Anything, "0x5425890298aed601595a70AB815c96711a31Bc65").Return(&service.WithdrawResult{
		Token:  "0x5425890298aed601595a70AB815c96711a31Bc65",
		TxHash: testTxHash,
		Amount: big.NewInt(1_500_000),
	}, nil)

	w, resp := doRequest(t, r, http.MethodPost, "/api/v1/rewards/withdraw", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, bizerr.ErrInsufficientRewardBalance.Code, resp.Code)

	w, _ = doRequest(t, r, http.MethodPost, "/api/v1/rewards/withdraw", map[string]string{
		"token": "0x5425890298aed601595a70AB815c96711a31Bc65",
	})
	assert.Equal(t, http.StatusOK, w.Code)
	wf.AssertExpectations(t)
}

func TestError_UnknownErrorIsInternal(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	Error(c, errors.New("boom"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, bizerr.ErrInternal.Code, resp.Code)
}
