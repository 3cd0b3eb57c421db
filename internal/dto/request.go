package dto

// CreateStakeRequest 创建质押请求
type CreateStakeRequest struct {
	// Token 为空表示原生 AVAX
	Token         string   `json:"token"`
	Amount        string   `json:"amount" binding:"required"`
	Latitude      *float64 `json:"latitude" binding:"required"`
	Longitude     *float64 `json:"longitude" binding:"required"`
	DurationHours int      `json:"duration_hours" binding:"required"`
}

// ClaimStakeRequest 领取请求
// 不带坐标时使用最近一次 POST /location 上报的定位
type ClaimStakeRequest struct {
	Latitude  *float64 `json:"lat"`
	Longitude *float64 `json:"lon"`
}

// LocationReport 定位上报
type LocationReport struct {
	Latitude  *float64 `json:"lat" binding:"required"`
	Longitude *float64 `json:"lon" binding:"required"`
}

// WithdrawRewardsRequest 提取奖励请求
type WithdrawRewardsRequest struct {
	Token string `json:"token"`
}

// ListStakesQuery 质押列表查询参数
type ListStakesQuery struct {
	Staker    string   `form:"staker"`
	ClaimedBy string   `form:"claimed_by"`
	Status    string   `form:"status"` // active | all
	Address   string   `form:"address"`
	Latitude  *float64 `form:"lat"`
	Longitude *float64 `form:"lon"`
	Page      int      `form:"page"`
	PageSize  int      `form:"page_size"`
}

// NearbyQuery 附近质押查询参数
type NearbyQuery struct {
	Latitude  *float64 `form:"lat" binding:"required"`
	Longitude *float64 `form:"lon" binding:"required"`
	Radius    float64  `form:"radius"`
	Address   string   `form:"address"`
}

// ViewQuery 单个质押查询参数
type ViewQuery struct {
	Address   string   `form:"address"`
	Latitude  *float64 `form:"lat"`
	Longitude *float64 `form:"lon"`
}

// NetworkInfo 网络信息
type NetworkInfo struct {
	Name               string `json:"name"`
	ChainID            int64  `json:"chain_id"`
	NativeSymbol       string `json:"native_symbol"`
	ExplorerURL        string `json:"explorer_url"`
	ContractAddress    string `json:"contract_address"`
	ContractURL        string `json:"contract_url"`
	Signer             string `json:"signer"`
	SignerURL          string `json:"signer_url"`
	StakerRewardBPS    uint64 `json:"staker_reward_bps"`
	RewardBPSEstimated bool   `json:"reward_bps_estimated"`
	ClaimRadiusMeters  int    `json:"claim_radius_meters"`
	// SignerBalance 签名地址原生币余额 (wei), 查询失败时省略
	SignerBalance          string `json:"signer_balance,omitempty"`
	SignerBalanceFormatted string `json:"signer_balance_formatted,omitempty"`
}
