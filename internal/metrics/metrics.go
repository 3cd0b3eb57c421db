// Package metrics 提供 avaloot 服务的 Prometheus 监控指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "avaloot"

// 质押指标
var (
	// StakeOperationsTotal 质押操作总数
	StakeOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stake_operations_total",
			Help:      "质押操作总数",
		},
		[]string{"operation", "result"}, // operation: create/claim/refund/withdraw
	)

	// StakesByStatus 各状态质押数量
	StakesByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stakes",
			Help:      "各状态质押数量",
		},
		[]string{"status"},
	)

	// ClaimDistanceMeters 领取时与质押点的距离
	ClaimDistanceMeters = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "claim_distance_meters",
			Help:      "领取请求与质押点的距离(米)",
			Buckets:   []float64{5, 10, 25, 50, 75, 100, 150, 250, 500, 1000},
		},
	)

	// StakeExpirationsTotal 检测到的过期转换
	StakeExpirationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stake_expirations_total",
			Help:      "检测到的质押过期次数",
		},
	)

	// RewardBPSGauge 合约 staker 奖励比例
	RewardBPSGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "staker_reward_bps",
			Help:      "合约 staker 奖励比例(基点)",
		},
	)
)

// 区块链交互指标
var (
	// BlockchainTxTotal 链上交易总数
	BlockchainTxTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blockchain_tx_total",
			Help:      "链上交易总数",
		},
		[]string{"type", "status"},
	)

	// BlockchainTxDuration 链上交易耗时
	BlockchainTxDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "blockchain_tx_duration_seconds",
			Help:      "链上交易确认耗时(秒)",
			Buckets:   []float64{1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"type"},
	)

	// BlockchainGasUsed Gas 使用量
	BlockchainGasUsed = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "blockchain_gas_used",
			Help:      "链上交易 Gas 使用量",
			Buckets:   prometheus.ExponentialBuckets(21000, 2, 6),
		},
		[]string{"type"},
	)
)

// 索引器指标
var (
	// IndexerLastBlock 已索引的最新区块
	IndexerLastBlock = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "indexer_last_block",
			Help:      "已索引的最新区块号",
		},
	)

	// IndexerLag 索引延迟区块数
	IndexerLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "indexer_lag_blocks",
			Help:      "索引器落后链头的区块数",
		},
	)

	// IndexerEventsTotal 处理的链上事件
	IndexerEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "indexer_events_total",
			Help:      "索引器处理的链上事件数",
		},
		[]string{"event"},
	)
)

// 刷新器与任务指标
var (
	// RefreshTotal 刷新次数
	RefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_total",
			Help:      "刷新器拉取次数",
		},
		[]string{"result"}, // changed, unchanged, error
	)

	// JobRunsTotal 定时任务执行次数
	JobRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "定时任务执行次数",
		},
		[]string{"job", "result"},
	)

	// HTTPRequestsTotal HTTP 请求数
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP 请求数",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPPanicsTotal handler panic 次数
	HTTPPanicsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_panics_total",
			Help:      "handler panic 次数",
		},
		[]string{"path"},
	)

	// RateLimitRejectedTotal 被限流拒绝的请求
	RateLimitRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_rejected_total",
			Help:      "被限流拒绝的请求数",
		},
		[]string{"path"},
	)

	// HTTPRequestDuration HTTP 请求耗时
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP 请求耗时(秒)",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// RecordStakeOperation 记录质押操作结果
func RecordStakeOperation(operation string, err error) {
	result := "success"
	if err != nil {
		result = "failed"
	}
	StakeOperationsTotal.WithLabelValues(operation, result).Inc()
}

// RecordBlockchainTx 记录链上交易
func RecordBlockchainTx(txType, status string, durationSeconds float64, gasUsed uint64) {
	BlockchainTxTotal.WithLabelValues(txType, status).Inc()
	BlockchainTxDuration.WithLabelValues(txType).Observe(durationSeconds)
	if gasUsed > 0 {
		BlockchainGasUsed.WithLabelValues(txType).Observe(float64(gasUsed))
	}
}

// RecordBlockIndexed 记录索引进度
func RecordBlockIndexed(blockNumber uint64, chainHead uint64) {
	IndexerLastBlock.Set(float64(blockNumber))
	if chainHead > blockNumber {
		IndexerLag.Set(float64(chainHead - blockNumber))
	} else {
		IndexerLag.Set(0)
	}
}

// RecordIndexedEvent 记录链上事件
func RecordIndexedEvent(event string) {
	IndexerEventsTotal.WithLabelValues(event).Inc()
}

// RecordJobRun 记录任务执行
func RecordJobRun(job string, err error) {
	result := "success"
	if err != nil {
		result = "failed"
	}
	JobRunsTotal.WithLabelValues(job, result).Inc()
}

// UpdateStakeCounts 更新各状态数量
func UpdateStakeCounts(counts map[string]int64) {
	for status, n := range counts {
		StakesByStatus.WithLabelValues(status).Set(float64(n))
	}
}

// RecordHTTPRequest 记录 HTTP 请求
func RecordHTTPRequest(method, path, status string, durationSeconds float64) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(durationSeconds)
}
