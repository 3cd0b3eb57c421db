package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chandrabosep/AVALOOT/internal/lifecycle"
	"github.com/chandrabosep/AVALOOT/internal/metrics"
	"github.com/chandrabosep/AVALOOT/internal/model"
	"github.com/chandrabosep/AVALOOT/internal/repository"
	"github.com/chandrabosep/AVALOOT/pkg/logger"
)

var (
	ErrRefresherAlreadyRunning = errors.New("refresher already running")
	ErrRefresherNotRunning     = errors.New("refresher not running")
)

const (
	DefaultStatusInterval = 10 * time.Second
	DefaultFetchInterval  = 20 * time.Second
	MinFetchInterval      = 10 * time.Second
	MaxFetchInterval      = 30 * time.Second
	// DefaultRetention 快照保留过期或结算后 24 小时内的质押
	DefaultRetention = 24 * time.Hour
)

// StakeInvalidator 缓存失效
type StakeInvalidator interface {
	Invalidate(ctx context.Context, stakeID int64) error
}

// Refresher 维护质押快照
// 两个独立节奏: 状态重算只读快照不做 I/O, 数据拉取在签名变化时才替换快照
type Refresher struct {
	repo  repository.StakeRepository
	cache StakeInvalidator

	statusInterval time.Duration
	fetchInterval  time.Duration
	retention      time.Duration

	mu        sync.RWMutex
	stakes    []*model.Stake
	byID      map[int64]*model.Stake
	statuses  map[int64]model.StakeStatus
	signature string
	fetchedAt time.Time

	runMu   sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	onExpired func(ctx context.Context, stake *model.Stake)
	now       func() time.Time
}

// RefresherConfig 配置
type RefresherConfig struct {
	StatusInterval time.Duration
	FetchInterval  time.Duration
	Retention      time.Duration
}

// NewRefresher 创建快照刷新器, fetch 间隔限定在 10-30 秒
func NewRefresher(repo repository.StakeRepository, cache StakeInvalidator, cfg *RefresherConfig) *Refresher {
	statusInterval := cfg.StatusInterval
	if statusInterval <= 0 {
		statusInterval = DefaultStatusInterval
	}

	fetchInterval := cfg.FetchInterval
	switch {
	case fetchInterval == 0:
		fetchInterval = DefaultFetchInterval
	case fetchInterval < MinFetchInterval:
		fetchInterval = MinFetchInterval
	case fetchInterval > MaxFetchInterval:
		fetchInterval = MaxFetchInterval
	}

	retention := cfg.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}

	return &Refresher{
		repo:           repo,
		cache:          cache,
		statusInterval: statusInterval,
		fetchInterval:  fetchInterval,
		retention:      retention,
		byID:           make(map[int64]*model.Stake),
		statuses:       make(map[int64]model.StakeStatus),
		now:            time.Now,
	}
}

// SetOnExpired 设置 Active -> Expired 状态变化回调
func (r *Refresher) SetOnExpired(fn func(ctx context.Context, stake *model.Stake)) {
	r.onExpired = fn
}

// Intervals 返回状态与拉取间隔
func (r *Refresher) Intervals() (status, fetch time.Duration) {
	return r.statusInterval, r.fetchInterval
}

// Start 启动两个刷新循环
func (r *Refresher) Start(ctx context.Context) error {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if r.running {
		return ErrRefresherAlreadyRunning
	}
	r.running = true
	r.stopCh = make(chan struct{})

	if _, err := r.Fetch(ctx); err != nil {
		logger.Warn("initial stake fetch failed", zap.Error(err))
	}

	r.wg.Add(2)
	go r.loop(ctx, r.statusInterval, func(ctx context.Context) { r.RecomputeStatuses(ctx) })
	go r.loop(ctx, r.fetchInterval, func(ctx context.Context) {
		if _, err := r.Fetch(ctx); err != nil {
			logger.Warn("stake fetch failed, keeping previous snapshot", zap.Error(err))
		}
	})

	logger.Info("refresher started",
		zap.Duration("status_interval", r.statusInterval),
		zap.Duration("fetch_interval", r.fetchInterval))
	return nil
}

// Stop 停止刷新
func (r *Refresher) Stop() error {
	r.runMu.Lock()
	if !r.running {
		r.runMu.Unlock()
		return ErrRefresherNotRunning
	}
	close(r.stopCh)
	r.running = false
	r.runMu.Unlock()

	r.wg.Wait()
	logger.Info("refresher stopped")
	return nil
}

func (r *Refresher) loop(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) {
	defer r.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// Fetch 拉取活跃及近期变化的质押, 签名未变化时不替换快照
// 返回快照是否被替换
func (r *Refresher) Fetch(ctx context.Context) (bool, error) {
	filter := &repository.StakeFilter{RecentSince: r.now().Add(-r.retention).UnixMilli()}
	stakes, err := r.repo.List(ctx, filter, nil)
	if err != nil {
		metrics.RefreshTotal.WithLabelValues("failed").Inc()
		return false, err
	}

	sig := Signature(stakes)

	r.mu.Lock()
	if sig == r.signature {
		r.fetchedAt = r.now()
		r.mu.Unlock()
		metrics.RefreshTotal.WithLabelValues("unchanged").Inc()
		return false, nil
	}

	changed := changedStakeIDs(r.byID, stakes)
	byID := make(map[int64]*model.Stake, len(stakes))
	for _, s := range stakes {
		byID[s.StakeID] = s
	}
	r.stakes = stakes
	r.byID = byID
	r.signature = sig
	r.fetchedAt = r.now()
	r.mu.Unlock()

	metrics.RefreshTotal.WithLabelValues("changed").Inc()

	if r.cache != nil {
		for _, id := range changed {
			if err := r.cache.Invalidate(ctx, id); err != nil {
				logger.Warn("failed to invalidate stake cache", zap.Int64("stake_id", id), zap.Error(err))
			}
		}
	}

	r.RecomputeStatuses(ctx)
	logger.Debug("stake snapshot replaced",
		zap.Int("stakes", len(stakes)),
		zap.Int("changed", len(changed)))
	return true, nil
}

// RecomputeStatuses 仅根据快照和当前时间重算状态, 不做 I/O
// 返回本轮由 Active 变为 Expired 的质押
func (r *Refresher) RecomputeStatuses(ctx context.Context) []*model.Stake {
	now := r.now()

	r.mu.Lock()
	var expired []*model.Stake
	counts := map[string]int64{
		model.StakeStatusActive.String():   0,
		model.StakeStatusExpired.String():  0,
		model.StakeStatusClaimed.String():  0,
		model.StakeStatusRefunded.String(): 0,
	}
	statuses := make(map[int64]model.StakeStatus, len(r.stakes))
	for _, s := range r.stakes {
		status := lifecycle.Classify(s, now)
		if prev, ok := r.statuses[s.StakeID]; ok && prev == model.StakeStatusActive && status == model.StakeStatusExpired {
			expired = append(expired, s)
		}
		statuses[s.StakeID] = status
		counts[status.String()]++
	}
	r.statuses = statuses
	r.mu.Unlock()

	metrics.UpdateStakeCounts(counts)

	if r.onExpired != nil {
		for _, s := range expired {
			r.onExpired(ctx, s)
		}
	}
	return expired
}

// Snapshot 当前快照副本
func (r *Refresher) Snapshot() []*model.Stake {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.Stake, len(r.stakes))
	copy(out, r.stakes)
	return out
}

// Lookup 从快照中查找
func (r *Refresher) Lookup(stakeID int64) (*model.Stake, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[stakeID]
	return s, ok
}

// Status 快照中记录的状态
func (r *Refresher) Status(stakeID int64) (model.StakeStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.statuses[stakeID]
	return s, ok
}

// FetchedAt 最近一次成功拉取时间
func (r *Refresher) FetchedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fetchedAt
}

// Signature 快照签名: 按 stake id 排序后对 "stakeId:claimed:refunded:expiresAt" 做 sha256
func Signature(stakes []*model.Stake) string {
	parts := make([]string, 0, len(stakes))
	for _, s := range stakes {
		parts = append(parts, signatureEntry(s))
	}
	sort.Strings(parts)

	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{'|'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func signatureEntry(s *model.Stake) string {
	return fmt.Sprintf("%d:%t:%t:%d", s.StakeID, s.Claimed, s.Refunded, s.ExpiresAt)
}

// changedStakeIDs 新旧快照中签名项不同的 stake id
func changedStakeIDs(prev map[int64]*model.Stake, next []*model.Stake) []int64 {
	var changed []int64
	for _, s := range next {
		old, ok := prev[s.StakeID]
		if !ok || signatureEntry(old) != signatureEntry(s) {
			changed = append(changed, s.StakeID)
		}
	}
	return changed
}

// matchFilter 快照的内存过滤, 与仓储查询条件保持一致
func matchFilter(s *model.Stake, f *repository.StakeFilter, now time.Time) bool {
	if f == nil {
		return true
	}
	if f.Staker != "" && !strings.EqualFold(s.StakerAddress, f.Staker) {
		return false
	}
	if f.ClaimedBy != "" && !strings.EqualFold(s.ClaimedBy, f.ClaimedBy) {
		return false
	}
	if f.Status != nil && lifecycle.Classify(s, now) != *f.Status {
		return false
	}
	if f.Box != nil && !f.Box.Contains(s.Point()) {
		return false
	}
	if f.RecentSince > 0 && s.ExpiresAt <= f.RecentSince && s.UpdatedAt <= f.RecentSince {
		return false
	}
	return true
}
