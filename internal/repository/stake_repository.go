package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/chandrabosep/AVALOOT/internal/model"
	"github.com/chandrabosep/AVALOOT/pkg/geo"
)

var (
	ErrStakeNotFound       = errors.New("stake not found")
	ErrDuplicateStake      = errors.New("stake already exists")
	ErrStakeAlreadySettled = errors.New("stake already claimed or refunded")
)

// StakeFilter 查询条件, 零值字段不参与过滤
type StakeFilter struct {
	Staker    string
	ClaimedBy string
	Status    *model.StakeStatus
	// Now 毫秒时间戳, 按 active/expired 过滤时必填
	Now int64
	Box *geo.Box
	// RecentSince 毫秒时间戳, 仅保留过期或更新时间晚于该时刻的记录 (活跃及近期变化)
	RecentSince int64
}

// ExpiryCursor 过期扫描位置, 按 (expires_at, stake_id) 排序, 不含该位置本身
// StakeID 为 math.MaxInt64 表示 ExpiresAt 及之前的记录都已扫描
type ExpiryCursor struct {
	ExpiresAt int64
	StakeID   int64
}

// StatusCount 按状态统计
type StatusCount struct {
	Status model.StakeStatus `gorm:"column:status"`
	Count  int64             `gorm:"column:count"`
}

// StakeRepository 质押仓储接口
type StakeRepository interface {
	Create(ctx context.Context, stake *model.Stake) error
	// CreateIfNotExists 按 stake_id 幂等插入, 返回是否新插入
	CreateIfNotExists(ctx context.Context, stake *model.Stake) (bool, error)
	GetByStakeID(ctx context.Context, stakeID int64) (*model.Stake, error)
	GetByTxHash(ctx context.Context, txHash string) (*model.Stake, error)
	List(ctx context.Context, filter *StakeFilter, page *Pagination) ([]*model.Stake, error)
	// MarkClaimed 仅对未结算的记录生效, 否则返回 ErrStakeAlreadySettled
	MarkClaimed(ctx context.Context, stakeID int64, claimer, txHash string, claimerAmount, stakerReward decimal.Decimal, claimedAt int64) error
	// MarkRefunded 仅对未结算的记录生效, 否则返回 ErrStakeAlreadySettled
	MarkRefunded(ctx context.Context, stakeID int64, txHash string, refundedAt int64) error
	CountByStatus(ctx context.Context, now int64) ([]StatusCount, error)
	// ListExpiredAfter 按 (expires_at, stake_id) 排在 after 之后, 过期时间不晚于 to 且未结算的记录
	ListExpiredAfter(ctx context.Context, after ExpiryCursor, to int64, limit int) ([]*model.Stake, error)
	// Transaction 在同一事务中执行 fn, 共享同一连接的仓储随 ctx 加入
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// stakeRepository 质押仓储实现
type stakeRepository struct {
	*Repository
}

// NewStakeRepository 创建质押仓储
func NewStakeRepository(db *gorm.DB) StakeRepository {
	return &stakeRepository{
		Repository: NewRepository(db),
	}
}

// NormalizeAddress 地址统一小写存储
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

func normalizeStake(stake *model.Stake) {
	stake.StakerAddress = NormalizeAddress(stake.StakerAddress)
	stake.TokenAddress = NormalizeAddress(stake.TokenAddress)
	stake.ClaimedBy = NormalizeAddress(stake.ClaimedBy)
	stake.ContractAddress = NormalizeAddress(stake.ContractAddress)
	now := time.Now().UnixMilli()
	if stake.CreatedAt == 0 {
		stake.CreatedAt = now
	}
	stake.UpdatedAt = now
}

func (r *stakeRepository) Create(ctx context.Context, stake *model.Stake) error {
	normalizeStake(stake)
	err := r.DB(ctx).Create(stake).Error
	if isUniqueViolation(err) {
		return ErrDuplicateStake
	}
	return err
}

func (r *stakeRepository) CreateIfNotExists(ctx context.Context, stake *model.Stake) (bool, error) {
	normalizeStake(stake)
	result := r.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "stake_id"}},
		DoNothing: true,
	}).Create(stake)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *stakeRepository) GetByStakeID(ctx context.Context, stakeID int64) (*model.Stake, error) {
	var stake model.Stake
	err := r.DB(ctx).Where("stake_id = ?", stakeID).First(&stake).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrStakeNotFound
	}
	if err != nil {
		return nil, err
	}
	return &stake, nil
}

func (r *stakeRepository) GetByTxHash(ctx context.Context, txHash string) (*model.Stake, error) {
	var stake model.Stake
	err := r.DB(ctx).Where("transaction_hash = ?", strings.ToLower(txHash)).First(&stake).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrStakeNotFound
	}
	if err != nil {
		return nil, err
	}
	return &stake, nil
}

func (r *stakeRepository) List(ctx context.Context, filter *StakeFilter, page *Pagination) ([]*model.Stake, error) {
	db := r.DB(ctx).Model(&model.Stake{})
	if filter != nil {
		db = applyStakeFilter(db, filter)
	}

	if page != nil {
		if err := db.Count(&page.Total).Error; err != nil {
			return nil, err
		}
	}

	var stakes []*model.Stake
	err := paginate(db.Order("created_at DESC"), page).Find(&stakes).Error
	return stakes, err
}

func applyStakeFilter(db *gorm.DB, f *StakeFilter) *gorm.DB {
	if f.Staker != "" {
		db = db.Where("staker_address = ?", NormalizeAddress(f.Staker))
	}
	if f.ClaimedBy != "" {
		db = db.Where("claimed_by = ?", NormalizeAddress(f.ClaimedBy))
	}
	if f.Status != nil {
		switch *f.Status {
		case model.StakeStatusActive:
			db = db.Where("claimed = ? AND refunded = ? AND expires_at > ?", false, false, f.Now)
		case model.StakeStatusExpired:
			db = db.Where("claimed = ? AND refunded = ? AND expires_at <= ?", false, false, f.Now)
		case model.StakeStatusClaimed:
			db = db.Where("claimed = ?", true)
		case model.StakeStatusRefunded:
			db = db.Where("claimed = ? AND refunded = ?", false, true)
		}
	}
	if f.RecentSince > 0 {
		db = db.Where("(expires_at > ? OR updated_at > ?)", f.RecentSince, f.RecentSince)
	}
	if f.Box != nil {
		db = db.Where("latitude BETWEEN ? AND ? AND longitude BETWEEN ? AND ?",
			f.Box.MinLat, f.Box.MaxLat, f.Box.MinLon, f.Box.MaxLon)
	}
	return db
}

func (r *stakeRepository) MarkClaimed(ctx context.Context, stakeID int64, claimer, txHash string, claimerAmount, stakerReward decimal.Decimal, claimedAt int64) error {
	sql := `UPDATE stakes
		   SET claimed = true,
			   claimed_by = ?,
			   claim_tx_hash = ?,
			   claimer_amount = ?,
			   staker_reward = ?,
			   claimed_at = ?,
			   updated_at = ?
		   WHERE stake_id = ? AND claimed = false AND refunded = false`

	result := r.DB(ctx).Exec(sql, NormalizeAddress(claimer), strings.ToLower(txHash),
		claimerAmount, stakerReward, claimedAt, time.Now().UnixMilli(), stakeID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.settledOrMissing(ctx, stakeID)
	}
	return nil
}

func (r *stakeRepository) MarkRefunded(ctx context.Context, stakeID int64, txHash string, refundedAt int64) error {
	sql := `UPDATE stakes
		   SET refunded = true,
			   refund_tx_hash = ?,
			   refunded_at = ?,
			   updated_at = ?
		   WHERE stake_id = ? AND claimed = false AND refunded = false`

	result := r.DB(ctx).Exec(sql, strings.ToLower(txHash), refundedAt, time.Now().UnixMilli(), stakeID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.settledOrMissing(ctx, stakeID)
	}
	return nil
}

func (r *stakeRepository) settledOrMissing(ctx context.Context, stakeID int64) error {
	if _, err := r.GetByStakeID(ctx, stakeID); err != nil {
		return err
	}
	return ErrStakeAlreadySettled
}

func (r *stakeRepository) CountByStatus(ctx context.Context, now int64) ([]StatusCount, error) {
	sql := `SELECT CASE
				WHEN claimed THEN 2
				WHEN refunded THEN 3
				WHEN expires_at <= ? THEN 1
				ELSE 0
			END AS status, COUNT(*) AS count
			FROM stakes
			GROUP BY 1`

	var counts []StatusCount
	err := r.DB(ctx).Raw(sql, now).Scan(&counts).Error
	return counts, err
}

func (r *stakeRepository) ListExpiredAfter(ctx context.Context, after ExpiryCursor, to int64, limit int) ([]*model.Stake, error) {
	var stakes []*model.Stake
	err := r.DB(ctx).
		Where("claimed = ? AND refunded = ? AND expires_at <= ? AND (expires_at > ? OR (expires_at = ? AND stake_id > ?))",
			false, false, to, after.ExpiresAt, after.ExpiresAt, after.StakeID).
		Order("expires_at ASC, stake_id ASC").
		Limit(limit).
		Find(&stakes).Error
	return stakes, err
}
