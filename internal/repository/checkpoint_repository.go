package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/chandrabosep/AVALOOT/internal/model"
)

var ErrCheckpointNotFound = errors.New("checkpoint not found")

// CheckpointRepository 区块检查点仓储接口
type CheckpointRepository interface {
	Get(ctx context.Context, chainID int64, contractAddress string) (*model.BlockCheckpoint, error)
	Upsert(ctx context.Context, checkpoint *model.BlockCheckpoint) error
}

// checkpointRepository 区块检查点仓储实现
type checkpointRepository struct {
	*Repository
}

// NewCheckpointRepository 创建区块检查点仓储
func NewCheckpointRepository(db *gorm.DB) CheckpointRepository {
	return &checkpointRepository{
		Repository: NewRepository(db),
	}
}

func (r *checkpointRepository) Get(ctx context.Context, chainID int64, contractAddress string) (*model.BlockCheckpoint, error) {
	var checkpoint model.BlockCheckpoint
	err := r.DB(ctx).
		Where("chain_id = ? AND contract_address = ?", chainID, NormalizeAddress(contractAddress)).
		First(&checkpoint).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCheckpointNotFound
	}
	if err != nil {
		return nil, err
	}
	return &checkpoint, nil
}

func (r *checkpointRepository) Upsert(ctx context.Context, checkpoint *model.BlockCheckpoint) error {
	now := time.Now().UnixMilli()
	checkpoint.ContractAddress = NormalizeAddress(checkpoint.ContractAddress)
	checkpoint.ProcessedAt = now
	checkpoint.UpdatedAt = now
	if checkpoint.CreatedAt == 0 {
		checkpoint.CreatedAt = now
	}

	return r.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chain_id"}, {Name: "contract_address"}},
		DoUpdates: clause.AssignmentColumns([]string{"block_number", "block_hash", "processed_at", "updated_at"}),
	}).Create(checkpoint).Error
}
