package model

// BlockCheckpoint 索引器区块检查点
type BlockCheckpoint struct {
	ID              int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	ChainID         int64  `gorm:"column:chain_id;type:bigint;uniqueIndex:uk_chain_contract;not null" json:"chain_id"`
	ContractAddress string `gorm:"column:contract_address;type:varchar(42);uniqueIndex:uk_chain_contract;not null" json:"contract_address"`
	BlockNumber     int64  `gorm:"column:block_number;type:bigint;not null" json:"block_number"`
	BlockHash       string `gorm:"column:block_hash;type:varchar(66);not null" json:"block_hash"`
	ProcessedAt     int64  `gorm:"column:processed_at;type:bigint;not null" json:"processed_at"`
	CreatedAt       int64  `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
	UpdatedAt       int64  `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

// TableName 返回表名
func (BlockCheckpoint) TableName() string {
	return "block_checkpoints"
}
