package repository

import (
	"context"
	"errors"
	"time"

	"github.com/eidos-exchange/eidos/eidos-campaign/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrCursorNotFound = errors.New("sync cursor not found")
	ErrEventNotFound  = errors.New("event not found")
)

// ChainEventRepository 事件流水与同步游标仓储接口
type ChainEventRepository interface {
	// 游标
	GetCursor(ctx context.Context, chainID int64, source string) (*model.SyncCursor, error)
	UpsertCursor(ctx context.Context, cursor *model.SyncCursor) error

	// 链上事件流水
	// RecordEvent 写入流水，同坐标已存在时返回 false
	RecordEvent(ctx context.Context, event *model.ChainEvent) (bool, error)
	MarkOrphan(ctx context.Context, chainID int64, txHash string, logIndex int) error
	CountOrphans(ctx context.Context, chainID int64) (int64, error)
}

type chainEventRepository struct {
	*Repository
}

// NewChainEventRepository 创建事件流水仓储
func NewChainEventRepository(db *gorm.DB) ChainEventRepository {
	return &chainEventRepository{
		Repository: NewRepository(db),
	}
}

func (r *chainEventRepository) GetCursor(ctx context.Context, chainID int64, source string) (*model.SyncCursor, error) {
	var cursor model.SyncCursor
	err := r.DB(ctx).Where("chain_id = ? AND source = ?", chainID, source).First(&cursor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCursorNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cursor, nil
}

func (r *chainEventRepository) UpsertCursor(ctx context.Context, cursor *model.SyncCursor) error {
	now := time.Now().UnixMilli()
	cursor.ProcessedAt = now
	cursor.UpdatedAt = now
	if cursor.CreatedAt == 0 {
		cursor.CreatedAt = now
	}

	return r.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chain_id"}, {Name: "source"}},
		DoUpdates: clause.AssignmentColumns([]string{"block_number", "block_hash", "processed_at", "updated_at"}),
	}).Create(cursor).Error
}

func (r *chainEventRepository) RecordEvent(ctx context.Context, event *model.ChainEvent) (bool, error) {
	if event.CreatedAt == 0 {
		event.CreatedAt = time.Now().UnixMilli()
	}
	return insertIgnore(r.DB(ctx), event)
}

func (r *chainEventRepository) MarkOrphan(ctx context.Context, chainID int64, txHash string, logIndex int) error {
	result := r.DB(ctx).Model(&model.ChainEvent{}).
		Where("chain_id = ? AND tx_hash = ? AND log_index = ?", chainID, txHash, logIndex).
		Update("orphan", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrEventNotFound
	}
	return nil
}

func (r *chainEventRepository) CountOrphans(ctx context.Context, chainID int64) (int64, error) {
	var n int64
	err := r.DB(ctx).Model(&model.ChainEvent{}).
		Where("chain_id = ? AND orphan = ?", chainID, true).
		Count(&n).Error
	return n, err
}
