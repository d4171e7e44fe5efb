package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/eidos-exchange/eidos/eidos-campaign/internal/model"
	"gorm.io/gorm"
)

var (
	ErrStakeNotFound = errors.New("stake not found")
	// ErrStakeConflict 并发写入者先创建了同一头寸，整个事务需重试
	ErrStakeConflict = errors.New("stake created concurrently")
)

// StakeRepository 质押仓储接口
type StakeRepository interface {
	Get(ctx context.Context, key model.StakeKey, opts *QueryOptions) (*model.Stake, error)
	// Create 创建新头寸，主键已存在时返回 ErrStakeConflict
	Create(ctx context.Context, stake *model.Stake) error
	// Update 写回余额字段
	Update(ctx context.Context, stake *model.Stake) error
	// ListByOwner 某活动或金库的排行榜，按余额降序
	ListByOwner(ctx context.Context, scope model.StakeScope, owner string, page *Pagination) ([]*model.Stake, error)
	ListBySupporter(ctx context.Context, supporter string, page *Pagination) ([]*model.Stake, error)
}

type stakeRepository struct {
	*Repository
}

// NewStakeRepository 创建质押仓储
func NewStakeRepository(db *gorm.DB) StakeRepository {
	return &stakeRepository{
		Repository: NewRepository(db),
	}
}

func (r *stakeRepository) Get(ctx context.Context, key model.StakeKey, opts *QueryOptions) (*model.Stake, error) {
	var stake model.Stake
	err := opts.ApplyLock(r.DB(ctx)).Where("id = ?", key.String()).First(&stake).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrStakeNotFound
	}
	if err != nil {
		return nil, err
	}
	return &stake, nil
}

func (r *stakeRepository) Create(ctx context.Context, stake *model.Stake) error {
	key := stake.Key()
	if err := key.Validate(); err != nil {
		return err
	}
	stake.ID = key.String()

	inserted, err := insertIgnore(r.DB(ctx), stake)
	if err != nil {
		return err
	}
	if !inserted {
		return fmt.Errorf("%w: %s", ErrStakeConflict, stake.ID)
	}
	return nil
}

func (r *stakeRepository) Update(ctx context.Context, stake *model.Stake) error {
	result := r.DB(ctx).Model(&model.Stake{}).
		Where("id = ?", stake.ID).
		Updates(map[string]interface{}{
			"amount":          stake.Amount,
			"total_deposited": stake.TotalDeposited,
			"underflow":       stake.Underflow,
			"updated_at":      stake.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStakeNotFound
	}
	return nil
}

func (r *stakeRepository) ListByOwner(ctx context.Context, scope model.StakeScope, owner string, page *Pagination) ([]*model.Stake, error) {
	db := r.DB(ctx).Model(&model.Stake{}).
		Where("scope = ? AND campaign_id = ?", scope, owner).
		Order("amount DESC, supporter ASC")

	var stakes []*model.Stake
	err := paginate(db, page, &stakes)
	return stakes, err
}

func (r *stakeRepository) ListBySupporter(ctx context.Context, supporter string, page *Pagination) ([]*model.Stake, error) {
	db := r.DB(ctx).Model(&model.Stake{}).
		Where("supporter = ?", supporter).
		Order("updated_at DESC, id ASC")

	var stakes []*model.Stake
	err := paginate(db, page, &stakes)
	return stakes, err
}
