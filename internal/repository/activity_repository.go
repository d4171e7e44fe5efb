package repository

import (
	"context"

	"github.com/eidos-exchange/eidos/eidos-campaign/internal/model"
	"gorm.io/gorm"
)

// ActivityFilter 动态列表过滤条件
type ActivityFilter struct {
	Scope     model.StakeScope
	Owner     string
	Supporter string
	Type      model.ActivityType
	TimeRange *TimeRange
}

// ActivityRepository 动态流水仓储接口
type ActivityRepository interface {
	// Create 追加动态，键已存在时不写入，返回是否新建
	Create(ctx context.Context, activity *model.Activity) (bool, error)
	List(ctx context.Context, filter *ActivityFilter, page *Pagination) ([]*model.Activity, error)
}

type activityRepository struct {
	*Repository
}

// NewActivityRepository 创建动态仓储
func NewActivityRepository(db *gorm.DB) ActivityRepository {
	return &activityRepository{
		Repository: NewRepository(db),
	}
}

func (r *activityRepository) Create(ctx context.Context, activity *model.Activity) (bool, error) {
	activity.ID = model.ActivityKey{TxHash: activity.TxHash, LogIndex: activity.LogIndex}.String()
	return insertIgnore(r.DB(ctx), activity)
}

func (r *activityRepository) List(ctx context.Context, filter *ActivityFilter, page *Pagination) ([]*model.Activity, error) {
	db := r.DB(ctx).Model(&model.Activity{})
	if filter != nil {
		if filter.Scope != "" {
			db = db.Where("scope = ?", filter.Scope)
		}
		if filter.Owner != "" {
			db = db.Where("campaign_id = ?", filter.Owner)
		}
		if filter.Supporter != "" {
			db = db.Where("supporter = ?", filter.Supporter)
		}
		if filter.Type != "" {
			db = db.Where("type = ?", filter.Type)
		}
		if filter.TimeRange.IsValid() {
			db = db.Where("timestamp >= ? AND timestamp <= ?", filter.TimeRange.Start, filter.TimeRange.End)
		}
	}

	var activities []*model.Activity
	err := paginate(db.Order("timestamp DESC, block_number DESC, log_index DESC"), page, &activities)
	return activities, err
}
