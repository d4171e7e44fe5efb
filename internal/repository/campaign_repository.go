package repository

import (
	"context"
	"errors"

	"github.com/eidos-exchange/eidos/eidos-campaign/internal/model"
	"gorm.io/gorm"
)

var ErrCampaignNotFound = errors.New("campaign not found")

// CampaignFilter 活动列表过滤条件
type CampaignFilter struct {
	Proposer string
	Status   *model.CampaignStatus
}

// CampaignRepository 活动仓储接口
type CampaignRepository interface {
	// Create 插入活动，ID 已存在时不覆盖，返回是否新建
	Create(ctx context.Context, campaign *model.Campaign) (bool, error)
	GetByID(ctx context.Context, id string, opts *QueryOptions) (*model.Campaign, error)
	Update(ctx context.Context, campaign *model.Campaign) error
	List(ctx context.Context, filter *CampaignFilter, page *Pagination) ([]*model.Campaign, error)
}

type campaignRepository struct {
	*Repository
}

// NewCampaignRepository 创建活动仓储
func NewCampaignRepository(db *gorm.DB) CampaignRepository {
	return &campaignRepository{
		Repository: NewRepository(db),
	}
}

func (r *campaignRepository) Create(ctx context.Context, campaign *model.Campaign) (bool, error) {
	return insertIgnore(r.DB(ctx), campaign)
}

func (r *campaignRepository) GetByID(ctx context.Context, id string, opts *QueryOptions) (*model.Campaign, error) {
	var campaign model.Campaign
	err := opts.ApplyLock(r.DB(ctx)).Where("id = ?", id).First(&campaign).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCampaignNotFound
	}
	if err != nil {
		return nil, err
	}
	return &campaign, nil
}

func (r *campaignRepository) Update(ctx context.Context, campaign *model.Campaign) error {
	result := r.DB(ctx).Model(&model.Campaign{}).
		Where("id = ?", campaign.ID).
		Updates(map[string]interface{}{
			"vault":      campaign.Vault,
			"status":     campaign.Status,
			"updated_at": campaign.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCampaignNotFound
	}
	return nil
}

func (r *campaignRepository) List(ctx context.Context, filter *CampaignFilter, page *Pagination) ([]*model.Campaign, error) {
	db := r.DB(ctx).Model(&model.Campaign{})
	if filter != nil {
		if filter.Proposer != "" {
			db = db.Where("proposer = ?", filter.Proposer)
		}
		if filter.Status != nil {
			db = db.Where("status = ?", *filter.Status)
		}
	}

	var campaigns []*model.Campaign
	err := paginate(db.Order("created_at DESC, id ASC"), page, &campaigns)
	return campaigns, err
}
