package repository

import (
	"context"
	"errors"

	"github.com/eidos-exchange/eidos/eidos-campaign/internal/model"
	"gorm.io/gorm"
)

var (
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	ErrVoteNotFound       = errors.New("vote not found")
)

// CheckpointRepository 里程碑检查点与投票仓储接口
type CheckpointRepository interface {
	// 检查点
	Create(ctx context.Context, checkpoint *model.Checkpoint) (bool, error)
	Get(ctx context.Context, key model.CheckpointKey, opts *QueryOptions) (*model.Checkpoint, error)
	Update(ctx context.Context, checkpoint *model.Checkpoint) error
	ListByCampaign(ctx context.Context, campaignID string) ([]*model.Checkpoint, error)

	// 投票
	CreateVote(ctx context.Context, vote *model.Vote) (bool, error)
	GetVote(ctx context.Context, key model.VoteKey) (*model.Vote, error)
	ListVotes(ctx context.Context, key model.CheckpointKey, page *Pagination) ([]*model.Vote, error)
}

type checkpointRepository struct {
	*Repository
}

// NewCheckpointRepository 创建检查点仓储
func NewCheckpointRepository(db *gorm.DB) CheckpointRepository {
	return &checkpointRepository{
		Repository: NewRepository(db),
	}
}

func (r *checkpointRepository) Create(ctx context.Context, checkpoint *model.Checkpoint) (bool, error) {
	checkpoint.ID = checkpoint.Key().String()
	return insertIgnore(r.DB(ctx), checkpoint)
}

func (r *checkpointRepository) Get(ctx context.Context, key model.CheckpointKey, opts *QueryOptions) (*model.Checkpoint, error) {
	var checkpoint model.Checkpoint
	err := opts.ApplyLock(r.DB(ctx)).Where("id = ?", key.String()).First(&checkpoint).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCheckpointNotFound
	}
	if err != nil {
		return nil, err
	}
	return &checkpoint, nil
}

func (r *checkpointRepository) Update(ctx context.Context, checkpoint *model.Checkpoint) error {
	result := r.DB(ctx).Model(&model.Checkpoint{}).
		Where("id = ?", checkpoint.ID).
		Updates(map[string]interface{}{
			"status":        checkpoint.Status,
			"votes_for":     checkpoint.VotesFor,
			"votes_against": checkpoint.VotesAgainst,
			"updated_at":    checkpoint.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCheckpointNotFound
	}
	return nil
}

func (r *checkpointRepository) ListByCampaign(ctx context.Context, campaignID string) ([]*model.Checkpoint, error) {
	var checkpoints []*model.Checkpoint
	err := r.DB(ctx).
		Where("campaign_id = ?", campaignID).
		Order("checkpoint_index ASC").
		Find(&checkpoints).Error
	return checkpoints, err
}

func (r *checkpointRepository) CreateVote(ctx context.Context, vote *model.Vote) (bool, error) {
	key := model.VoteKey{CampaignID: vote.CampaignID, Index: vote.CheckpointIndex, Supporter: vote.Supporter}
	vote.ID = key.String()
	vote.CheckpointID = key.Checkpoint().String()
	return insertIgnore(r.DB(ctx), vote)
}

func (r *checkpointRepository) GetVote(ctx context.Context, key model.VoteKey) (*model.Vote, error) {
	var vote model.Vote
	err := r.DB(ctx).Where("id = ?", key.String()).First(&vote).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrVoteNotFound
	}
	if err != nil {
		return nil, err
	}
	return &vote, nil
}

func (r *checkpointRepository) ListVotes(ctx context.Context, key model.CheckpointKey, page *Pagination) ([]*model.Vote, error) {
	db := r.DB(ctx).Model(&model.Vote{}).
		Where("checkpoint_id = ?", key.String()).
		Order("weight DESC, id ASC")

	var votes []*model.Vote
	err := paginate(db, page, &votes)
	return votes, err
}
