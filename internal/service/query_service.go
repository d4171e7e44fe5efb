package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos/eidos-campaign/internal/cache"
	"github.com/eidos-exchange/eidos/eidos-campaign/internal/model"
	"github.com/eidos-exchange/eidos/eidos-campaign/internal/repository"
	"github.com/eidos-exchange/eidos/eidos-campaign/pkg/logger"
)

var (
	ErrInvalidCampaignID = errors.New("invalid campaign id")
	ErrInvalidAddress    = errors.New("invalid address")
)

// LeaderboardCache 排行榜缓存接口
type LeaderboardCache interface {
	Get(ctx context.Context, scope model.StakeScope, owner string, page, pageSize int) (*cache.LeaderboardPage, error)
	Version(ctx context.Context, scope model.StakeScope, owner string) (int64, error)
	Set(ctx context.Context, scope model.StakeScope, owner string, page, pageSize int, version int64, result *cache.LeaderboardPage) (bool, error)
	Invalidate(ctx context.Context, scope model.StakeScope, owner string) error
}

// QueryService 派生状态只读查询
type QueryService struct {
	accountRepo    repository.AccountRepository
	campaignRepo   repository.CampaignRepository
	checkpointRepo repository.CheckpointRepository
	stakeRepo      repository.StakeRepository
	activityRepo   repository.ActivityRepository
	cache          LeaderboardCache // 可为 nil
}

// NewQueryService 创建查询服务
func NewQueryService(
	accountRepo repository.AccountRepository,
	campaignRepo repository.CampaignRepository,
	checkpointRepo repository.CheckpointRepository,
	stakeRepo repository.StakeRepository,
	activityRepo repository.ActivityRepository,
	leaderboardCache LeaderboardCache,
) *QueryService {
	return &QueryService{
		accountRepo:    accountRepo,
		campaignRepo:   campaignRepo,
		checkpointRepo: checkpointRepo,
		stakeRepo:      stakeRepo,
		activityRepo:   activityRepo,
		cache:          leaderboardCache,
	}
}

func normalizeCampaignID(raw string) (string, error) {
	id, err := model.NormalizeCampaignID(raw)
	if err != nil {
		return "", ErrInvalidCampaignID
	}
	return id, nil
}

func normalizeAddress(raw string) (string, error) {
	addr, err := model.NormalizeAddress(raw)
	if err != nil {
		return "", ErrInvalidAddress
	}
	return addr, nil
}

// GetCampaign 获取活动
func (s *QueryService) GetCampaign(ctx context.Context, rawID string) (*model.Campaign, error) {
	id, err := normalizeCampaignID(rawID)
	if err != nil {
		return nil, err
	}
	return s.campaignRepo.GetByID(ctx, id, nil)
}

// ListCampaigns 活动列表
func (s *QueryService) ListCampaigns(ctx context.Context, filter *repository.CampaignFilter, page *repository.Pagination) ([]*model.Campaign, error) {
	if filter != nil && filter.Proposer != "" {
		proposer, err := normalizeAddress(filter.Proposer)
		if err != nil {
			return nil, err
		}
		filter.Proposer = proposer
	}
	return s.campaignRepo.List(ctx, filter, page)
}

// GetAccount 获取账户
func (s *QueryService) GetAccount(ctx context.Context, rawAddress string) (*model.Account, error) {
	addr, err := normalizeAddress(rawAddress)
	if err != nil {
		return nil, err
	}
	return s.accountRepo.GetByAddress(ctx, addr)
}

// GetCampaignLeaderboard 活动质押排行榜
func (s *QueryService) GetCampaignLeaderboard(ctx context.Context, rawID string, page *repository.Pagination) ([]*model.Stake, error) {
	id, err := normalizeCampaignID(rawID)
	if err != nil {
		return nil, err
	}
	return s.leaderboard(ctx, model.StakeScopeCampaign, id, page)
}

// GetVaultLeaderboard 全局金库质押排行榜
func (s *QueryService) GetVaultLeaderboard(ctx context.Context, rawVault string, page *repository.Pagination) ([]*model.Stake, error) {
	vault, err := normalizeAddress(rawVault)
	if err != nil {
		return nil, err
	}
	return s.leaderboard(ctx, model.StakeScopeVault, vault, page)
}

// leaderboard 先读缓存，未命中查库并回填；缓存故障不影响查询
//
// 回填前比对查库前读到的版本号，查库期间发生的失效会使本次回填作废。
func (s *QueryService) leaderboard(ctx context.Context, scope model.StakeScope, owner string, page *repository.Pagination) ([]*model.Stake, error) {
	if page == nil {
		page = &repository.Pagination{}
	}
	page.Offset()
	pageSize := page.Limit()

	fill := false
	var version int64
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, scope, owner, page.Page, pageSize)
		if err != nil {
			logger.Warn("leaderboard cache read failed", zap.String("owner", owner), zap.Error(err))
		} else if cached != nil {
			page.Total = cached.Total
			return cached.Stakes, nil
		} else if version, err = s.cache.Version(ctx, scope, owner); err != nil {
			logger.Warn("leaderboard cache version read failed", zap.String("owner", owner), zap.Error(err))
		} else {
			fill = true
		}
	}

	stakes, err := s.stakeRepo.ListByOwner(ctx, scope, owner, page)
	if err != nil {
		return nil, err
	}

	if fill {
		result := &cache.LeaderboardPage{Stakes: stakes, Total: page.Total}
		stored, err := s.cache.Set(ctx, scope, owner, page.Page, pageSize, version, result)
		if err != nil {
			logger.Warn("leaderboard cache write failed", zap.String("owner", owner), zap.Error(err))
		} else if !stored {
			logger.Debug("leaderboard invalidated during read, page not cached", zap.String("owner", owner))
		}
	}
	return stakes, nil
}

// ListAccountStakes 支持者在所有活动与金库中的头寸
func (s *QueryService) ListAccountStakes(ctx context.Context, rawAddress string, page *repository.Pagination) ([]*model.Stake, error) {
	addr, err := normalizeAddress(rawAddress)
	if err != nil {
		return nil, err
	}
	return s.stakeRepo.ListBySupporter(ctx, addr, page)
}

// ListCampaignActivities 活动动态，按时间倒序
func (s *QueryService) ListCampaignActivities(ctx context.Context, rawID string, activityType model.ActivityType, timeRange *repository.TimeRange, page *repository.Pagination) ([]*model.Activity, error) {
	id, err := normalizeCampaignID(rawID)
	if err != nil {
		return nil, err
	}
	return s.activityRepo.List(ctx, &repository.ActivityFilter{
		Scope:     model.StakeScopeCampaign,
		Owner:     id,
		Type:      activityType,
		TimeRange: timeRange,
	}, page)
}

// ListCheckpoints 活动的全部检查点
func (s *QueryService) ListCheckpoints(ctx context.Context, rawID string) ([]*model.Checkpoint, error) {
	id, err := normalizeCampaignID(rawID)
	if err != nil {
		return nil, err
	}
	return s.checkpointRepo.ListByCampaign(ctx, id)
}

// ListVotes 检查点投票，按权重倒序
func (s *QueryService) ListVotes(ctx context.Context, rawID string, index uint32, page *repository.Pagination) ([]*model.Vote, error) {
	id, err := normalizeCampaignID(rawID)
	if err != nil {
		return nil, err
	}
	return s.checkpointRepo.ListVotes(ctx, model.CheckpointKey{CampaignID: id, Index: index}, page)
}

// OnStateChanged 质押变化后失效对应排行榜，由分发器在提交后调用
func (s *QueryService) OnStateChanged(ctx context.Context, touched []OwnerRef) {
	if s.cache == nil {
		return
	}
	for _, ref := range touched {
		if err := s.cache.Invalidate(ctx, ref.Scope, ref.Owner); err != nil {
			logger.Warn("invalidate leaderboard cache failed",
				zap.String("scope", string(ref.Scope)),
				zap.String("owner", ref.Owner),
				zap.Error(err))
		}
	}
}
