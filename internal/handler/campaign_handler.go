package handler

import (
	"context"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/eidos-exchange/eidos/eidos-campaign/internal/dto"
	"github.com/eidos-exchange/eidos/eidos-campaign/internal/model"
	"github.com/eidos-exchange/eidos/eidos-campaign/internal/repository"
)

// CampaignService 活动查询接口
type CampaignService interface {
	GetCampaign(ctx context.Context, id string) (*model.Campaign, error)
	ListCampaigns(ctx context.Context, filter *repository.CampaignFilter, page *repository.Pagination) ([]*model.Campaign, error)
	GetCampaignLeaderboard(ctx context.Context, id string, page *repository.Pagination) ([]*model.Stake, error)
	ListCampaignActivities(ctx context.Context, id string, activityType model.ActivityType, timeRange *repository.TimeRange, page *repository.Pagination) ([]*model.Activity, error)
	ListCheckpoints(ctx context.Context, id string) ([]*model.Checkpoint, error)
	ListVotes(ctx context.Context, id string, index uint32, page *repository.Pagination) ([]*model.Vote, error)
}

// CampaignHandler 活动处理器
type CampaignHandler struct {
	svc CampaignService
}

// NewCampaignHandler 创建活动处理器
func NewCampaignHandler(svc CampaignService) *CampaignHandler {
	return &CampaignHandler{svc: svc}
}

// GetCampaign 获取活动详情
// GET /api/v1/campaigns/:id
func (h *CampaignHandler) GetCampaign(c *gin.Context) {
	campaign, err := h.svc.GetCampaign(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleServiceError(c, err)
		return
	}
	Success(c, campaign)
}

// ListCampaigns 活动列表
// GET /api/v1/campaigns?proposer=&status=
func (h *CampaignHandler) ListCampaigns(c *gin.Context) {
	filter := &repository.CampaignFilter{Proposer: c.Query("proposer")}
	if raw := c.Query("status"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 8)
		if err != nil || n < 0 {
			Error(c, dto.ErrInvalidParams.WithMessage("invalid status"))
			return
		}
		status := model.CampaignStatus(n)
		filter.Status = &status
	}

	page := parsePagination(c)
	campaigns, err := h.svc.ListCampaigns(c.Request.Context(), filter, page)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	SuccessWithPagination(c, campaigns, page)
}

// GetLeaderboard 活动质押排行榜
// GET /api/v1/campaigns/:id/stakes
func (h *CampaignHandler) GetLeaderboard(c *gin.Context) {
	page := parsePagination(c)
	stakes, err := h.svc.GetCampaignLeaderboard(c.Request.Context(), c.Param("id"), page)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	SuccessWithPagination(c, stakes, page)
}

// ListActivities 活动动态
// GET /api/v1/campaigns/:id/activities?type=&start_time=&end_time=
func (h *CampaignHandler) ListActivities(c *gin.Context) {
	var activityType model.ActivityType
	if raw := c.Query("type"); raw != "" {
		activityType = model.ActivityType(strings.ToUpper(raw))
		switch activityType {
		case model.ActivityTypeDeposit, model.ActivityTypeWithdraw, model.ActivityTypeVote:
		default:
			Error(c, dto.ErrInvalidParams.WithMessage("invalid activity type"))
			return
		}
	}

	timeRange, ok := parseTimeRange(c)
	if !ok {
		Error(c, dto.ErrInvalidParams.WithMessage("invalid time range"))
		return
	}

	page := parsePagination(c)
	activities, err := h.svc.ListCampaignActivities(c.Request.Context(), c.Param("id"), activityType, timeRange, page)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	SuccessWithPagination(c, activities, page)
}

// ListCheckpoints 活动检查点
// GET /api/v1/campaigns/:id/checkpoints
func (h *CampaignHandler) ListCheckpoints(c *gin.Context) {
	checkpoints, err := h.svc.ListCheckpoints(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleServiceError(c, err)
		return
	}
	Success(c, checkpoints)
}

// ListVotes 检查点投票
// GET /api/v1/campaigns/:id/checkpoints/:index/votes
func (h *CampaignHandler) ListVotes(c *gin.Context) {
	index, err := strconv.ParseUint(c.Param("index"), 10, 32)
	if err != nil {
		Error(c, dto.ErrInvalidParams.WithMessage("invalid checkpoint index"))
		return
	}

	page := parsePagination(c)
	votes, err := h.svc.ListVotes(c.Request.Context(), c.Param("id"), uint32(index), page)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	SuccessWithPagination(c, votes, page)
}

// parseTimeRange 解析 start_time/end_time (unix 秒)，两者都缺省时不过滤
func parseTimeRange(c *gin.Context) (*repository.TimeRange, bool) {
	rawStart, rawEnd := c.Query("start_time"), c.Query("end_time")
	if rawStart == "" && rawEnd == "" {
		return nil, true
	}

	start, err := strconv.ParseInt(rawStart, 10, 64)
	if err != nil {
		return nil, false
	}
	end, err := strconv.ParseInt(rawEnd, 10, 64)
	if err != nil {
		return nil, false
	}

	tr := &repository.TimeRange{Start: start, End: end}
	if !tr.IsValid() {
		return nil, false
	}
	return tr, true
}
