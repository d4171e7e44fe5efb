package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/eidos-exchange/eidos/eidos-campaign/internal/dto"
	"github.com/eidos-exchange/eidos/eidos-campaign/internal/model"
	"github.com/eidos-exchange/eidos/eidos-campaign/internal/repository"
	"github.com/eidos-exchange/eidos/eidos-campaign/internal/service"
)

const testCampaign = "0x00000000000000000000000000000000000000000000000000000000000000aa"

func init() {
	gin.SetMode(gin.TestMode)
}

// MockCampaignService Mock 活动查询服务
type MockCampaignService struct {
	mock.Mock
}

func (m *MockCampaignService) GetCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Campaign), args.Error(1)
}

func (m *MockCampaignService) ListCampaigns(ctx context.Context, filter *repository.CampaignFilter, page *repository.Pagination) ([]*model.Campaign, error) {
	args := m.Called(ctx, filter, page)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Campaign), args.Error(1)
}

func (m *MockCampaignService) GetCampaignLeaderboard(ctx context.Context, id string, page *repository.Pagination) ([]*model.Stake, error) {
	args := m.Called(ctx, id, page)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Stake), args.Error(1)
}

func (m *MockCampaignService) ListCampaignActivities(ctx context.Context, id string, activityType model.ActivityType, timeRange *repository.TimeRange, page *repository.Pagination) ([]*model.Activity, error) {
	args := m.Called(ctx, id, activityType, timeRange, page)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Activity), args.Error(1)
}

func (m *MockCampaignService) ListCheckpoints(ctx context.Context, id string) ([]*model.Checkpoint, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Checkpoint), args.Error(1)
}

func (m *MockCampaignService) ListVotes(ctx context.Context, id string, index uint32, page *repository.Pagination) ([]*model.Vote, error) {
	args := m.Called(ctx, id, index, page)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Vote), args.Error(1)
}

// MockAccountService Mock 账户查询服务
type MockAccountService struct {
	mock.Mock
}

func (m *MockAccountService) GetAccount(ctx context.Context, address string) (*model.Account, error) {
	args := m.Called(ctx, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Account), args.Error(1)
}

func (m *MockAccountService) ListAccountStakes(ctx context.Context, address string, page *repository.Pagination) ([]*model.Stake, error) {
	args := m.Called(ctx, address, page)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Stake), args.Error(1)
}

func (m *MockAccountService) GetVaultLeaderboard(ctx context.Context, vault string, page *repository.Pagination) ([]*model.Stake, error) {
	args := m.Called(ctx, vault, page)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Stake), args.Error(1)
}

type stubIndexer struct {
	status *service.IndexerStatus
	err    error
}

func (s *stubIndexer) GetIndexerStatus(_ context.Context) (*service.IndexerStatus, error) {
	return s.status, s.err
}

func perform(r *gin.Engine, path string) (*httptest.ResponseRecorder, *dto.Response) {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, path, nil)
	r.ServeHTTP(w, req)

	var resp dto.Response
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, &resp
}

func TestGetCampaign_Success(t *testing.T) {
	svc := new(MockCampaignService)
	h := NewCampaignHandler(svc)
	r := gin.New()
	r.GET("/campaigns/:id", h.GetCampaign)

	svc.On("GetCampaign", mock.Anything, testCampaign).
		Return(&model.Campaign{ID: testCampaign, Status: model.CampaignStatusApproved}, nil)

	w, resp := perform(r, "/campaigns/"+testCampaign)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, resp.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, testCampaign, data["id"])
	svc.AssertExpectations(t)
}

func TestGetCampaign_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   int
	}{
		{"invalid id", service.ErrInvalidCampaignID, http.StatusBadRequest, dto.ErrInvalidCampaignID.Code},
		{"not found", repository.ErrCampaignNotFound, http.StatusNotFound, dto.ErrCampaignNotFound.Code},
		{"internal", errors.New("db down"), http.StatusInternalServerError, dto.ErrInternalError.Code},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockCampaignService)
			h := NewCampaignHandler(svc)
			r := gin.New()
			r.GET("/campaigns/:id", h.GetCampaign)

			svc.On("GetCampaign", mock.Anything, "x").Return(nil, tt.err)

			w, resp := perform(r, "/campaigns/x")
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, resp.Code)
		})
	}
}

func TestGetLeaderboard_Pagination(t *testing.T) {
	svc := new(MockCampaignService)
	h := NewCampaignHandler(svc)
	r := gin.New()
	r.GET("/campaigns/:id/stakes", h.GetLeaderboard)

	svc.On("GetCampaignLeaderboard", mock.Anything, testCampaign, mock.MatchedBy(func(p *repository.Pagination) bool {
		return p.Page == 2 && p.PageSize == 10
	})).Run(func(args mock.Arguments) {
		args.Get(2).(*repository.Pagination).Total = 15
	}).Return([]*model.Stake{{Supporter: "0xa1", Amount: decimal.NewFromInt(5)}}, nil)

	w, resp := perform(r, "/campaigns/"+testCampaign+"/stakes?page=2&page_size=10")

	require.Equal(t, http.StatusOK, w.Code)
	data := resp.Data.(map[string]interface{})
	pagination := data["pagination"].(map[string]interface{})
	assert.Equal(t, float64(15), pagination["total"])
	assert.Equal(t, float64(2), pagination["total_pages"])
	assert.Len(t, data["items"], 1)
}

func TestGetLeaderboard_InvalidPageFallsBack(t *testing.T) {
	svc := new(MockCampaignService)
	h := NewCampaignHandler(svc)
	r := gin.New()
	r.GET("/campaigns/:id/stakes", h.GetLeaderboard)

	svc.On("GetCampaignLeaderboard", mock.Anything, testCampaign, mock.MatchedBy(func(p *repository.Pagination) bool {
		return p.Page == 1 && p.PageSize == defaultPageSize
	})).Return([]*model.Stake{}, nil)

	w, _ := perform(r, "/campaigns/"+testCampaign+"/stakes?page=-1&page_size=1000")
	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}

func TestListActivities_TypeFilter(t *testing.T) {
	svc := new(MockCampaignService)
	h := NewCampaignHandler(svc)
	r := gin.New()
	r.GET("/campaigns/:id/activities", h.ListActivities)

	svc.On("ListCampaignActivities", mock.Anything, testCampaign, model.ActivityTypeVote, (*repository.TimeRange)(nil), mock.Anything).
		Return([]*model.Activity{}, nil)

	w, _ := perform(r, "/campaigns/"+testCampaign+"/activities?type=vote")
	assert.Equal(t, http.StatusOK, w.Code)

	w, resp := perform(r, "/campaigns/"+testCampaign+"/activities?type=transfer")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, dto.ErrInvalidParams.Code, resp.Code)
	svc.AssertNumberOfCalls(t, "ListCampaignActivities", 1)
}

func TestListActivities_TimeRange(t *testing.T) {
	svc := new(MockCampaignService)
	h := NewCampaignHandler(svc)
	r := gin.New()
	r.GET("/campaigns/:id/activities", h.ListActivities)

	svc.On("ListCampaignActivities", mock.Anything, testCampaign, model.ActivityType(""),
		&repository.TimeRange{Start: 100, End: 200}, mock.Anything).
		Return([]*model.Activity{}, nil)

	w, _ := perform(r, "/campaigns/"+testCampaign+"/activities?start_time=100&end_time=200")
	assert.Equal(t, http.StatusOK, w.Code)

	for _, query := range []string{"start_time=100", "start_time=300&end_time=200", "start_time=x&end_time=200"} {
		w, resp := perform(r, "/campaigns/"+testCampaign+"/activities?"+query)
		assert.Equal(t, http.StatusBadRequest, w.Code, query)
		assert.Equal(t, dto.ErrInvalidParams.Code, resp.Code, query)
	}
	svc.AssertNumberOfCalls(t, "ListCampaignActivities", 1)
}

func TestListCampaigns_StatusFilter(t *testing.T) {
	svc := new(MockCampaignService)
	h := NewCampaignHandler(svc)
	r := gin.New()
	r.GET("/campaigns", h.ListCampaigns)

	svc.On("ListCampaigns", mock.Anything, mock.MatchedBy(func(f *repository.CampaignFilter) bool {
		return f.Status != nil && *f.Status == model.CampaignStatusActive && f.Proposer == "0xc3"
	}), mock.Anything).Return([]*model.Campaign{}, nil)

	w, _ := perform(r, "/campaigns?status=3&proposer=0xc3")
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = perform(r, "/campaigns?status=active")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	svc.AssertNumberOfCalls(t, "ListCampaigns", 1)
}

func TestListVotes_InvalidIndex(t *testing.T) {
	svc := new(MockCampaignService)
	h := NewCampaignHandler(svc)
	r := gin.New()
	r.GET("/campaigns/:id/checkpoints/:index/votes", h.ListVotes)

	svc.On("ListVotes", mock.Anything, testCampaign, uint32(3), mock.Anything).Return([]*model.Vote{}, nil)

	w, _ := perform(r, "/campaigns/"+testCampaign+"/checkpoints/3/votes")
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = perform(r, "/campaigns/"+testCampaign+"/checkpoints/-1/votes")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAccountHandler(t *testing.T) {
	svc := new(MockAccountService)
	h := NewAccountHandler(svc)
	r := gin.New()
	r.GET("/accounts/:address", h.GetAccount)
	r.GET("/accounts/:address/stakes", h.ListStakes)
	r.GET("/vaults/:address/stakes", h.GetVaultLeaderboard)

	svc.On("GetAccount", mock.Anything, "0xa1").Return(nil, repository.ErrAccountNotFound)
	svc.On("ListAccountStakes", mock.Anything, "0x123", mock.Anything).Return(nil, service.ErrInvalidAddress)
	svc.On("GetVaultLeaderboard", mock.Anything, "0xf1", mock.Anything).
		Return([]*model.Stake{{Scope: model.StakeScopeVault}}, nil)

	w, _ := perform(r, "/accounts/0xa1")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, resp := perform(r, "/accounts/0x123/stakes")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, dto.ErrInvalidAddress.Code, resp.Code)

	w, _ = perform(r, "/vaults/0xf1/stakes")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestIndexerHandler_GetStatus(t *testing.T) {
	h := NewIndexerHandler(map[int64]IndexerStatusProvider{
		8453:  &stubIndexer{status: &service.IndexerStatus{ChainID: 8453, Running: true}},
		31337: &stubIndexer{status: &service.IndexerStatus{ChainID: 31337}},
	})
	r := gin.New()
	r.GET("/indexer/status", h.GetStatus)

	w, resp := perform(r, "/indexer/status")
	require.Equal(t, http.StatusOK, w.Code)
	list := resp.Data.([]interface{})
	require.Len(t, list, 2)
	assert.Equal(t, float64(8453), list[0].(map[string]interface{})["chain_id"])

	w, resp = perform(r, "/indexer/status?chain_id=31337")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(31337), resp.Data.(map[string]interface{})["chain_id"])

	w, _ = perform(r, "/indexer/status?chain_id=1")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = perform(r, "/indexer/status?chain_id=abc")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthHandler(t *testing.T) {
	failing := false
	h := NewHealthHandler(map[string]Pinger{
		"database": func(context.Context) error {
			if failing {
				return errors.New("connection refused")
			}
			return nil
		},
	})
	r := gin.New()
	r.GET("/health/live", h.Live)
	r.GET("/health/ready", h.Ready)

	w, _ := perform(r, "/health/live")
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = perform(r, "/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.False(t, h.IsReady())

	h.SetReady(true)
	assert.True(t, h.IsReady())
	w, _ = perform(r, "/health/ready")
	assert.Equal(t, http.StatusOK, w.Code)

	failing = true
	w, _ = perform(r, "/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
