package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/eidos-exchange/eidos/eidos-campaign/internal/model"
	"github.com/eidos-exchange/eidos/eidos-campaign/internal/repository"
)

// AccountService 账户与金库查询接口
type AccountService interface {
	GetAccount(ctx context.Context, address string) (*model.Account, error)
	ListAccountStakes(ctx context.Context, address string, page *repository.Pagination) ([]*model.Stake, error)
	GetVaultLeaderboard(ctx context.Context, vault string, page *repository.Pagination) ([]*model.Stake, error)
}

// AccountHandler 账户处理器
type AccountHandler struct {
	svc AccountService
}

// NewAccountHandler 创建账户处理器
func NewAccountHandler(svc AccountService) *AccountHandler {
	return &AccountHandler{svc: svc}
}

// GetAccount 获取账户
// GET /api/v1/accounts/:address
func (h *AccountHandler) GetAccount(c *gin.Context) {
	account, err := h.svc.GetAccount(c.Request.Context(), c.Param("address"))
	if err != nil {
		handleServiceError(c, err)
		return
	}
	Success(c, account)
}

// ListStakes 账户在所有活动和金库中的质押
// GET /api/v1/accounts/:address/stakes
func (h *AccountHandler) ListStakes(c *gin.Context) {
	page := parsePagination(c)
	stakes, err := h.svc.ListAccountStakes(c.Request.Context(), c.Param("address"), page)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	SuccessWithPagination(c, stakes, page)
}

// GetVaultLeaderboard 金库质押排行榜
// GET /api/v1/vaults/:address/stakes
func (h *AccountHandler) GetVaultLeaderboard(c *gin.Context) {
	page := parsePagination(c)
	stakes, err := h.svc.GetVaultLeaderboard(c.Request.Context(), c.Param("address"), page)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	SuccessWithPagination(c, stakes, page)
}
