// Package handler 提供 HTTP 请求处理
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos/eidos-campaign/internal/dto"
	"github.com/eidos-exchange/eidos/eidos-campaign/internal/repository"
	"github.com/eidos-exchange/eidos/eidos-campaign/internal/service"
	"github.com/eidos-exchange/eidos/eidos-campaign/pkg/logger"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Success 返回成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// SuccessWithPagination 返回分页成功响应
func SuccessWithPagination(c *gin.Context, items interface{}, page *repository.Pagination) {
	c.JSON(http.StatusOK, dto.NewPagedResponse(items, page.Total, page.Page, page.PageSize))
}

// Error 返回业务错误响应
func Error(c *gin.Context, err *dto.BizError) {
	c.JSON(err.HTTPStatus, dto.NewErrorResponse(err))
}

// parsePagination 解析分页参数，非法值回落到默认值
func parsePagination(c *gin.Context) *repository.Pagination {
	page := &repository.Pagination{Page: 1, PageSize: defaultPageSize}
	if p, err := strconv.Atoi(c.Query("page")); err == nil && p > 0 {
		page.Page = p
	}
	if ps, err := strconv.Atoi(c.Query("page_size")); err == nil && ps > 0 && ps <= maxPageSize {
		page.PageSize = ps
	}
	return page
}

// handleServiceError 将领域错误映射为 HTTP 响应
func handleServiceError(c *gin.Context, err error) {
	var bizErr *dto.BizError
	switch {
	case errors.As(err, &bizErr):
	case errors.Is(err, service.ErrInvalidCampaignID):
		bizErr = dto.ErrInvalidCampaignID
	case errors.Is(err, service.ErrInvalidAddress):
		bizErr = dto.ErrInvalidAddress
	case errors.Is(err, repository.ErrCampaignNotFound):
		bizErr = dto.ErrCampaignNotFound
	case errors.Is(err, repository.ErrAccountNotFound):
		bizErr = dto.ErrAccountNotFound
	case errors.Is(err, repository.ErrCheckpointNotFound):
		bizErr = dto.ErrCheckpointNotFound
	default:
		logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		bizErr = dto.ErrInternalError
	}
	Error(c, bizErr)
}
