package handler

import (
	"context"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/eidos-exchange/eidos/eidos-campaign/internal/dto"
	"github.com/eidos-exchange/eidos/eidos-campaign/internal/service"
)

// IndexerStatusProvider 单链索引状态
type IndexerStatusProvider interface {
	GetIndexerStatus(ctx context.Context) (*service.IndexerStatus, error)
}

// IndexerHandler 索引状态处理器
type IndexerHandler struct {
	indexers map[int64]IndexerStatusProvider
}

// NewIndexerHandler 创建索引状态处理器，key 为链 ID
func NewIndexerHandler(indexers map[int64]IndexerStatusProvider) *IndexerHandler {
	return &IndexerHandler{indexers: indexers}
}

// GetStatus 索引进度
// GET /api/v1/indexer/status?chain_id=
func (h *IndexerHandler) GetStatus(c *gin.Context) {
	ctx := c.Request.Context()

	if raw := c.Query("chain_id"); raw != "" {
		chainID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			Error(c, dto.ErrInvalidParams.WithMessage("invalid chain_id"))
			return
		}
		indexer, ok := h.indexers[chainID]
		if !ok {
			Error(c, dto.ErrChainNotIndexed)
			return
		}
		status, err := indexer.GetIndexerStatus(ctx)
		if err != nil {
			handleServiceError(c, err)
			return
		}
		Success(c, status)
		return
	}

	chainIDs := make([]int64, 0, len(h.indexers))
	for id := range h.indexers {
		chainIDs = append(chainIDs, id)
	}
	sort.Slice(chainIDs, func(i, j int) bool { return chainIDs[i] < chainIDs[j] })

	statuses := make([]*service.IndexerStatus, 0, len(chainIDs))
	for _, id := range chainIDs {
		status, err := h.indexers[id].GetIndexerStatus(ctx)
		if err != nil {
			handleServiceError(c, err)
			return
		}
		statuses = append(statuses, status)
	}
	Success(c, statuses)
}
