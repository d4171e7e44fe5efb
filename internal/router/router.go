// Package router 提供路由注册
package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eidos-exchange/eidos/eidos-campaign/internal/handler"
	"github.com/eidos-exchange/eidos/eidos-campaign/internal/middleware"
)

// Handlers 路由依赖的处理器
type Handlers struct {
	Health   *handler.HealthHandler
	Campaign *handler.CampaignHandler
	Account  *handler.AccountHandler
	Indexer  *handler.IndexerHandler
}

// Router 路由管理器
type Router struct {
	engine *gin.Engine
}

// New 创建路由管理器
func New(engine *gin.Engine) *Router {
	return &Router{engine: engine}
}

// RegisterMiddleware 注册全局中间件
func (r *Router) RegisterMiddleware() {
	// 中间件链: Recovery → Logger → Metrics
	r.engine.Use(
		middleware.Recovery(),
		middleware.Logger(),
		middleware.Metrics(),
	)
}

// RegisterRoutes 注册路由
func (r *Router) RegisterRoutes(h *Handlers) {
	// ========== 健康检查 ==========
	r.engine.GET("/health", h.Health.Live)
	r.engine.GET("/health/live", h.Health.Live)
	r.engine.GET("/health/ready", h.Health.Ready)

	// ========== Prometheus 监控端点 ==========
	r.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// ========== API v1 (只读) ==========
	v1 := r.engine.Group("/api/v1")

	campaigns := v1.Group("/campaigns")
	{
		campaigns.GET("", h.Campaign.ListCampaigns)
		campaigns.GET("/:id", h.Campaign.GetCampaign)
		campaigns.GET("/:id/stakes", h.Campaign.GetLeaderboard)
		campaigns.GET("/:id/activities", h.Campaign.ListActivities)
		campaigns.GET("/:id/checkpoints", h.Campaign.ListCheckpoints)
		campaigns.GET("/:id/checkpoints/:index/votes", h.Campaign.ListVotes)
	}

	v1.GET("/vaults/:address/stakes", h.Account.GetVaultLeaderboard)

	accounts := v1.Group("/accounts")
	{
		accounts.GET("/:address", h.Account.GetAccount)
		accounts.GET("/:address/stakes", h.Account.ListStakes)
	}

	v1.GET("/indexer/status", h.Indexer.GetStatus)
}
