// Package router 提供路由注册
package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chandrabosep/AVALOOT/internal/config"
	"github.com/chandrabosep/AVALOOT/internal/handler"
	"github.com/chandrabosep/AVALOOT/internal/middleware"
)

// Router 路由管理器
type Router struct {
	engine  *gin.Engine
	cfg     *config.Config
	limiter middleware.WindowLimiter
}

// New 创建路由管理器, limiter 为 nil 时写接口不限流
func New(engine *gin.Engine, cfg *config.Config, limiter middleware.WindowLimiter) *Router {
	return &Router{
		engine:  engine,
		cfg:     cfg,
		limiter: limiter,
	}
}

// RegisterMiddleware 注册全局中间件
func (r *Router) RegisterMiddleware() {
	// 中间件链: Recovery → Trace → Logger → CORS → Metrics
	r.engine.Use(
		middleware.Recovery(),
		middleware.Trace(),
		middleware.Logger(),
		middleware.CORS(r.cfg.Service.CORSOrigins),
		middleware.Metrics(),
	)
}

// RegisterRoutes 注册路由
func (r *Router) RegisterRoutes(
	healthHandler *handler.HealthHandler,
	stakeHandler *handler.StakeHandler,
	networkHandler *handler.NetworkHandler,
) {
	// ========== 健康检查 ==========
	r.engine.GET("/health/live", healthHandler.Live)
	r.engine.GET("/health/ready", healthHandler.Ready)

	// ========== Prometheus 监控端点 ==========
	r.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// ========== API v1 ==========
	v1 := r.engine.Group("/api/v1")

	// 查询接口
	v1.GET("/network", networkHandler.GetNetwork)
	v1.GET("/stats", networkHandler.GetStats)
	stakes := v1.Group("/stakes")
	{
		stakes.GET("", stakeHandler.ListStakes)
		stakes.GET("/nearby", stakeHandler.ListNearby)
		stakes.GET("/tx/:hash", stakeHandler.GetStakeByTx)
		stakes.GET("/:id", stakeHandler.GetStake)
		stakes.GET("/:id/preview", stakeHandler.PreviewClaim)
	}
	v1.GET("/rewards/:address", stakeHandler.GetRewards)

	// 写接口: 每笔都会发送链上交易, 按 IP 限流
	write := v1.Group("")
	if r.cfg.RateLimit.Enabled && r.limiter != nil {
		write.Use(middleware.RateLimitByIP(
			r.limiter,
			r.cfg.RateLimit.Limit,
			time.Duration(r.cfg.RateLimit.Window)*time.Second,
		))
	}
	{
		write.POST("/stakes", stakeHandler.CreateStake)
		write.POST("/stakes/:id/claim", stakeHandler.ClaimStake)
		write.POST("/stakes/:id/refund", stakeHandler.RefundStake)
		write.POST("/rewards/withdraw", stakeHandler.WithdrawRewards)
		write.POST("/location", stakeHandler.ReportLocation)
	}
}
