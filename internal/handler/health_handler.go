package handler

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger 依赖健康检查
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc 函数适配器
type PingFunc func(ctx context.Context) error

// Ping 实现 Pinger
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthDeps 健康检查依赖
type HealthDeps struct {
	Postgres Pinger
	Redis    Pinger
	Chain    Pinger
	// Snapshot 仅上报最近一次刷新时间, 不影响就绪状态
	Snapshot interface{ FetchedAt() time.Time }
}

// HealthHandler 健康检查处理器
type HealthHandler struct {
	ready   atomic.Bool
	deps    *HealthDeps
	timeout time.Duration
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(deps *HealthDeps) *HealthHandler {
	h := &HealthHandler{deps: deps, timeout: 3 * time.Second}
	h.ready.Store(false)
	return h
}

// SetReady 设置就绪状态
func (h *HealthHandler) SetReady(ready bool) {
	h.ready.Store(ready)
}

// Live 存活探针
// GET /health/live
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// Ready 就绪探针
// GET /health/ready
func (h *HealthHandler) Ready(c *gin.Context) {
	if !h.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"reason": "service initializing",
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	checks := make(map[string]string)
	allOK := true

	if h.deps != nil {
		for name, dep := range map[string]Pinger{
			"postgres": h.deps.Postgres,
			"redis":    h.deps.Redis,
			"chain":    h.deps.Chain,
		} {
			if dep == nil {
				continue
			}
			if err := dep.Ping(ctx); err != nil {
				checks[name] = err.Error()
				allOK = false
			} else {
				checks[name] = "ok"
			}
		}
	}

	body := gin.H{"checks": checks}
	if h.deps != nil && h.deps.Snapshot != nil {
		if at := h.deps.Snapshot.FetchedAt(); !at.IsZero() {
			body["snapshot_fetched_at"] = at.UnixMilli()
		}
	}

	if !allOK {
		body["status"] = "unhealthy"
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}

	body["status"] = "ok"
	c.JSON(http.StatusOK, body)
}
