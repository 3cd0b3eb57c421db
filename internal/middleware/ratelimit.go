package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chandrabosep/AVALOOT/internal/dto"
	"github.com/chandrabosep/AVALOOT/internal/metrics"
	"github.com/chandrabosep/AVALOOT/internal/ratelimit"
	"github.com/chandrabosep/AVALOOT/pkg/logger"
)

// WindowLimiter 滑动窗口限流器
type WindowLimiter interface {
	Allow(ctx context.Context, key string, window time.Duration, limit int, member string) (bool, error)
	Remaining(ctx context.Context, key string, window time.Duration, limit int) (int, error)
}

var _ WindowLimiter = (*ratelimit.SlidingWindow)(nil)

// RateLimitByIP 按客户端 IP 限流, 每个写接口独立计数
func RateLimitByIP(limiter WindowLimiter, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := ratelimit.KeyPrefix + "ip:" + c.ClientIP() + ":" + c.FullPath()

		allowed, err := limiter.Allow(c.Request.Context(), key, window, limit, uuid.New().String())
		if err != nil {
			// Redis 不可用时放行
			logger.Warn("rate limit check failed", zap.String("key", key), zap.Error(err))
			c.Next()
			return
		}

		reset := strconv.FormatInt(time.Now().Add(window).Unix(), 10)
		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Header("X-RateLimit-Reset", reset)

		if !allowed {
			retryAfter := int(window.Seconds())
			metrics.RateLimitRejectedTotal.WithLabelValues(c.FullPath()).Inc()
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, dto.NewRateLimitResponse(limit, formatWindow(window), retryAfter))
			return
		}

		if remaining, err := limiter.Remaining(c.Request.Context(), key, window, limit); err == nil {
			c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		}

		c.Next()
	}
}

func formatWindow(d time.Duration) string {
	switch {
	case d >= time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	case d >= time.Minute:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
}
