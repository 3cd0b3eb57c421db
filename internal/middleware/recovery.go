// Package middleware 提供 HTTP 中间件
package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chandrabosep/AVALOOT/internal/dto"
	"github.com/chandrabosep/AVALOOT/internal/metrics"
	bizerr "github.com/chandrabosep/AVALOOT/pkg/errors"
	"github.com/chandrabosep/AVALOOT/pkg/logger"
)

// Recovery 捕获 handler panic, 返回带 trace_id 的 INTERNAL_ERROR
// 已写出响应头时只记录日志
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			route := c.FullPath()
			if route == "" {
				route = "unmatched"
			}
			metrics.HTTPPanicsTotal.WithLabelValues(route).Inc()

			traceID := c.GetString(TraceIDKey)
			logger.WithContext(c.Request.Context()).Error("panic recovered",
				zap.String("panic", fmt.Sprint(r)),
				zap.String("route", route),
				zap.String("method", c.Request.Method),
				zap.ByteString("stack", debug.Stack()))

			if c.Writer.Written() {
				c.Abort()
				return
			}
			resp := bizerr.ErrInternal
			if traceID != "" {
				resp = resp.WithDetail(TraceIDKey, traceID)
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, dto.NewErrorResponse(resp))
		}()
		c.Next()
	}
}
