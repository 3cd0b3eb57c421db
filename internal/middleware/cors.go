package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	corsAllowMethods  = "GET, POST, OPTIONS"
	corsAllowHeaders  = "Origin, Content-Type, Accept, X-Trace-ID"
	corsExposeHeaders = "X-Trace-ID, Retry-After, X-RateLimit-Remaining"
	// 预检结果缓存 10 分钟
	corsMaxAge = "600"
)

// CORS 地图前端跨域访问
// origins 为空或包含 "*" 时允许任意来源; 未列出的来源不回写 CORS 头, 预检返回 403
func CORS(origins []string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(origins))
	wildcard := len(origins) == 0
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			wildcard = true
			continue
		}
		if o != "" {
			allowed[o] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}

		_, ok := allowed[origin]
		switch {
		case wildcard:
			c.Header("Access-Control-Allow-Origin", "*")
		case ok:
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		case c.Request.Method == http.MethodOptions:
			c.AbortWithStatus(http.StatusForbidden)
			return
		default:
			c.Next()
			return
		}
		c.Header("Access-Control-Expose-Headers", corsExposeHeaders)

		if c.Request.Method == http.MethodOptions {
			c.Header("Access-Control-Allow-Methods", corsAllowMethods)
			c.Header("Access-Control-Allow-Headers", corsAllowHeaders)
			c.Header("Access-Control-Max-Age", corsMaxAge)
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
