package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chandrabosep/AVALOOT/internal/metrics"
)

// Metrics 返回 Prometheus 指标记录中间件
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		// 使用路由模板, 避免 stake id 造成高基数
		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}

		metrics.RecordHTTPRequest(
			c.Request.Method,
			path,
			strconv.Itoa(c.Writer.Status()),
			time.Since(start).Seconds(),
		)
	}
}
