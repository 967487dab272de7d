package middleware

import (
	"time"

	"fitcoach-go/pkg/log"
	"fitcoach-go/pkg/metrics"

	"github.com/gin-gonic/gin"
)

// RequestLogger 记录每个请求的状态码与耗时，并写入 HTTP 指标。
// 只记录请求与响应的大小，不记录正文。
func RequestLogger(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		latency := time.Since(startTime)
		statusCode := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.ObserveHTTP(route, statusCode, latency)

		log.Infow("HTTP Request Log",
			"statusCode", statusCode,
			"latency", latency.String(),
			"clientIP", c.ClientIP(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"requestSize", c.Request.ContentLength,
			"responseSize", c.Writer.Size(),
		)
	}
}
