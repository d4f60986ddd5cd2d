package httpapi

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smith3v/family-reminders/pkg/logger"
)

// requestLogger writes one debug line per request through the shared logger.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}
