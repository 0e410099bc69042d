package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/timeout"
	"github.com/gin-gonic/gin"
	"github.com/richxcame/escrow-settlement/pkg/config"
	"github.com/richxcame/escrow-settlement/pkg/logger"
	"go.uber.org/zap"
)

// RequestTimeout bounds handler execution with gin-contrib/timeout. The budget is looked up
// per route as "METHOD:/full/path" in cfg.RouteOverrides, falling back to the default.
// Timed out requests get 504 and an X-Timeout header.
func RequestTimeout(cfg *config.TimeoutConfig) gin.HandlerFunc {
	if cfg == nil {
		cfg = &config.TimeoutConfig{}
	}

	var handlers sync.Map // time.Duration -> gin.HandlerFunc

	handlerFor := func(d time.Duration) gin.HandlerFunc {
		if h, ok := handlers.Load(d); ok {
			return h.(gin.HandlerFunc)
		}
		h := timeout.New(
			timeout.WithTimeout(d),
			timeout.WithResponse(timeoutResponse(d)),
		)
		actual, _ := handlers.LoadOrStore(d, h)
		return actual.(gin.HandlerFunc)
	}

	return func(c *gin.Context) {
		route := c.Request.Method + ":" + c.FullPath()
		handlerFor(cfg.TimeoutForRoute(route))(c)
	}
}

func timeoutResponse(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger.WithContext(c.Request.Context()).Warn("Request timeout",
			zap.String("path", c.Request.URL.Path),
			zap.String("method", c.Request.Method),
			zap.Duration("timeout", d),
		)

		c.Header("X-Timeout", "true")
		c.JSON(http.StatusGatewayTimeout, gin.H{
			"success": false,
			"error": gin.H{
				"code":    http.StatusGatewayTimeout,
				"message": "Request timeout",
			},
		})
	}
}
