package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/richxcame/escrow-settlement/pkg/common"
	"github.com/richxcame/escrow-settlement/pkg/config"
	"github.com/richxcame/escrow-settlement/pkg/logger"
	"github.com/richxcame/escrow-settlement/pkg/ratelimit"
	"go.uber.org/zap"
)

var rateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "http_rate_limit_rejections_total",
	Help: "Requests refused by the rate limiter",
}, []string{"route"})

// RateLimit spends a token per request from the caller's bucket. Authenticated callers are
// keyed by user ID so a driver cannot dodge the withdrawal limit by switching networks.
// A Redis failure lets the request through.
func RateLimit(limiter *ratelimit.Limiter, cfg config.RateLimitConfig) gin.HandlerFunc {
	if limiter == nil || !cfg.Enabled {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		route := c.Request.Method + ":" + path

		scope, subject := ratelimit.ScopeClient, c.ClientIP()
		if userID, err := GetUserID(c); err == nil && userID != uuid.Nil {
			scope, subject = ratelimit.ScopeUser, userID.String()
		}

		rule := limiter.RuleFor(route, scope)
		if rule.Disabled() {
			c.Next()
			return
		}

		d, err := limiter.Take(c.Request.Context(), route, subject, rule)
		if err != nil {
			logger.WarnContext(c.Request.Context(), "rate limit check failed, allowing request",
				zap.String("route", route),
				zap.Error(err),
			)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		c.Header("X-RateLimit-Reset", strconv.Itoa(ceilSeconds(d.ResetAfter)))

		if d.Allowed {
			c.Next()
			return
		}

		retry := max(ceilSeconds(d.RetryAfter), 1)
		c.Header("Retry-After", strconv.Itoa(retry))
		rateLimitRejections.WithLabelValues(route).Inc()
		logger.WarnContext(c.Request.Context(), "rate limit exceeded",
			zap.String("route", route),
			zap.String("subject", subject),
			zap.Int("retry_after_seconds", retry),
		)

		common.ErrorResponse(c, http.StatusTooManyRequests, "too many requests, slow down")
		c.Abort()
	}
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}
