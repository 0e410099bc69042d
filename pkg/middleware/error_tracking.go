package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	"github.com/richxcame/escrow-settlement/pkg/common"
	apperrors "github.com/richxcame/escrow-settlement/pkg/errors"
	"github.com/richxcame/escrow-settlement/pkg/logger"
	"go.uber.org/zap"
)

// SentryMiddleware puts a per-request hub on the request context. Panics are captured and
// re-raised for Recovery to answer.
func SentryMiddleware() gin.HandlerFunc {
	return sentrygin.New(sentrygin.Options{
		Repanic: true,
		Timeout: 2 * time.Second,
	})
}

// Recovery turns a panic into a 500 envelope. It must run before SentryMiddleware.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered any) {
		logger.ErrorContext(c.Request.Context(), "panic recovered",
			zap.Any("panic", recovered),
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
		)
		common.ErrorResponse(c, http.StatusInternalServerError, "an unexpected error occurred")
		c.Abort()
	})
}

// ErrorHandler reports the errors a handler attached with c.Error once the response is
// written. A 5xx with no attached error is reported as a message.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		hub := apperrors.Hub(c.Request.Context())
		hub.AddBreadcrumb(&sentry.Breadcrumb{
			Type:     "http",
			Category: "http.request",
			Message:  c.Request.Method + " " + c.FullPath(),
			Data: map[string]interface{}{
				"status_code": status,
				"duration_ms": time.Since(start).Milliseconds(),
			},
		}, nil)

		for _, ginErr := range c.Errors {
			if apperrors.ShouldReportError(ginErr.Err, status) {
				report(c, hub, status, func(h *sentry.Hub) { h.CaptureException(ginErr.Err) }, ginErr.Err)
			}
		}
		if len(c.Errors) == 0 && status >= http.StatusInternalServerError {
			report(c, hub, status, func(h *sentry.Hub) {
				h.CaptureMessage(fmt.Sprintf("HTTP %d: %s %s", status, c.Request.Method, c.FullPath()))
			}, nil)
		}
	}
}

func report(c *gin.Context, hub *sentry.Hub, status int, capture func(*sentry.Hub), err error) {
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetRequest(c.Request)
		scope.SetLevel(apperrors.Level(status, err))
		scope.SetTag("http.status_code", strconv.Itoa(status))
		scope.SetTag("endpoint", c.FullPath())
		if id, ok := c.Get(UserIDKey); ok {
			scope.SetUser(sentry.User{ID: fmt.Sprint(id), IPAddress: c.ClientIP()})
		}
		if role, ok := c.Get(UserRoleKey); ok {
			scope.SetTag("user.role", fmt.Sprint(role))
		}
		if bookingID := c.Param("booking_id"); bookingID != "" {
			scope.SetTag("booking_id", bookingID)
		}
		apperrors.TagFromContext(c.Request.Context(), scope)
		capture(hub)
	})
}
