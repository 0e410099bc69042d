// Package errors reports settlement failures to Sentry. Caller mistakes and expected
// payment outcomes stay out of it; ledger invariant breaches always go in.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/richxcame/escrow-settlement/pkg/common"
	"github.com/richxcame/escrow-settlement/pkg/config"
	"github.com/richxcame/escrow-settlement/pkg/logger"
	"github.com/richxcame/escrow-settlement/pkg/security"
	"go.opentelemetry.io/otel/trace"
)

// ErrNotConfigured is returned by InitSentry when no DSN is set
var ErrNotConfigured = stderrors.New("sentry DSN is not configured")

var redactedHeaders = []string{"Authorization", "Cookie", "Idempotency-Key"}

// expected outcomes of a payment flow, answered to the caller and never reported
var expected = []error{
	common.ErrValidation,
	common.ErrBadRequest,
	common.ErrNotFound,
	common.ErrUnauthorized,
	common.ErrForbidden,
	common.ErrConflict,
	common.ErrInvalidAmount,
	common.ErrAmountOutOfRange,
	common.ErrInsufficientBalance,
	common.ErrDuplicateCallback,
	common.ErrGatewayUnavailable,
}

// InitSentry installs the global Sentry client
func InitSentry(cfg *config.Config, release string) error {
	if cfg.Sentry.DSN == "" {
		return ErrNotConfigured
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.Sentry.DSN,
		Environment:      cfg.Server.Environment,
		Release:          release,
		ServerName:       cfg.Server.ServiceName,
		SampleRate:       1.0,
		EnableTracing:    cfg.Sentry.TracesSampleRate > 0,
		TracesSampleRate: cfg.Sentry.TracesSampleRate,
		AttachStacktrace: true,
		BeforeSend:       scrubEvent,
	})
	if err != nil {
		return fmt.Errorf("initialize sentry: %w", err)
	}
	return nil
}

// Flush waits up to timeout for buffered events to be sent
func Flush(timeout time.Duration) bool {
	return sentry.Flush(timeout)
}

// CaptureErrorWithContext reports err with tags and extras on a scoped hub. The correlation
// id, booking id and trace id carried by ctx are attached as tags.
func CaptureErrorWithContext(ctx context.Context, err error, tags map[string]string, extras map[string]interface{}) *sentry.EventID {
	if err == nil {
		return nil
	}

	hub := Hub(ctx)
	var id *sentry.EventID
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(Level(http.StatusInternalServerError, err))
		scope.SetTags(tags)
		for k, v := range extras {
			scope.SetExtra(k, v)
		}
		TagFromContext(ctx, scope)
		id = hub.CaptureException(err)
	})
	return id
}

// Hub returns the request's hub, or a clone of the global one for background work
func Hub(ctx context.Context) *sentry.Hub {
	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		return hub
	}
	return sentry.CurrentHub().Clone()
}

// TagFromContext copies request identifiers from ctx onto scope
func TagFromContext(ctx context.Context, scope *sentry.Scope) {
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		scope.SetTag("correlation_id", id)
	}
	if id := logger.BookingIDFromContext(ctx); id != "" {
		scope.SetTag("booking_id", id)
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		scope.SetTag("trace_id", sc.TraceID().String())
	}
}

// ShouldReportError reports whether err, answered with statusCode, belongs in Sentry.
// Ledger invariant breaches are reported even though they answer 409.
func ShouldReportError(err error, statusCode int) bool {
	switch {
	case err == nil:
		return false
	case common.IsHighSeverity(err):
		return true
	case isExpected(err):
		return false
	case statusCode == http.StatusTooManyRequests:
		return true
	default:
		return statusCode < 400 || statusCode >= 500
	}
}

// Level maps a response status and error to a Sentry level
func Level(statusCode int, err error) sentry.Level {
	switch {
	case statusCode >= 500, err != nil && common.IsHighSeverity(err):
		return sentry.LevelError
	case statusCode == http.StatusTooManyRequests:
		return sentry.LevelWarning
	default:
		return sentry.LevelInfo
	}
}

func isExpected(err error) bool {
	if common.IsHighSeverity(err) {
		return false
	}
	var appErr *common.AppError
	if stderrors.As(err, &appErr) && appErr.Code < http.StatusInternalServerError {
		return true
	}
	for _, target := range expected {
		if stderrors.Is(err, target) {
			return true
		}
	}
	return false
}

// scrubEvent drops chatter and keeps credentials and phone numbers out of Sentry
func scrubEvent(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	if event.Level == sentry.LevelInfo || event.Level == sentry.LevelDebug {
		return nil
	}

	event.Message = security.MaskPhonesInText(event.Message)
	for i := range event.Exception {
		event.Exception[i].Value = security.MaskPhonesInText(event.Exception[i].Value)
	}
	if event.Request != nil {
		for _, h := range redactedHeaders {
			if _, ok := event.Request.Headers[h]; ok {
				event.Request.Headers[h] = "[REDACTED]"
			}
		}
		event.Request.Data = security.MaskPhonesInText(event.Request.Data)
		event.Request.Cookies = ""
	}
	return event
}
