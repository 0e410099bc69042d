package logger

import (
	"context"
	"os"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var global atomic.Pointer[zap.Logger]

type ctxKey int

const (
	correlationIDKey ctxKey = iota
	bookingIDKey
)

// Init builds the process logger: JSON with ISO8601 timestamps in production, coloured console
// output elsewhere. LOG_LEVEL overrides the level.
func Init(environment, serviceName string) error {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if environment == "production" {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	if raw := strings.TrimSpace(os.Getenv("LOG_LEVEL")); raw != "" {
		if lvl, err := zapcore.ParseLevel(raw); err == nil {
			cfg.Level = zap.NewAtomicLevelAt(lvl)
		}
	}

	l, err := cfg.Build()
	if err != nil {
		return err
	}
	if serviceName != "" {
		l = l.With(zap.String("service", serviceName))
	}
	Set(l)
	return nil
}

// Set replaces the process logger; tests install an observer core with it
func Set(l *zap.Logger) {
	global.Store(l)
}

// Get returns the process logger, creating a development logger on first use
func Get() *zap.Logger {
	if l := global.Load(); l != nil {
		return l
	}
	dev, _ := zap.NewDevelopment()
	global.CompareAndSwap(nil, dev)
	return global.Load()
}

// WithContext adds the request's correlation ID, booking ID and trace ID when ctx carries them
func WithContext(ctx context.Context) *zap.Logger {
	l := Get()
	if ctx == nil {
		return l
	}

	fields := make([]zap.Field, 0, 3)
	if id := CorrelationIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("correlation_id", id))
	}
	if id := BookingIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("booking_id", id))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		fields = append(fields, zap.String("trace_id", sc.TraceID().String()))
	}
	if len(fields) == 0 {
		return l
	}
	return l.With(fields...)
}

// ContextWithCorrelationID stores the request correlation ID in ctx
func ContextWithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return withValue(ctx, correlationIDKey, correlationID)
}

// ContextWithBookingID tags log lines written for ctx with a booking
func ContextWithBookingID(ctx context.Context, bookingID string) context.Context {
	return withValue(ctx, bookingIDKey, bookingID)
}

// CorrelationIDFromContext returns the correlation ID stored in ctx, if any
func CorrelationIDFromContext(ctx context.Context) string {
	return stringValue(ctx, correlationIDKey)
}

// BookingIDFromContext returns the booking ID stored in ctx, if any
func BookingIDFromContext(ctx context.Context) string {
	return stringValue(ctx, bookingIDKey)
}

func withValue(ctx context.Context, key ctxKey, value string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, key, value)
}

func stringValue(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}

func Debug(msg string, fields ...zap.Field) { Get().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { Get().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { Get().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { Get().Error(msg, fields...) }

// Fatal logs and exits the process
func Fatal(msg string, fields ...zap.Field) { Get().Fatal(msg, fields...) }

func DebugContext(ctx context.Context, msg string, fields ...zap.Field) {
	WithContext(ctx).Debug(msg, fields...)
}

func InfoContext(ctx context.Context, msg string, fields ...zap.Field) {
	WithContext(ctx).Info(msg, fields...)
}

func WarnContext(ctx context.Context, msg string, fields ...zap.Field) {
	WithContext(ctx).Warn(msg, fields...)
}

func ErrorContext(ctx context.Context, msg string, fields ...zap.Field) {
	WithContext(ctx).Error(msg, fields...)
}

// Sync flushes buffered entries
func Sync() error {
	if l := global.Load(); l != nil {
		return l.Sync()
	}
	return nil
}
