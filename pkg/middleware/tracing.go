package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/richxcame/escrow-settlement/pkg/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// path parameters copied onto the server span
var settlementParams = map[string]string{
	"booking_id":     "settlement.booking_id",
	"transaction_id": "settlement.transaction_id",
	"driver_id":      "settlement.driver_id",
}

// TracingMiddleware opens a server span per request, continuing any propagated trace. Booking,
// transaction and driver IDs in the route become span attributes, and the booking ID also
// tags the request's log lines.
func TracingMiddleware(serviceName string) gin.HandlerFunc {
	tracer := otel.Tracer(serviceName)
	propagator := otel.GetTextMapPropagator()

	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		ctx := propagator.Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, c.Request.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", c.Request.Method),
				attribute.String("http.route", route),
				attribute.String("http.client_ip", c.ClientIP()),
			),
		)
		defer span.End()

		for param, key := range settlementParams {
			if v := c.Param(param); v != "" {
				span.SetAttributes(attribute.String(key, v))
			}
		}
		if bookingID := c.Param("booking_id"); bookingID != "" {
			ctx = logger.ContextWithBookingID(ctx, bookingID)
		}
		if id := c.GetString(CorrelationIDKey); id != "" {
			span.SetAttributes(attribute.String("http.request_id", id))
		}
		if span.SpanContext().HasTraceID() {
			c.Header("X-Trace-ID", span.SpanContext().TraceID().String())
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.status_code", status))
		if userID, err := GetUserID(c); err == nil {
			span.SetAttributes(attribute.String("enduser.id", userID.String()))
		}

		for _, e := range c.Errors {
			span.RecordError(e.Err)
		}
		switch {
		case status >= http.StatusInternalServerError:
			span.SetStatus(codes.Error, http.StatusText(status))
		case status < http.StatusBadRequest:
			span.SetStatus(codes.Ok, "")
		}
	}
}
