package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/richxcame/escrow-settlement/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func installRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(previous) })
	return recorder
}

func spanAttr(attrs []attribute.KeyValue, key string) string {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value.Emit()
		}
	}
	return ""
}

func TestTracingMiddleware_RecordsServerSpan(t *testing.T) {
	recorder := installRecorder(t)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(CorrelationID())
	router.Use(TracingMiddleware("tracing-test"))
	router.GET("/api/v1/payment-status/:transaction_id", func(c *gin.Context) {
		c.Status(http.StatusInternalServerError)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/payment-status/abc", nil))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /api/v1/payment-status/:transaction_id", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "abc", spanAttr(spans[0].Attributes(), "settlement.transaction_id"))
	assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))
}

func TestTracingMiddleware_TagsBookingForLogs(t *testing.T) {
	recorder := installRecorder(t)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(TracingMiddleware("tracing-test"))

	var seen string
	router.POST("/api/v1/bookings/:booking_id/complete", func(c *gin.Context) {
		seen = logger.BookingIDFromContext(c.Request.Context())
		c.Status(http.StatusConflict)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/bookings/bk-7/complete", nil))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "bk-7", seen)
	assert.Equal(t, "bk-7", spanAttr(spans[0].Attributes(), "settlement.booking_id"))
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
}
