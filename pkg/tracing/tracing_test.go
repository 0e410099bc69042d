package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
)

func installRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(previous) })
	return recorder
}

func TestInitTracer_Disabled(t *testing.T) {
	tp, err := InitTracer(Config{Enabled: false}, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, tp)
}

func TestTraceBusinessLogic_RecordsError(t *testing.T) {
	recorder := installRecorder(t)
	boom := errors.New("over release")

	err := TraceBusinessLogic(context.Background(), "escrow", "escrow.release",
		EscrowAttributes("b-1", "d-1", "held"),
		func(ctx context.Context) error {
			assert.NotEmpty(t, TraceID(ctx))
			return boom
		})

	assert.ErrorIs(t, err, boom)
	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "escrow.release", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}

func TestTraceHTTPClient_MarksHTTPErrors(t *testing.T) {
	recorder := installRecorder(t)

	status, err := TraceHTTPClient(context.Background(), "mpesa", "POST", "https://sandbox/stk", func(context.Context) (int, error) {
		return 503, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 503, status)
	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "HTTP POST", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}

func TestTraceExternalAPI_Ok(t *testing.T) {
	recorder := installRecorder(t)

	err := TraceExternalAPI(context.Background(), "mpesa", "daraja", "stk_push", func(context.Context) error {
		return nil
	})

	require.NoError(t, err)
	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "daraja.stk_push", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
}

func TestSampleRate(t *testing.T) {
	assert.Equal(t, 0.25, sampleRate(Config{SampleRate: 0.25, Environment: "production"}))
	assert.Equal(t, 1.0, sampleRate(Config{SampleRate: 4}))
	assert.Equal(t, 0.1, sampleRate(Config{Environment: "production"}))
	assert.Equal(t, 1.0, sampleRate(Config{Environment: "development"}))
}

func TestInitTracer_RequiresEndpoint(t *testing.T) {
	_, err := InitTracer(Config{Enabled: true, ServiceName: "settlement"}, zap.NewNop())
	assert.Error(t, err)
}

func TestTransactionAttributes(t *testing.T) {
	attrs := TransactionAttributes("tx-1", "payout", 1000)
	assert.Len(t, attrs, 3)

	assert.Empty(t, TransactionAttributes("", "", 0))
	assert.Len(t, EscrowAttributes("b", "", ""), 1)
}

func TestTraceID_NoSpan(t *testing.T) {
	assert.Empty(t, TraceID(context.Background()))
}
