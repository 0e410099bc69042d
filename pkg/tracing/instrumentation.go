package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Settlement span attributes
const (
	BookingIDKey     = attribute.Key("booking.id")
	DriverIDKey      = attribute.Key("driver.id")
	TransactionIDKey = attribute.Key("transaction.id")
	TransactionType  = attribute.Key("transaction.type")
	AmountKey        = attribute.Key("amount.kes")
	EscrowStateKey   = attribute.Key("escrow.state")
)

// TraceBusinessLogic runs fn in an internal span
func TraceBusinessLogic(ctx context.Context, tracerName, operation string, attrs []attribute.KeyValue, fn func(context.Context) error) error {
	ctx, span := StartSpan(ctx, tracerName, operation,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	defer span.End()
	return finish(span, fn(ctx))
}

// TraceExternalAPI runs fn in a client span named service.operation
func TraceExternalAPI(ctx context.Context, tracerName, service, operation string, fn func(context.Context) error) error {
	ctx, span := StartSpan(ctx, tracerName, service+"."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("external.service", service),
			attribute.String("external.operation", operation),
		),
	)
	defer span.End()
	return finish(span, fn(ctx))
}

// TraceHTTPClient runs an outbound request in a client span. A 4xx or 5xx status marks the
// span failed even when fn returns no error.
func TraceHTTPClient(ctx context.Context, tracerName, method, url string, fn func(context.Context) (int, error)) (int, error) {
	ctx, span := StartSpan(ctx, tracerName, "HTTP "+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.url", url),
		),
	)
	defer span.End()

	status, err := fn(ctx)
	span.SetAttributes(attribute.Int("http.status_code", status))
	if err == nil && status >= 400 {
		span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", status))
		return status, nil
	}
	return status, finish(span, err)
}

func finish(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// EscrowAttributes builds attributes for escrow transitions
func EscrowAttributes(bookingID, driverID, state string) []attribute.KeyValue {
	return nonEmpty(BookingIDKey.String(bookingID), DriverIDKey.String(driverID), EscrowStateKey.String(state))
}

// TransactionAttributes builds attributes for gateway transactions
func TransactionAttributes(transactionID, txType string, amount int64) []attribute.KeyValue {
	attrs := nonEmpty(TransactionIDKey.String(transactionID), TransactionType.String(txType))
	if amount > 0 {
		attrs = append(attrs, AmountKey.Int64(amount))
	}
	return attrs
}

func nonEmpty(kvs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(kvs))
	for _, kv := range kvs {
		if kv.Value.AsString() != "" {
			out = append(out, kv)
		}
	}
	return out
}
