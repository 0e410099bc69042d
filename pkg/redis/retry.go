package redis

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/richxcame/escrow-settlement/pkg/resilience"
)

func retryPolicy() resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig()
	cfg.MaxAttempts = 3
	cfg.InitialBackoff = 50 * time.Millisecond
	cfg.MaxBackoff = time.Second
	cfg.RetryableChecker = isRetryable
	return cfg
}

func withRetry[T any](ctx context.Context, name string, op func(context.Context) (T, error)) (T, error) {
	result, err := resilience.RetryWithName(ctx, retryPolicy(), func(ctx context.Context) (interface{}, error) {
		return op(ctx)
	}, name)
	if err != nil {
		var zero T
		return zero, err
	}
	value, _ := result.(T)
	return value, nil
}

// server replies Redis sends while it cannot serve yet
var busyReplies = []string{"LOADING", "TRYAGAIN", "BUSY", "CLUSTERDOWN", "MASTERDOWN"}

func isRetryable(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, ErrCacheMiss),
		errors.Is(err, redis.Nil),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := err.Error()
	for _, prefix := range busyReplies {
		if strings.HasPrefix(msg, prefix+" ") {
			return true
		}
	}

	msg = strings.ToLower(msg)
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "pool timeout")
}
