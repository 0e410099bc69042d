package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:       attempts,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        2 * time.Millisecond,
		BackoffMultiplier: 2,
	}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	result, err := RetryWithName(context.Background(), fastConfig(3), func(context.Context) (interface{}, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("transient")
		}
		return "done", nil
	}, "test.transient")

	require.NoError(t, err)
	assert.Equal(t, "done", result)
	assert.Equal(t, 3, calls)
}

func TestRetry_StopsOnNonRetryableError(t *testing.T) {
	permanent := errors.New("permanent")
	cfg := fastConfig(5)
	cfg.RetryableChecker = func(err error) bool { return !errors.Is(err, permanent) }

	calls := 0
	_, err := Retry(context.Background(), cfg, func(context.Context) (interface{}, error) {
		calls++
		return nil, permanent
	})

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestRetry_DoesNotRetryOpenBreaker(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastConfig(4), func(context.Context) (interface{}, error) {
		calls++
		return nil, ErrCircuitOpen
	})

	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 1, calls)
}

func TestRetry_HonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Retry(ctx, fastConfig(3), func(context.Context) (interface{}, error) {
		t.Fatal("operation must not run")
		return nil, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackoff(t *testing.T) {
	cfg := RetryConfig{
		InitialBackoff:    5 * time.Second,
		MaxBackoff:        60 * time.Second,
		BackoffMultiplier: 2,
	}

	assert.Equal(t, 5*time.Second, Backoff(1, cfg))
	assert.Equal(t, 10*time.Second, Backoff(2, cfg))
	assert.Equal(t, 40*time.Second, Backoff(4, cfg))
	assert.Equal(t, 60*time.Second, Backoff(10, cfg))
	assert.Equal(t, 5*time.Second, Backoff(0, cfg))

	cfg.EnableJitter = true
	for i := 0; i < 20; i++ {
		d := Backoff(3, cfg)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.Less(t, d, 20*time.Second)
	}
}

func TestIsRetryableHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsRetryableHTTPStatus(code), code)
	}
	for _, code := range []int{200, 400, 401, 404, 409} {
		assert.False(t, IsRetryableHTTPStatus(code), code)
	}
}

func TestRetry_CancelledDuringBackoff(t *testing.T) {
	// Arrange
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastConfig(3)
	cfg.InitialBackoff = time.Hour
	cfg.MaxBackoff = time.Hour
	calls := 0

	// Act
	_, err := Retry(ctx, cfg, func(context.Context) (interface{}, error) {
		calls++
		cancel()
		return nil, errors.New("gateway 503")
	})

	// Assert
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
