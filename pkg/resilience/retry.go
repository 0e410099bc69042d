package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/richxcame/escrow-settlement/pkg/logger"
	"go.uber.org/zap"
)

// RetryConfig controls exponential backoff retries
type RetryConfig struct {
	// MaxAttempts counts the first call
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	// EnableJitter draws each delay uniformly from [0, backoff)
	EnableJitter bool
	// RetryableChecker overrides the default policy, which retries everything except
	// context errors and an open breaker
	RetryableChecker func(error) bool
}

// DefaultRetryConfig is three attempts starting at one second, doubling up to thirty seconds
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2,
		EnableJitter:      true,
	}
}

// Retry runs operation under config without an operation label
func Retry(ctx context.Context, config RetryConfig, operation Operation) (interface{}, error) {
	return RetryWithName(ctx, config, operation, "unnamed")
}

// RetryWithName runs operation until it succeeds, returns a non-retryable error, runs out of
// attempts or ctx ends. The last operation error is returned unwrapped.
func RetryWithName(ctx context.Context, config RetryConfig, operation Operation, operationName string) (result interface{}, err error) {
	started := time.Now()
	defer func() { observeOperation(operationName, started, err) }()

	attempts := max(config.MaxAttempts, 1)
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err = operation(ctx)
		observeAttempt(operationName, err)
		if err == nil {
			if attempt > 1 {
				logger.InfoContext(ctx, "operation recovered after retry",
					zap.String("operation", operationName),
					zap.Int("attempt", attempt),
				)
			}
			return result, nil
		}

		if !retryable(err, config) {
			return nil, err
		}
		if attempt >= attempts {
			logger.WarnContext(ctx, "operation failed after all attempts",
				zap.String("operation", operationName),
				zap.Int("attempts", attempt),
				zap.Error(err),
			)
			return nil, err
		}

		delay := Backoff(attempt, config)
		logger.DebugContext(ctx, "retrying operation",
			zap.String("operation", operationName),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// RetryWithBreaker retries operation with every attempt passing through breaker
func RetryWithBreaker(ctx context.Context, config RetryConfig, breaker *CircuitBreaker, operation Operation, operationName string) (interface{}, error) {
	return RetryWithName(ctx, config, func(ctx context.Context) (interface{}, error) {
		return breaker.Execute(ctx, operation)
	}, operationName)
}

// Backoff is the delay after the given 1-based attempt: InitialBackoff grown by
// BackoffMultiplier per attempt and capped at MaxBackoff, jittered when enabled
func Backoff(attempt int, config RetryConfig) time.Duration {
	growth := math.Pow(max(config.BackoffMultiplier, 1), float64(max(attempt, 1)-1))
	delay := float64(config.InitialBackoff) * growth
	if config.MaxBackoff > 0 {
		delay = math.Min(delay, float64(config.MaxBackoff))
	}

	d := time.Duration(delay)
	if config.EnableJitter && d > 0 {
		d = rand.N(d)
	}
	return d
}

// IsRetryableHTTPStatus reports whether an upstream status is worth another attempt
func IsRetryableHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func retryable(err error, config RetryConfig) bool {
	if config.RetryableChecker != nil {
		return config.RetryableChecker(err)
	}
	return !errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded) &&
		!errors.Is(err, ErrCircuitOpen)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
