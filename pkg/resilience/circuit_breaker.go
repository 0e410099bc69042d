package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/richxcame/escrow-settlement/pkg/config"
	"github.com/richxcame/escrow-settlement/pkg/logger"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrCircuitOpen is returned for calls the breaker refuses
var ErrCircuitOpen = errors.New("circuit breaker open")

// Operation is a call guarded by a breaker or a retry loop
type Operation func(ctx context.Context) (interface{}, error)

// FallbackFunc answers calls the breaker refuses
type FallbackFunc func(ctx context.Context, err error) (interface{}, error)

// ErrorFallback answers every refused call with err, letting callers map an open breaker onto
// their own error type
func ErrorFallback(err error) FallbackFunc {
	return func(context.Context, error) (interface{}, error) {
		return nil, err
	}
}

// Settings configures one breaker
type Settings struct {
	Name string
	// Interval clears the closed-state counts; zero never clears them
	Interval time.Duration
	// Timeout is how long the breaker stays open before probing
	Timeout          time.Duration
	FailureThreshold uint32
	SuccessThreshold uint32
	// IsSuccessful keeps caller mistakes such as validation errors from tripping the breaker
	IsSuccessful func(err error) bool
}

// SettingsFromConfig resolves the breaker settings of one upstream
func SettingsFromConfig(name string, cfg config.CircuitBreakerConfig) Settings {
	s := cfg.SettingsFor(name)
	return Settings{
		Name:             name,
		Interval:         time.Duration(s.IntervalSeconds) * time.Second,
		Timeout:          time.Duration(s.TimeoutSeconds) * time.Second,
		FailureThreshold: uint32(s.FailureThreshold),
		SuccessThreshold: uint32(s.SuccessThreshold),
	}
}

// CircuitBreaker is a gobreaker breaker that reports its state to logs and metrics
type CircuitBreaker struct {
	name     string
	cb       *gobreaker.CircuitBreaker
	fallback FallbackFunc
}

// NewCircuitBreaker builds a breaker that opens after FailureThreshold consecutive failures
// (five when unset). fallback may be nil.
func NewCircuitBreaker(settings Settings, fallback FallbackFunc) *CircuitBreaker {
	name := settings.Name
	if name == "" {
		name = "default"
	}
	threshold := settings.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: settings.SuccessThreshold,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			observeTransition(name, from, to)
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: settings.IsSuccessful,
	})
	breakerState.WithLabelValues(name).Set(stateValue(gobreaker.StateClosed))

	return &CircuitBreaker{name: name, cb: cb, fallback: fallback}
}

// Name is the label used in logs and metrics
func (c *CircuitBreaker) Name() string {
	if c == nil {
		return ""
	}
	return c.name
}

// Execute runs operation unless the breaker is open. A nil breaker runs it directly.
func (c *CircuitBreaker) Execute(ctx context.Context, operation Operation) (interface{}, error) {
	if operation == nil {
		return nil, errors.New("resilience: nil operation")
	}
	if c == nil || c.cb == nil {
		return operation(ctx)
	}

	result, err := c.cb.Execute(func() (interface{}, error) {
		return operation(ctx)
	})
	switch {
	case err == nil:
		observeCall(c.name, "success")
		return result, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		observeCall(c.name, "rejected")
		if c.fallback != nil {
			return c.fallback(ctx, err)
		}
		return nil, ErrCircuitOpen
	default:
		observeCall(c.name, "failure")
		return nil, err
	}
}

// Allow reports whether a call would currently be let through
func (c *CircuitBreaker) Allow() bool {
	return c == nil || c.cb == nil || c.cb.State() != gobreaker.StateOpen
}

// State is closed, half-open or open
func (c *CircuitBreaker) State() string {
	if c == nil || c.cb == nil {
		return gobreaker.StateClosed.String()
	}
	return c.cb.State().String()
}
