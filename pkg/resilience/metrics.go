package resilience

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"
)

const metricsNamespace = "resilience"

var (
	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "breaker_state",
		Help:      "Breaker state per upstream (0 closed, 0.5 half-open, 1 open)",
	}, []string{"breaker"})

	breakerCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "breaker_calls_total",
		Help:      "Calls routed through a breaker by outcome (success, failure, rejected)",
	}, []string{"breaker", "outcome"})

	breakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "breaker_transitions_total",
		Help:      "Breaker state changes",
	}, []string{"breaker", "from", "to"})

	retryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "retry_attempts_total",
		Help:      "Individual attempts made by retried operations",
	}, []string{"operation", "result"})

	retryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "retry_operation_seconds",
		Help:      "Wall time of retried operations across all attempts and backoff",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
	}, []string{"operation", "result"})
)

func stateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 0.5
	case gobreaker.StateOpen:
		return 1
	}
	return -1
}

func observeTransition(name string, from, to gobreaker.State) {
	breakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
	breakerState.WithLabelValues(name).Set(stateValue(to))
}

func observeCall(name, outcome string) {
	breakerCalls.WithLabelValues(name, outcome).Inc()
}

func observeAttempt(operation string, err error) {
	retryAttempts.WithLabelValues(operation, result(err)).Inc()
}

func observeOperation(operation string, started time.Time, err error) {
	retryDuration.WithLabelValues(operation, result(err)).Observe(time.Since(started).Seconds())
}

func result(err error) string {
	if err == nil {
		return "success"
	}
	return "failure"
}
