package mpesa

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/richxcame/escrow-settlement/pkg/common"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mpesa_requests_total",
			Help: "Daraja API calls by operation and outcome",
		},
		[]string{"operation", "result"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mpesa_request_duration_seconds",
			Help:    "Daraja API call latency including retries",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"operation"},
	)

	callbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mpesa_callbacks_total",
			Help: "Asynchronous Daraja results parsed, by kind and status",
		},
		[]string{"kind", "status"},
	)
)

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrRequestRejected):
		return "rejected"
	case errors.Is(err, common.ErrGatewayUnavailable):
		return "unavailable"
	case errors.Is(err, common.ErrAmountOutOfRange), errors.Is(err, common.ErrValidation):
		return "invalid"
	default:
		return "error"
	}
}
