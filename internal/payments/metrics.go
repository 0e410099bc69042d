package payments

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transactionsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_transactions_created_total",
			Help: "Gateway transactions created, by type",
		},
		[]string{"type"},
	)

	transactionsSettled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_transactions_settled_total",
			Help: "Gateway transactions reaching a final or timeout status, by type and status",
		},
		[]string{"type", "status"},
	)

	initiationsQueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_initiations_queued_total",
			Help: "Gateway initiations deferred to the reconciler because the gateway was unavailable",
		},
		[]string{"type"},
	)

	duplicateResults = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "payments_duplicate_results_total",
			Help: "Gateway results ignored because the transaction was already final",
		},
	)
)
