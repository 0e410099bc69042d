package reconciler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transactionsClaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reconciler_transactions_claimed_total",
			Help: "Pending gateway transactions claimed for polling",
		},
	)

	transactionsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciler_transactions_processed_total",
			Help: "Reconciler outcomes per claimed transaction",
		},
		[]string{"type", "outcome"},
	)

	batchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reconciler_batch_duration_seconds",
			Help:    "Time spent processing one claimed batch",
			Buckets: prometheus.DefBuckets,
		},
	)
)

const (
	outcomeApplied     = "applied"
	outcomeDuplicate   = "duplicate"
	outcomePending     = "pending"
	outcomeUnavailable = "unavailable"
	outcomeReinitiated = "reinitiated"
	outcomeRejected    = "rejected"
	outcomeTimeout     = "timeout"
	outcomeError       = "error"
)
