package ledger

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	entriesRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_entries_recorded_total",
			Help: "Ledger entries written, by kind and initial status",
		},
		[]string{"kind", "status"},
	)

	entriesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_entries_rejected_total",
			Help: "Ledger entries refused before insert, by kind and reason",
		},
		[]string{"kind", "reason"},
	)

	entryTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_entry_transitions_total",
			Help: "Ledger entry status changes after insert",
		},
		[]string{"kind", "to"},
	)
)

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrOverRelease):
		return "over_release"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrDuplicateCallback):
		return "duplicate"
	default:
		return "error"
	}
}
