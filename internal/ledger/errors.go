package ledger

import (
	"fmt"

	"github.com/richxcame/escrow-settlement/pkg/common"
)

var (
	ErrInvalidAmount       = fmt.Errorf("ledger: %w", common.ErrInvalidAmount)
	ErrOverRelease         = fmt.Errorf("ledger: %w", common.ErrOverRelease)
	ErrInsufficientBalance = fmt.Errorf("ledger: %w", common.ErrInsufficientBalance)
	ErrDuplicateCallback   = fmt.Errorf("ledger: %w", common.ErrDuplicateCallback)
	// ErrNotReversible is returned when reversing an entry that is completed or already reversed.
	ErrNotReversible = fmt.Errorf("ledger: entry not reversible: %w", common.ErrInvalidStateTransition)
	// ErrNotPending is returned when settling an entry that already left pending.
	ErrNotPending = fmt.Errorf("ledger: entry not pending: %w", common.ErrInvalidStateTransition)
)
