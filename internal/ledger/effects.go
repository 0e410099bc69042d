package ledger

import (
	"github.com/richxcame/escrow-settlement/pkg/models"
)

// Delta is the change an entry makes to the running totals while it has effect.
type Delta struct {
	EscrowHeld      int64
	WalletAvailable int64
	WalletPending   int64
	PlatformFees    int64
}

// EffectOf returns the balance change of an entry of the given kind and amount.
func EffectOf(kind models.EntryKind, amount int64) Delta {
	switch kind {
	case models.EntryKindHold:
		return Delta{EscrowHeld: amount, WalletPending: amount}
	case models.EntryKindRelease:
		return Delta{EscrowHeld: -amount, WalletPending: -amount, WalletAvailable: amount}
	case models.EntryKindRefund:
		return Delta{EscrowHeld: -amount, WalletPending: -amount}
	case models.EntryKindFee:
		return Delta{WalletAvailable: -amount, PlatformFees: amount}
	case models.EntryKindWithdrawal:
		return Delta{WalletAvailable: -amount}
	case models.EntryKindDeposit:
		return Delta{WalletAvailable: amount}
	default:
		return Delta{}
	}
}

// Negate returns the delta that undoes d.
func (d Delta) Negate() Delta {
	return Delta{
		EscrowHeld:      -d.EscrowHeld,
		WalletAvailable: -d.WalletAvailable,
		WalletPending:   -d.WalletPending,
		PlatformFees:    -d.PlatformFees,
	}
}

// Add combines two deltas.
func (d Delta) Add(o Delta) Delta {
	return Delta{
		EscrowHeld:      d.EscrowHeld + o.EscrowHeld,
		WalletAvailable: d.WalletAvailable + o.WalletAvailable,
		WalletPending:   d.WalletPending + o.WalletPending,
		PlatformFees:    d.PlatformFees + o.PlatformFees,
	}
}

// TouchesEscrow reports whether entries of this kind are scoped to a booking.
func TouchesEscrow(kind models.EntryKind) bool {
	switch kind {
	case models.EntryKindHold, models.EntryKindRelease, models.EntryKindRefund, models.EntryKindFee:
		return true
	default:
		return false
	}
}

// Snapshot is the locked state an entry is checked against.
type Snapshot struct {
	EscrowHeld      int64
	WalletAvailable int64
}

// Check validates an entry against the locked totals it is about to change.
func Check(entry *models.LedgerEntry, snap Snapshot) error {
	if entry.Amount <= 0 {
		return ErrInvalidAmount
	}

	switch entry.Kind {
	case models.EntryKindRelease, models.EntryKindRefund:
		if entry.Amount > snap.EscrowHeld {
			return ErrOverRelease
		}
	case models.EntryKindWithdrawal, models.EntryKindFee:
		if entry.Amount > snap.WalletAvailable {
			return ErrInsufficientBalance
		}
	}

	return nil
}

// HeldFromEntries recomputes the outstanding hold of a booking from its entries.
func HeldFromEntries(entries []*models.LedgerEntry) int64 {
	var held int64
	for _, e := range entries {
		if !e.HasEffect() {
			continue
		}
		held += EffectOf(e.Kind, e.Amount).EscrowHeld
	}
	return held
}

// FeeAmount returns the platform fee for an amount in basis points, rounded down.
func FeeAmount(amount, bps int64) int64 {
	if amount <= 0 || bps <= 0 {
		return 0
	}
	return amount * bps / 10000
}
