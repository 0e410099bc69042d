package models

import (
	"time"

	"github.com/google/uuid"
)

// Party identifies who a ledger entry belongs to
type Party string

const (
	PartyCustomer Party = "customer"
	PartyDriver   Party = "driver"
	PartyPlatform Party = "platform"
)

// EntryKind represents the kind of monetary movement
type EntryKind string

const (
	EntryKindHold       EntryKind = "hold"
	EntryKindRelease    EntryKind = "release"
	EntryKindRefund     EntryKind = "refund"
	EntryKindWithdrawal EntryKind = "withdrawal"
	EntryKindFee        EntryKind = "fee"
	EntryKindDeposit    EntryKind = "deposit"
)

// EntryStatus represents ledger entry status
type EntryStatus string

const (
	EntryStatusPending   EntryStatus = "pending"
	EntryStatusCompleted EntryStatus = "completed"
	EntryStatusFailed    EntryStatus = "failed"
	EntryStatusReversed  EntryStatus = "reversed"
)

// LedgerEntry is an immutable monetary movement. Only Status, Reason and UpdatedAt change after insert.
type LedgerEntry struct {
	ID          uuid.UUID   `json:"entry_id" db:"id"`
	BookingID   *uuid.UUID  `json:"booking_id,omitempty" db:"booking_id"`
	Party       Party       `json:"party" db:"party"`
	PartyID     *uuid.UUID  `json:"party_id,omitempty" db:"party_id"`
	Kind        EntryKind   `json:"kind" db:"kind"`
	Amount      int64       `json:"amount" db:"amount"`
	Status      EntryStatus `json:"status" db:"status"`
	ExternalRef *string     `json:"external_ref,omitempty" db:"external_ref"`
	Reason      *string     `json:"reason,omitempty" db:"reason"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at" db:"updated_at"`
}

// HasEffect reports whether the entry currently contributes to balances
func (e *LedgerEntry) HasEffect() bool {
	if e.Kind == EntryKindDeposit {
		return e.Status == EntryStatusCompleted
	}
	return e.Status == EntryStatusPending || e.Status == EntryStatusCompleted
}

// DriverWallet holds the running totals for a driver account
type DriverWallet struct {
	DriverID             uuid.UUID `json:"driver_id" db:"driver_id"`
	AvailableBalance     int64     `json:"available_balance" db:"available_balance"`
	PendingEscrowBalance int64     `json:"pending_escrow_balance" db:"pending_escrow_balance"`
	CreatedAt            time.Time `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time `json:"updated_at" db:"updated_at"`
}

// Balance is the read model returned by the ledger for a party
type Balance struct {
	PartyID   uuid.UUID `json:"party_id"`
	Available int64     `json:"available_balance"`
	Pending   int64     `json:"pending_escrow_balance"`
	Currency  string    `json:"currency"`
}

// Currency is the single currency the engine settles in
const Currency = "KES"
