package models

import (
	"time"

	"github.com/google/uuid"
)

// EscrowState represents the lifecycle state of a booking's escrow
type EscrowState string

const (
	EscrowAwaitingPayment EscrowState = "awaiting_payment"
	EscrowHeld            EscrowState = "held"
	EscrowReleased        EscrowState = "released"
	EscrowRefunded        EscrowState = "refunded"
	EscrowDisputed        EscrowState = "disputed"
)

// IsTerminal reports whether no further transition is allowed
func (s EscrowState) IsTerminal() bool {
	return s == EscrowReleased || s == EscrowRefunded
}

// EscrowAccount tracks the money held for a single booking
type EscrowAccount struct {
	BookingID      uuid.UUID   `json:"booking_id" db:"booking_id"`
	CustomerID     uuid.UUID   `json:"customer_id" db:"customer_id"`
	DriverID       uuid.UUID   `json:"driver_id" db:"driver_id"`
	State          EscrowState `json:"state" db:"state"`
	HeldAmount     int64       `json:"held_amount" db:"held_amount"`
	GrossAmount    int64       `json:"gross_amount" db:"gross_amount"`
	DiscountAmount int64       `json:"discount_amount" db:"discount_amount"`
	PromoCode      *string     `json:"promo_code,omitempty" db:"promo_code"`
	Pickup         string      `json:"pickup" db:"pickup"`
	Dropoff        string      `json:"dropoff" db:"dropoff"`
	DistanceKm     float64     `json:"distance_km" db:"distance_km"`
	DisputeReason  *string     `json:"dispute_reason,omitempty" db:"dispute_reason"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at" db:"updated_at"`
	ReleasedAt     *time.Time  `json:"released_at,omitempty" db:"released_at"`
	RefundedAt     *time.Time  `json:"refunded_at,omitempty" db:"refunded_at"`
}

// EscrowSummary aggregates the admin escrow view
type EscrowSummary struct {
	HeldCount         int   `json:"held_count"`
	ReleasedCount     int   `json:"released_count"`
	RefundedCount     int   `json:"refunded_count"`
	DisputedCount     int   `json:"disputed_count"`
	TotalHeld         int64 `json:"total_held"`
	TotalPlatformFees int64 `json:"total_platform_fees"`
}

// EscrowFilter narrows admin escrow listings
type EscrowFilter struct {
	State    *EscrowState
	DriverID *uuid.UUID
}

// EscrowAudit compares the running held amount with the ledger
type EscrowAudit struct {
	BookingID    uuid.UUID             `json:"booking_id"`
	State        EscrowState           `json:"state"`
	HeldAmount   int64                 `json:"held_amount"`
	LedgerHeld   int64                 `json:"ledger_held"`
	Consistent   bool                  `json:"consistent"`
	Entries      []*LedgerEntry        `json:"entries"`
	Transactions []*PaymentTransaction `json:"transactions"`
}
