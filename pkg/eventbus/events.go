package eventbus

import (
	"time"

	"github.com/google/uuid"
)

// RideCompletedData is emitted by the rides service when the driver finishes a trip.
// RideID is the booking the escrow was opened for.
type RideCompletedData struct {
	RideID      uuid.UUID `json:"ride_id"`
	RiderID     uuid.UUID `json:"rider_id"`
	DriverID    uuid.UUID `json:"driver_id"`
	DistanceKm  float64   `json:"distance_km"`
	CompletedAt time.Time `json:"completed_at"`
}

// RideCancelledData is emitted by the rides service when a ride is cancelled.
type RideCancelledData struct {
	RideID      uuid.UUID `json:"ride_id"`
	RiderID     uuid.UUID `json:"rider_id"`
	DriverID    uuid.UUID `json:"driver_id"`    // zero if not yet assigned
	CancelledBy string    `json:"cancelled_by"` // "rider", "driver" or "system"
	Reason      string    `json:"reason"`
	CancelledAt time.Time `json:"cancelled_at"`
}

// EscrowEventData is emitted after an escrow transition commits.
type EscrowEventData struct {
	BookingID  uuid.UUID `json:"booking_id"`
	CustomerID uuid.UUID `json:"customer_id"`
	DriverID   uuid.UUID `json:"driver_id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Amount     int64     `json:"amount"`
	FeeAmount  int64     `json:"fee_amount,omitempty"`
	Actor      string    `json:"actor,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Currency   string    `json:"currency"`
	OccurredAt time.Time `json:"occurred_at"`
}

// PaymentEventData is emitted when a gateway transaction settles or times out.
type PaymentEventData struct {
	TransactionID uuid.UUID  `json:"transaction_id"`
	BookingID     *uuid.UUID `json:"booking_id,omitempty"`
	DriverID      *uuid.UUID `json:"driver_id,omitempty"`
	Type          string     `json:"type"`
	Status        string     `json:"status"`
	Amount        int64      `json:"amount"`
	Currency      string     `json:"currency"`
	ReceiptNumber string     `json:"receipt_number,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	Attempts      int        `json:"attempts"`
	OccurredAt    time.Time  `json:"occurred_at"`
}
