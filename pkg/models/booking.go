package models

import "github.com/google/uuid"

// BookingPaymentRequest starts a booking and its STK charge
type BookingPaymentRequest struct {
	UserID      uuid.UUID `json:"user_id" binding:"required"`
	DriverID    uuid.UUID `json:"driver_id" binding:"required"`
	Pickup      string    `json:"pickup" binding:"required,max=500"`
	Dropoff     string    `json:"dropoff" binding:"required,max=500"`
	Distance    float64   `json:"distance" binding:"gte=0"`
	Price       float64   `json:"price" binding:"required,gt=0"`
	PhoneNumber string    `json:"phone_number" binding:"required,msisdn"`
	PromoCode   string    `json:"promo_code,omitempty" binding:"omitempty,max=50"`
}

// BookingPaymentResponse is returned once the charge is initiated or queued
type BookingPaymentResponse struct {
	Success        bool              `json:"success"`
	TransactionID  uuid.UUID         `json:"transaction_id"`
	BookingID      uuid.UUID         `json:"booking_id"`
	Amount         int64             `json:"amount"`
	DiscountAmount int64             `json:"discount_amount"`
	Status         TransactionStatus `json:"status"`
	Queued         bool              `json:"queued,omitempty"`
	Message        string            `json:"message"`
}

// WithdrawRequest asks for a B2C payout from the driver's available balance
type WithdrawRequest struct {
	DriverID    uuid.UUID `json:"driver_id" binding:"required"`
	Amount      int64     `json:"amount" binding:"required,gt=0"`
	PhoneNumber string    `json:"phone_number" binding:"required,msisdn"`
}

// WithdrawResponse is returned once the payout is reserved
type WithdrawResponse struct {
	Success       bool              `json:"success"`
	TransactionID uuid.UUID         `json:"transaction_id"`
	Status        TransactionStatus `json:"status"`
	Queued        bool              `json:"queued,omitempty"`
	Message       string            `json:"message"`
}

// DepositRequest tops up a driver wallet through STK push
type DepositRequest struct {
	DriverID    uuid.UUID `json:"driver_id" binding:"required"`
	Amount      int64     `json:"amount" binding:"required,gt=0"`
	PhoneNumber string    `json:"phone_number" binding:"required,msisdn"`
}

// PaymentStatusResponse is returned by the status endpoint
type PaymentStatusResponse struct {
	TransactionID      uuid.UUID         `json:"transaction_id"`
	Type               TransactionType   `json:"type"`
	Status             TransactionStatus `json:"status"`
	Amount             int64             `json:"amount"`
	MpesaReceiptNumber *string           `json:"mpesa_receipt_number,omitempty"`
	FailureReason      *string           `json:"failure_reason,omitempty"`
}

// CancelBookingRequest carries the reason for a cancellation or refund
type CancelBookingRequest struct {
	Reason string `json:"reason" binding:"omitempty,max=500"`
}

// DisputeRequest opens a dispute on a held booking
type DisputeRequest struct {
	Reason string `json:"reason" binding:"required,max=1000"`
}

// DisputeOutcome is the admin decision on a disputed booking
type DisputeOutcome string

const (
	OutcomeRelease DisputeOutcome = "release"
	OutcomeRefund  DisputeOutcome = "refund"
)

// ResolveDisputeRequest settles a disputed booking
type ResolveDisputeRequest struct {
	Outcome DisputeOutcome `json:"outcome" binding:"required,oneof=release refund"`
	Note    string         `json:"note" binding:"omitempty,max=1000"`
}

// DepositResponse is returned once the top-up prompt is sent or queued
type DepositResponse struct {
	Success       bool              `json:"success"`
	TransactionID uuid.UUID         `json:"transaction_id"`
	Status        TransactionStatus `json:"status"`
	Queued        bool              `json:"queued,omitempty"`
	Message       string            `json:"message"`
}
