package models

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType represents what a gateway transaction settles
type TransactionType string

const (
	TransactionBookingPayment TransactionType = "booking_payment"
	TransactionDeposit        TransactionType = "deposit"
	TransactionRefund         TransactionType = "refund"
	TransactionPayout         TransactionType = "payout"
)

// IsCharge reports whether the transaction collects money through STK push
func (t TransactionType) IsCharge() bool {
	return t == TransactionBookingPayment || t == TransactionDeposit
}

// TransactionStatus represents payment transaction status
type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
	TransactionFailed    TransactionStatus = "failed"
	TransactionTimeout   TransactionStatus = "timeout"
)

// IsTerminal reports whether the reconciler no longer owns the transaction
func (s TransactionStatus) IsTerminal() bool {
	return s == TransactionCompleted || s == TransactionFailed
}

// PaymentTransaction is a single interaction with the mobile-money gateway
type PaymentTransaction struct {
	ID                 uuid.UUID         `json:"transaction_id" db:"id"`
	BookingID          *uuid.UUID        `json:"booking_id,omitempty" db:"booking_id"`
	UserID             *uuid.UUID        `json:"user_id,omitempty" db:"user_id"`
	DriverID           *uuid.UUID        `json:"driver_id,omitempty" db:"driver_id"`
	Type               TransactionType   `json:"type" db:"type"`
	Amount             int64             `json:"amount" db:"amount"`
	PhoneNumber        string            `json:"phone_number" db:"phone_number"`
	Status             TransactionStatus `json:"status" db:"status"`
	GatewayHandle      *string           `json:"gateway_handle,omitempty" db:"gateway_handle"`
	MpesaReceiptNumber *string           `json:"mpesa_receipt_number,omitempty" db:"mpesa_receipt_number"`
	FailureReason      *string           `json:"failure_reason,omitempty" db:"failure_reason"`
	Attempts           int               `json:"attempts" db:"attempts"`
	NextAttemptAt      time.Time         `json:"next_attempt_at" db:"next_attempt_at"`
	LedgerEntryID      *uuid.UUID        `json:"ledger_entry_id,omitempty" db:"ledger_entry_id"`
	CreatedAt          time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at" db:"updated_at"`
	CompletedAt        *time.Time        `json:"completed_at,omitempty" db:"completed_at"`
}

// WithdrawalRequest is the driver-facing view of a payout transaction
type WithdrawalRequest struct {
	TransactionID      uuid.UUID         `json:"transaction_id"`
	DriverID           uuid.UUID         `json:"driver_id"`
	Amount             int64             `json:"amount"`
	PhoneNumber        string            `json:"phone_number"`
	Status             TransactionStatus `json:"status"`
	MpesaReceiptNumber *string           `json:"mpesa_receipt_number,omitempty"`
	LedgerEntryID      *uuid.UUID        `json:"ledger_entry_id,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
}

// AsWithdrawal projects a payout transaction onto a WithdrawalRequest
func (t *PaymentTransaction) AsWithdrawal() *WithdrawalRequest {
	w := &WithdrawalRequest{
		TransactionID:      t.ID,
		Amount:             t.Amount,
		PhoneNumber:        t.PhoneNumber,
		Status:             t.Status,
		MpesaReceiptNumber: t.MpesaReceiptNumber,
		LedgerEntryID:      t.LedgerEntryID,
		CreatedAt:          t.CreatedAt,
	}
	if t.DriverID != nil {
		w.DriverID = *t.DriverID
	}
	return w
}

// GatewayStatus is the normalized result of a gateway status lookup or callback
type GatewayStatus string

const (
	GatewayPending   GatewayStatus = "pending"
	GatewayCompleted GatewayStatus = "completed"
	GatewayFailed    GatewayStatus = "failed"
)

// GatewayResult carries a normalized gateway outcome
type GatewayResult struct {
	Handle        string        `json:"handle"`
	Reference     string        `json:"reference,omitempty"`
	Status        GatewayStatus `json:"status"`
	ReceiptNumber string        `json:"receipt_number,omitempty"`
	ResultCode    int           `json:"result_code"`
	ResultDesc    string        `json:"result_desc,omitempty"`
	Amount        int64         `json:"amount,omitempty"`
}

// TransactionFilter narrows admin transaction listings
type TransactionFilter struct {
	Status *TransactionStatus
	Type   *TransactionType
}
