package models

import "github.com/google/uuid"

// NotificationType represents the kind of driver or customer notice
type NotificationType string

const (
	NotificationPaymentConfirmed NotificationType = "payment_confirmed"
	NotificationPaymentFailed    NotificationType = "payment_failed"
	NotificationPayoutCompleted  NotificationType = "payout_completed"
	NotificationPayoutFailed     NotificationType = "payout_failed"
	NotificationSettlementDelay  NotificationType = "settlement_delayed"
)

// NotificationChannel represents the delivery channel
type NotificationChannel string

const (
	NotificationChannelSMS NotificationChannel = "sms"
)

// Notification is a single outbound message
type Notification struct {
	UserID        *uuid.UUID          `json:"user_id,omitempty"`
	TransactionID uuid.UUID           `json:"transaction_id"`
	Type          NotificationType    `json:"type"`
	Channel       NotificationChannel `json:"channel"`
	PhoneNumber   string              `json:"phone_number"`
	Body          string              `json:"body"`
}
