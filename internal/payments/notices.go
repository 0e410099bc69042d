package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/richxcame/escrow-settlement/pkg/async"
	"github.com/richxcame/escrow-settlement/pkg/eventbus"
	"github.com/richxcame/escrow-settlement/pkg/logger"
	"github.com/richxcame/escrow-settlement/pkg/models"
	"go.uber.org/zap"
)

const eventSource = "settlement-payments"

func paymentSubject(status models.TransactionStatus) string {
	switch status {
	case models.TransactionCompleted:
		return eventbus.SubjectPaymentCompleted
	case models.TransactionFailed:
		return eventbus.SubjectPaymentFailed
	case models.TransactionTimeout:
		return eventbus.SubjectPaymentTimeout
	default:
		return ""
	}
}

func (s *Service) publishPayment(ctx context.Context, txn *models.PaymentTransaction) {
	if s.publisher == nil {
		return
	}
	subject := paymentSubject(txn.Status)
	if subject == "" {
		return
	}

	data := eventbus.PaymentEventData{
		TransactionID: txn.ID,
		BookingID:     txn.BookingID,
		DriverID:      txn.DriverID,
		Type:          string(txn.Type),
		Status:        string(txn.Status),
		Amount:        txn.Amount,
		Currency:      models.Currency,
		Attempts:      txn.Attempts,
		OccurredAt:    s.now().UTC(),
	}
	if txn.MpesaReceiptNumber != nil {
		data.ReceiptNumber = *txn.MpesaReceiptNumber
	}
	if txn.FailureReason != nil {
		data.Reason = *txn.FailureReason
	}

	event, err := eventbus.NewEvent(subject, eventSource, data)
	if err != nil {
		logger.WarnContext(ctx, "failed to build payment event", zap.Error(err))
		return
	}
	if err := s.publisher.Publish(ctx, subject, event); err != nil {
		logger.WarnContext(ctx, "failed to publish payment event",
			zap.String("subject", subject),
			zap.String("transaction_id", txn.ID.String()),
			zap.Error(err),
		)
	}
}

// notify sends the SMS for a settled transaction in the background
func (s *Service) notify(ctx context.Context, txn *models.PaymentTransaction) {
	if s.notifier == nil {
		return
	}
	n := noticeFor(txn)
	if n == nil {
		return
	}

	async.GoWithTimeout(ctx, "payment-notice", 30*time.Second, func(ctx context.Context) {
		if err := s.notifier.Send(ctx, n); err != nil {
			logger.WarnContext(ctx, "failed to send payment notice",
				zap.String("transaction_id", txn.ID.String()),
				zap.String("type", string(n.Type)),
				zap.Error(err),
			)
		}
	})
}

func noticeFor(txn *models.PaymentTransaction) *models.Notification {
	receipt := ""
	if txn.MpesaReceiptNumber != nil {
		receipt = " Receipt " + *txn.MpesaReceiptNumber + "."
	}

	var (
		kind models.NotificationType
		body string
	)
	switch {
	case txn.Type == models.TransactionBookingPayment && txn.Status == models.TransactionCompleted:
		if txn.FailureReason != nil {
			return nil
		}
		kind = models.NotificationPaymentConfirmed
		body = fmt.Sprintf("Payment of KES %d received and held for your trip.%s", txn.Amount, receipt)
	case txn.Type == models.TransactionBookingPayment && txn.Status == models.TransactionFailed:
		kind = models.NotificationPaymentFailed
		body = fmt.Sprintf("Your payment of KES %d did not go through. Please try again.", txn.Amount)
	case txn.Type == models.TransactionDeposit && txn.Status == models.TransactionCompleted:
		kind = models.NotificationPaymentConfirmed
		body = fmt.Sprintf("KES %d has been added to your wallet.%s", txn.Amount, receipt)
	case txn.Type == models.TransactionPayout && txn.Status == models.TransactionCompleted:
		kind = models.NotificationPayoutCompleted
		body = fmt.Sprintf("KES %d has been sent to your M-Pesa.%s", txn.Amount, receipt)
	case txn.Type == models.TransactionPayout && txn.Status == models.TransactionFailed:
		kind = models.NotificationPayoutFailed
		body = fmt.Sprintf("Your withdrawal of KES %d failed and the amount is back in your wallet.", txn.Amount)
	case txn.Type == models.TransactionRefund && txn.Status == models.TransactionCompleted:
		kind = models.NotificationPayoutCompleted
		body = fmt.Sprintf("Your refund of KES %d has been sent to your M-Pesa.%s", txn.Amount, receipt)
	case txn.Status == models.TransactionTimeout:
		kind = models.NotificationSettlementDelay
		body = fmt.Sprintf("Your M-Pesa transaction of KES %d is taking longer than usual. We are looking into it.", txn.Amount)
	default:
		return nil
	}

	var userID *uuid.UUID
	switch {
	case txn.Type == models.TransactionPayout || txn.Type == models.TransactionDeposit:
		userID = txn.DriverID
	default:
		userID = txn.UserID
	}

	return &models.Notification{
		UserID:        userID,
		TransactionID: txn.ID,
		Type:          kind,
		Channel:       models.NotificationChannelSMS,
		PhoneNumber:   txn.PhoneNumber,
		Body:          body,
	}
}
