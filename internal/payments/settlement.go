package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/richxcame/escrow-settlement/internal/escrow"
	"github.com/richxcame/escrow-settlement/internal/mpesa"
	"github.com/richxcame/escrow-settlement/pkg/common"
	apperrors "github.com/richxcame/escrow-settlement/pkg/errors"
	"github.com/richxcame/escrow-settlement/pkg/logger"
	"github.com/richxcame/escrow-settlement/pkg/models"
	"go.uber.org/zap"
)

const lateChargeReason = "booking was no longer awaiting payment; refund the customer manually"

// ApplyStatus applies a final gateway result to a transaction: its status, the receipt and the
// matching escrow or wallet change commit together. A result for a transaction that is already
// final returns common.ErrDuplicateCallback and changes nothing.
func (s *Service) ApplyStatus(ctx context.Context, id uuid.UUID, result *models.GatewayResult) (*models.PaymentTransaction, error) {
	if result == nil || result.Status == models.GatewayPending {
		return s.repo.Get(ctx, id)
	}

	var (
		txn *models.PaymentTransaction
		tr  *escrow.Transition
	)
	err := s.ledger.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		t, err := s.repo.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		txn = t
		if t.Status.IsTerminal() {
			return common.ErrDuplicateCallback
		}

		switch result.Status {
		case models.GatewayCompleted:
			tr, err = s.settle(ctx, tx, t, result)
		case models.GatewayFailed:
			err = s.fail(ctx, tx, t, failureReason(result))
		default:
			return fmt.Errorf("unknown gateway status %q", result.Status)
		}
		if err != nil {
			return err
		}
		return s.repo.Finish(ctx, tx, t)
	})
	if errors.Is(err, common.ErrDuplicateCallback) {
		duplicateResults.Inc()
		logger.InfoContext(ctx, "duplicate gateway result ignored",
			zap.String("transaction_id", id.String()),
			zap.String("gateway_status", string(result.Status)),
		)
		return txn, err
	}
	if err != nil {
		return nil, err
	}

	s.escrow.AfterCommit(ctx, tr)
	s.afterFinish(ctx, txn)
	if txn.Type == models.TransactionBookingPayment && txn.FailureReason != nil {
		logger.ErrorContext(ctx, "payment received for a booking that is no longer awaiting payment",
			zap.String("transaction_id", txn.ID.String()),
			zap.String("booking_id", txn.BookingID.String()),
			zap.Int64("amount", txn.Amount),
		)
	}
	return txn, nil
}

// settle books a successful gateway result for the transaction's type
func (s *Service) settle(ctx context.Context, tx pgx.Tx, t *models.PaymentTransaction, result *models.GatewayResult) (*escrow.Transition, error) {
	if result.ReceiptNumber != "" {
		receipt := result.ReceiptNumber
		t.MpesaReceiptNumber = &receipt
	}
	if result.Amount > 0 && result.Amount != t.Amount {
		logger.WarnContext(ctx, "gateway amount differs from requested amount",
			zap.String("transaction_id", t.ID.String()),
			zap.Int64("requested", t.Amount),
			zap.Int64("reported", result.Amount),
		)
	}
	t.Status = models.TransactionCompleted
	t.FailureReason = nil

	ref := externalRef(t, result)

	switch t.Type {
	case models.TransactionBookingPayment:
		if t.BookingID == nil {
			return nil, fmt.Errorf("booking payment %s has no booking", t.ID)
		}
		tr, err := s.escrow.ConfirmPayment(ctx, tx, *t.BookingID, ref, t.Amount)
		if errors.Is(err, common.ErrInvalidStateTransition) {
			reason := lateChargeReason
			t.FailureReason = &reason
			return nil, nil
		}
		return tr, err

	case models.TransactionDeposit:
		if t.DriverID == nil {
			return nil, fmt.Errorf("deposit %s has no driver", t.ID)
		}
		entry := &models.LedgerEntry{
			ID:          uuid.New(),
			Party:       models.PartyDriver,
			PartyID:     t.DriverID,
			Kind:        models.EntryKindDeposit,
			Amount:      t.Amount,
			Status:      models.EntryStatusCompleted,
			ExternalRef: &ref,
		}
		if err := s.ledger.RecordEntry(ctx, tx, entry); err != nil {
			return nil, err
		}
		t.LedgerEntryID = &entry.ID
		return nil, nil

	case models.TransactionPayout:
		if t.LedgerEntryID != nil {
			if _, err := s.ledger.CompleteEntry(ctx, tx, *t.LedgerEntryID); err != nil {
				return nil, err
			}
		}
		return nil, nil

	default:
		return nil, nil
	}
}

// fail books an unsuccessful gateway result. A booking's escrow stays where it is and a
// reserved withdrawal goes back to the driver's available balance.
func (s *Service) fail(ctx context.Context, tx pgx.Tx, t *models.PaymentTransaction, reason string) error {
	t.Status = models.TransactionFailed
	t.FailureReason = &reason

	switch t.Type {
	case models.TransactionPayout:
		if t.LedgerEntryID != nil {
			if _, err := s.ledger.ReverseEntry(ctx, tx, *t.LedgerEntryID, reason); err != nil {
				return err
			}
		}
	case models.TransactionRefund:
		logger.ErrorContext(ctx, "customer refund payout failed",
			zap.String("transaction_id", t.ID.String()),
			zap.String("reason", reason),
		)
		apperrors.CaptureErrorWithContext(ctx, fmt.Errorf("refund payout %s failed: %s", t.ID, reason),
			map[string]string{"component": "payments", "type": string(t.Type)},
			map[string]interface{}{"transaction_id": t.ID.String(), "amount": t.Amount},
		)
	}
	return nil
}

// reject marks a transaction failed after the gateway refused to start it. A reserved
// withdrawal is failed rather than reversed since no money ever left.
func (s *Service) reject(ctx context.Context, id uuid.UUID, reason string) error {
	var txn *models.PaymentTransaction
	err := s.ledger.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		t, err := s.repo.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if t.Status.IsTerminal() {
			return common.ErrDuplicateCallback
		}

		t.Status = models.TransactionFailed
		t.FailureReason = &reason
		if t.Type == models.TransactionPayout && t.LedgerEntryID != nil {
			if _, err := s.ledger.FailEntry(ctx, tx, *t.LedgerEntryID, reason); err != nil {
				return err
			}
		}
		txn = t
		return s.repo.Finish(ctx, tx, t)
	})
	if err != nil {
		return err
	}

	s.afterFinish(ctx, txn)
	return nil
}

// HandleSTKCallback applies a Daraja STK push callback. Unknown and repeated callbacks are
// acknowledged without effect.
func (s *Service) HandleSTKCallback(ctx context.Context, body []byte) error {
	result, err := mpesa.ParseSTKCallback(body)
	if err != nil {
		return err
	}

	txn, err := s.repo.GetByHandle(ctx, result.Handle)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			logger.WarnContext(ctx, "stk callback for unknown request",
				zap.String("checkout_request_id", result.Handle),
			)
			return nil
		}
		return err
	}

	return s.applyCallback(ctx, txn, result)
}

// HandleB2CResult applies a Daraja B2C or transaction status result. Results are matched by
// ConversationID, then by the Occasion carried back from a status query, then by the
// OriginatorConversationID which is the transaction ID.
func (s *Service) HandleB2CResult(ctx context.Context, body []byte) error {
	result, err := mpesa.ParseB2CResult(body)
	if err != nil {
		return err
	}

	txn, err := s.findPayout(ctx, result)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			logger.WarnContext(ctx, "b2c result for unknown request",
				zap.String("conversation_id", result.Handle),
				zap.String("reference", result.Reference),
			)
			return nil
		}
		return err
	}
	if txn.Type.IsCharge() {
		logger.WarnContext(ctx, "b2c result matched a charge, ignoring",
			zap.String("transaction_id", txn.ID.String()),
		)
		return nil
	}

	return s.applyCallback(ctx, txn, result)
}

func (s *Service) findPayout(ctx context.Context, result *models.GatewayResult) (*models.PaymentTransaction, error) {
	var lastErr error = common.NewNotFoundError("payment transaction not found", nil)

	for _, handle := range []string{result.Handle, result.Reference} {
		if handle == "" {
			continue
		}
		txn, err := s.repo.GetByHandle(ctx, handle)
		if err == nil {
			return txn, nil
		}
		if !errors.Is(err, common.ErrNotFound) {
			return nil, err
		}
		lastErr = err
	}

	if id, err := uuid.Parse(result.Reference); err == nil {
		return s.repo.Get(ctx, id)
	}
	return nil, lastErr
}

func (s *Service) applyCallback(ctx context.Context, txn *models.PaymentTransaction, result *models.GatewayResult) error {
	if result.Status == models.GatewayPending {
		return nil
	}
	_, err := s.ApplyStatus(ctx, txn.ID, result)
	if errors.Is(err, common.ErrDuplicateCallback) {
		return nil
	}
	return err
}

// ClaimDue leases pending transactions whose next poll is due
func (s *Service) ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]*models.PaymentTransaction, error) {
	return s.repo.ClaimDue(ctx, limit, lease)
}

// ScheduleRetry records another unanswered poll and when to try again
func (s *Service) ScheduleRetry(ctx context.Context, txn *models.PaymentTransaction, next time.Time) error {
	txn.Attempts++
	txn.NextAttemptAt = next
	return s.repo.ScheduleRetry(ctx, txn.ID, txn.Attempts, next)
}

// MarkTimeout gives up polling a transaction. Nothing is held or credited and a reserved
// withdrawal stays reserved until an operator resolves it.
func (s *Service) MarkTimeout(ctx context.Context, txn *models.PaymentTransaction, reason string) error {
	ok, err := s.repo.MarkTimeout(ctx, txn.ID, reason)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	txn.Status = models.TransactionTimeout
	txn.FailureReason = &reason

	transactionsSettled.WithLabelValues(string(txn.Type), string(txn.Status)).Inc()
	timeoutErr := fmt.Errorf("%w: transaction %s after %d attempts", common.ErrReconciliationTimeout, txn.ID, txn.Attempts)
	logger.ErrorContext(ctx, "payment transaction timed out",
		zap.String("transaction_id", txn.ID.String()),
		zap.String("type", string(txn.Type)),
		zap.Int("attempts", txn.Attempts),
		zap.Error(timeoutErr),
	)
	apperrors.CaptureErrorWithContext(ctx, timeoutErr,
		map[string]string{"component": "reconciler", "type": string(txn.Type)},
		map[string]interface{}{"transaction_id": txn.ID.String(), "amount": txn.Amount, "attempts": txn.Attempts},
	)

	s.publishPayment(ctx, txn)
	s.notify(ctx, txn)
	return nil
}

// RetryTransaction hands a timed-out transaction back to the reconciler
func (s *Service) RetryTransaction(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error) {
	txn, err := s.repo.Requeue(ctx, id)
	if err != nil {
		return nil, err
	}
	logger.InfoContext(ctx, "timed-out transaction requeued",
		zap.String("transaction_id", id.String()),
		zap.String("type", string(txn.Type)),
	)
	return txn, nil
}

// ListTransactions returns a page of transactions for the admin view
func (s *Service) ListTransactions(ctx context.Context, filter models.TransactionFilter, limit, offset int) ([]*models.PaymentTransaction, int64, error) {
	return s.repo.List(ctx, filter, limit, offset)
}

func (s *Service) afterFinish(ctx context.Context, txn *models.PaymentTransaction) {
	transactionsSettled.WithLabelValues(string(txn.Type), string(txn.Status)).Inc()
	logger.InfoContext(ctx, "payment transaction finished",
		zap.String("transaction_id", txn.ID.String()),
		zap.String("type", string(txn.Type)),
		zap.String("status", string(txn.Status)),
	)
	s.publishPayment(ctx, txn)
	s.notify(ctx, txn)
}

func externalRef(t *models.PaymentTransaction, result *models.GatewayResult) string {
	if t.GatewayHandle != nil && *t.GatewayHandle != "" {
		return *t.GatewayHandle
	}
	if result.Handle != "" {
		return result.Handle
	}
	return t.ID.String()
}

func failureReason(result *models.GatewayResult) string {
	if result.ResultDesc != "" {
		return result.ResultDesc
	}
	return fmt.Sprintf("gateway result code %d", result.ResultCode)
}
