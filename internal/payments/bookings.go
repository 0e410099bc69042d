package payments

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/richxcame/escrow-settlement/internal/escrow"
	"github.com/richxcame/escrow-settlement/pkg/common"
	"github.com/richxcame/escrow-settlement/pkg/logger"
	"github.com/richxcame/escrow-settlement/pkg/models"
	"github.com/richxcame/escrow-settlement/pkg/tracing"
	"go.uber.org/zap"
)

// EscrowOverview is the admin escrow listing
type EscrowOverview struct {
	Escrows []*models.EscrowAccount `json:"escrows"`
	Summary *models.EscrowSummary   `json:"summary"`
}

// CompleteBooking releases the held fare to the driver. Only the booking's driver or an admin
// may complete it.
func (s *Service) CompleteBooking(ctx context.Context, bookingID, userID uuid.UUID, role models.UserRole) (*escrow.Transition, error) {
	account, err := s.escrow.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	actor := escrow.ActorAdmin
	if role != models.RoleAdmin {
		if role != models.RoleDriver || account.DriverID != userID {
			return nil, common.NewForbiddenError("only the assigned driver can complete this booking")
		}
		actor = escrow.ActorDriver
	}

	return s.escrow.Release(ctx, bookingID, actor)
}

// CancelBooking refunds the booking to the customer. The customer, the assigned driver and
// admins may cancel.
func (s *Service) CancelBooking(ctx context.Context, bookingID, userID uuid.UUID, role models.UserRole, reason string) (*escrow.Transition, error) {
	account, err := s.escrow.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	var actor string
	switch {
	case role == models.RoleAdmin:
		actor = escrow.ActorAdmin
	case role == models.RoleCustomer && account.CustomerID == userID:
		actor = escrow.ActorCustomer
	case role == models.RoleDriver && account.DriverID == userID:
		actor = escrow.ActorDriver
	default:
		return nil, common.NewForbiddenError("not a party to this booking")
	}

	return s.RefundBooking(ctx, bookingID, actor, reason)
}

// ReleaseBooking releases a held booking on behalf of actor
func (s *Service) ReleaseBooking(ctx context.Context, bookingID uuid.UUID, actor string) (*escrow.Transition, error) {
	return s.escrow.Release(ctx, bookingID, actor)
}

// RefundBooking refunds a booking and, when money was held, sends it back to the customer
func (s *Service) RefundBooking(ctx context.Context, bookingID uuid.UUID, actor, reason string) (*escrow.Transition, error) {
	return s.refundWithPayout(ctx, bookingID, func(ctx context.Context, tx pgx.Tx) (*escrow.Transition, error) {
		return s.escrow.RefundInTx(ctx, tx, bookingID, actor, reason)
	})
}

// DisputeBooking freezes a held booking
func (s *Service) DisputeBooking(ctx context.Context, bookingID uuid.UUID, reason string) (*escrow.Transition, error) {
	return s.escrow.Dispute(ctx, bookingID, reason)
}

// ResolveDispute settles a disputed booking
func (s *Service) ResolveDispute(ctx context.Context, bookingID uuid.UUID, outcome models.DisputeOutcome, note string) (*escrow.Transition, error) {
	return s.refundWithPayout(ctx, bookingID, func(ctx context.Context, tx pgx.Tx) (*escrow.Transition, error) {
		return s.escrow.ResolveDisputeInTx(ctx, tx, bookingID, outcome, note)
	})
}

// refundWithPayout commits an escrow transition together with the refund payout it owes, so a
// refunded hold always has a pending transaction sending it back to the phone that paid it.
// The payout is initiated after commit; the reconciler owns it if the gateway cannot take it.
func (s *Service) refundWithPayout(ctx context.Context, bookingID uuid.UUID, move func(ctx context.Context, tx pgx.Tx) (*escrow.Transition, error)) (*escrow.Transition, error) {
	paid, err := s.repo.ListByBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	var phone string
	for _, t := range paid {
		if t.Type == models.TransactionBookingPayment && t.Status == models.TransactionCompleted {
			phone = t.PhoneNumber
		}
	}

	var (
		tr  *escrow.Transition
		txn *models.PaymentTransaction
	)
	err = tracing.TraceBusinessLogic(ctx, "payments", "payments.refund",
		tracing.EscrowAttributes(bookingID.String(), "", ""),
		func(ctx context.Context) error {
			return s.ledger.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
				var err error
				txn = nil
				tr, err = move(ctx, tx)
				if err != nil {
					return err
				}
				if tr.To != models.EscrowRefunded || tr.Amount <= 0 {
					return nil
				}
				if phone == "" {
					return common.NewInternalError("refunded booking has no completed payment to return funds to", nil)
				}
				txn = s.refundPayout(tr, phone)
				return s.repo.Create(ctx, tx, txn)
			})
		})
	if err != nil {
		return nil, err
	}

	s.escrow.AfterCommit(ctx, tr)
	if txn == nil {
		return tr, nil
	}
	transactionsCreated.WithLabelValues(string(txn.Type)).Inc()

	if _, err := s.start(ctx, txn); err != nil {
		logger.ErrorContext(ctx, "refund payout refused by gateway",
			zap.String("booking_id", bookingID.String()),
			zap.String("transaction_id", txn.ID.String()),
			zap.Error(err),
		)
	}
	return tr, nil
}

func (s *Service) refundPayout(tr *escrow.Transition, phone string) *models.PaymentTransaction {
	bookingID := tr.Account.BookingID
	customerID := tr.Account.CustomerID
	return &models.PaymentTransaction{
		ID:            uuid.New(),
		BookingID:     &bookingID,
		UserID:        &customerID,
		Type:          models.TransactionRefund,
		Amount:        tr.Amount,
		PhoneNumber:   phone,
		Status:        models.TransactionPending,
		NextAttemptAt: s.initiationLease(),
	}
}

// EscrowOverview returns a page of escrow accounts and the aggregate summary
func (s *Service) EscrowOverview(ctx context.Context, filter models.EscrowFilter, limit, offset int) (*EscrowOverview, int64, error) {
	accounts, total, err := s.escrow.List(ctx, filter, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	summary, err := s.escrow.Summary(ctx)
	if err != nil {
		return nil, 0, err
	}
	return &EscrowOverview{Escrows: accounts, Summary: summary}, total, nil
}

// GetEscrow returns a booking's escrow account
func (s *Service) GetEscrow(ctx context.Context, bookingID uuid.UUID) (*models.EscrowAccount, error) {
	return s.escrow.Get(ctx, bookingID)
}

// AuditBooking compares the escrow's held amount with its ledger and lists the gateway
// transactions behind it
func (s *Service) AuditBooking(ctx context.Context, bookingID uuid.UUID) (*models.EscrowAudit, error) {
	audit, err := s.escrow.Audit(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	txns, err := s.repo.ListByBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	audit.Transactions = txns
	return audit, nil
}
