package payments

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/richxcame/escrow-settlement/internal/mpesa"
	"github.com/richxcame/escrow-settlement/internal/promos"
	"github.com/richxcame/escrow-settlement/pkg/common"
	"github.com/richxcame/escrow-settlement/pkg/config"
	"github.com/richxcame/escrow-settlement/pkg/eventbus"
	"github.com/richxcame/escrow-settlement/pkg/logger"
	"github.com/richxcame/escrow-settlement/pkg/models"
	"github.com/richxcame/escrow-settlement/pkg/resilience"
	"github.com/richxcame/escrow-settlement/pkg/security"
	"github.com/richxcame/escrow-settlement/pkg/tracing"
	"github.com/richxcame/escrow-settlement/pkg/validation"
	"go.uber.org/zap"
)

// initiateBudget bounds one synchronous gateway initiation. New transactions are created with
// next_attempt_at beyond it so the reconciler never re-initiates a row whose first call is
// still in flight.
const initiateBudget = 2 * time.Minute

// errHandleNotStored means the gateway accepted the request but its handle could not be saved
var errHandleNotStored = errors.New("gateway handle not stored")

// Service orchestrates escrow, ledger and the mobile-money gateway for the payments API
type Service struct {
	repo         RepositoryInterface
	ledger       LedgerInterface
	escrow       EscrowInterface
	gateway      mpesa.Gateway
	publisher    eventbus.Publisher
	promos       PromoInterface
	notifier     Notifier
	limits       config.MPesaConfig
	initialDelay time.Duration
	handleRetry  resilience.RetryConfig
	now          func() time.Time
}

// NewService creates a new payments service. publisher may be nil.
func NewService(
	repo RepositoryInterface,
	ledger LedgerInterface,
	escrowSvc EscrowInterface,
	gateway mpesa.Gateway,
	publisher eventbus.Publisher,
	limits config.MPesaConfig,
	settlement config.SettlementConfig,
) *Service {
	return &Service{
		repo:         repo,
		ledger:       ledger,
		escrow:       escrowSvc,
		gateway:      gateway,
		publisher:    publisher,
		limits:       limits,
		initialDelay: time.Duration(settlement.InitialDelaySeconds) * time.Second,
		handleRetry: resilience.RetryConfig{
			MaxAttempts:       5,
			InitialBackoff:    200 * time.Millisecond,
			MaxBackoff:        3 * time.Second,
			BackoffMultiplier: 2,
			EnableJitter:      true,
		},
		now: time.Now,
	}
}

// SetPromos enables promo codes on booking payments
func (s *Service) SetPromos(p PromoInterface) {
	s.promos = p
}

// SetNotifier enables SMS notices for settled transactions
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

// CreateBookingPayment opens the booking's escrow and sends the STK prompt for the
// discounted price. A gateway outage still accepts the booking as pending.
func (s *Service) CreateBookingPayment(ctx context.Context, req *models.BookingPaymentRequest) (*models.BookingPaymentResponse, error) {
	amount := int64(math.Round(req.Price))
	if amount <= 0 {
		return nil, fmt.Errorf("%w: price must be positive", common.ErrInvalidAmount)
	}
	phone, err := normalizePhone(req.PhoneNumber)
	if err != nil {
		return nil, err
	}

	bookingID := uuid.New()
	final := amount
	var use *promos.PromoCodeUse
	if req.PromoCode != "" && s.promos != nil {
		use, err = s.promos.Quote(ctx, req.PromoCode, req.UserID, bookingID, amount)
		if err != nil {
			return nil, err
		}
		final = use.FinalAmount
	}
	if err := mpesa.CheckAmount(s.limits, final); err != nil {
		return nil, err
	}

	account := &models.EscrowAccount{
		BookingID:   bookingID,
		CustomerID:  req.UserID,
		DriverID:    req.DriverID,
		GrossAmount: final,
		Pickup:      req.Pickup,
		Dropoff:     req.Dropoff,
		DistanceKm:  req.Distance,
	}
	if use != nil {
		account.DiscountAmount = use.DiscountAmount
		account.PromoCode = &use.Code
	}

	txn := &models.PaymentTransaction{
		ID:            uuid.New(),
		BookingID:     &bookingID,
		UserID:        &req.UserID,
		DriverID:      &req.DriverID,
		Type:          models.TransactionBookingPayment,
		Amount:        final,
		PhoneNumber:   phone,
		Status:        models.TransactionPending,
		NextAttemptAt: s.initiationLease(),
	}

	err = tracing.TraceBusinessLogic(ctx, "payments", "payments.booking_payment",
		tracing.TransactionAttributes(txn.ID.String(), string(txn.Type), final),
		func(ctx context.Context) error {
			return s.ledger.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
				if err := s.escrow.Open(ctx, tx, account); err != nil {
					return err
				}
				if use != nil {
					if err := s.promos.RecordUse(ctx, tx, use); err != nil {
						return err
					}
				}
				return s.repo.Create(ctx, tx, txn)
			})
		})
	if err != nil {
		return nil, err
	}
	transactionsCreated.WithLabelValues(string(txn.Type)).Inc()

	resp := &models.BookingPaymentResponse{
		Success:        true,
		TransactionID:  txn.ID,
		BookingID:      bookingID,
		Amount:         final,
		DiscountAmount: account.DiscountAmount,
		Status:         models.TransactionPending,
		Message:        "M-Pesa prompt sent, enter your PIN to pay",
	}

	queued, err := s.start(ctx, txn)
	if err != nil {
		return nil, common.NewBadRequestError("M-Pesa rejected the payment request", err)
	}
	if queued {
		resp.Queued = true
		resp.Message = "Payment queued, the M-Pesa prompt will follow shortly"
	}

	logger.InfoContext(ctx, "booking payment created",
		zap.String("booking_id", bookingID.String()),
		zap.String("transaction_id", txn.ID.String()),
		zap.Int64("amount", final),
		zap.Int64("discount", account.DiscountAmount),
		zap.Bool("queued", resp.Queued),
	)
	return resp, nil
}

// Withdraw reserves amount from the driver's available balance and sends it by B2C.
// The reservation is a pending withdrawal entry written under the wallet lock.
func (s *Service) Withdraw(ctx context.Context, req *models.WithdrawRequest) (*models.WithdrawResponse, error) {
	if err := mpesa.CheckAmount(s.limits, req.Amount); err != nil {
		return nil, err
	}
	phone, err := normalizePhone(req.PhoneNumber)
	if err != nil {
		return nil, err
	}

	driverID := req.DriverID
	entry := &models.LedgerEntry{
		ID:      uuid.New(),
		Party:   models.PartyDriver,
		PartyID: &driverID,
		Kind:    models.EntryKindWithdrawal,
		Amount:  req.Amount,
		Status:  models.EntryStatusPending,
	}
	txn := &models.PaymentTransaction{
		ID:            uuid.New(),
		UserID:        &driverID,
		DriverID:      &driverID,
		Type:          models.TransactionPayout,
		Amount:        req.Amount,
		PhoneNumber:   phone,
		Status:        models.TransactionPending,
		LedgerEntryID: &entry.ID,
		NextAttemptAt: s.initiationLease(),
	}

	err = tracing.TraceBusinessLogic(ctx, "payments", "payments.withdraw",
		tracing.TransactionAttributes(txn.ID.String(), string(txn.Type), req.Amount),
		func(ctx context.Context) error {
			return s.ledger.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
				if err := s.ledger.RecordEntry(ctx, tx, entry); err != nil {
					return err
				}
				return s.repo.Create(ctx, tx, txn)
			})
		})
	if err != nil {
		if errors.Is(err, common.ErrInsufficientBalance) {
			logger.InfoContext(ctx, "withdrawal rejected",
				zap.String("driver_id", driverID.String()),
				zap.Int64("amount", req.Amount),
			)
		}
		return nil, err
	}
	transactionsCreated.WithLabelValues(string(txn.Type)).Inc()

	resp := &models.WithdrawResponse{
		Success:       true,
		TransactionID: txn.ID,
		Status:        models.TransactionPending,
		Message:       "Withdrawal submitted to M-Pesa",
	}

	queued, err := s.start(ctx, txn)
	if err != nil {
		return nil, common.NewBadRequestError("M-Pesa rejected the withdrawal, funds returned to wallet", err)
	}
	if queued {
		resp.Queued = true
		resp.Message = "Withdrawal queued, it will be sent once M-Pesa is reachable"
	}

	logger.InfoContext(ctx, "withdrawal reserved",
		zap.String("driver_id", driverID.String()),
		zap.String("transaction_id", txn.ID.String()),
		zap.Int64("amount", req.Amount),
		zap.Bool("queued", resp.Queued),
	)
	return resp, nil
}

// Deposit tops up a driver wallet through an STK prompt. The wallet is only credited once
// the gateway confirms the payment.
func (s *Service) Deposit(ctx context.Context, req *models.DepositRequest) (*models.DepositResponse, error) {
	if err := mpesa.CheckAmount(s.limits, req.Amount); err != nil {
		return nil, err
	}
	phone, err := normalizePhone(req.PhoneNumber)
	if err != nil {
		return nil, err
	}

	driverID := req.DriverID
	txn := &models.PaymentTransaction{
		ID:            uuid.New(),
		UserID:        &driverID,
		DriverID:      &driverID,
		Type:          models.TransactionDeposit,
		Amount:        req.Amount,
		PhoneNumber:   phone,
		Status:        models.TransactionPending,
		NextAttemptAt: s.initiationLease(),
	}

	err = s.ledger.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return s.repo.Create(ctx, tx, txn)
	})
	if err != nil {
		return nil, err
	}
	transactionsCreated.WithLabelValues(string(txn.Type)).Inc()

	resp := &models.DepositResponse{
		Success:       true,
		TransactionID: txn.ID,
		Status:        models.TransactionPending,
		Message:       "M-Pesa prompt sent, enter your PIN to top up",
	}
	queued, err := s.start(ctx, txn)
	if err != nil {
		return nil, common.NewBadRequestError("M-Pesa rejected the deposit request", err)
	}
	if queued {
		resp.Queued = true
		resp.Message = "Deposit queued, the M-Pesa prompt will follow shortly"
	}
	return resp, nil
}

// GetPaymentStatus returns the current status of a gateway transaction. Only the paying user,
// the driver it belongs to and admins may read it.
func (s *Service) GetPaymentStatus(ctx context.Context, id, userID uuid.UUID, role models.UserRole) (*models.PaymentStatusResponse, error) {
	txn, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if role != models.RoleAdmin && !isParty(txn, userID) {
		return nil, common.NewForbiddenError("not a party to this transaction")
	}
	return &models.PaymentStatusResponse{
		TransactionID:      txn.ID,
		Type:               txn.Type,
		Status:             txn.Status,
		Amount:             txn.Amount,
		MpesaReceiptNumber: txn.MpesaReceiptNumber,
		FailureReason:      txn.FailureReason,
	}, nil
}

func isParty(txn *models.PaymentTransaction, userID uuid.UUID) bool {
	return (txn.UserID != nil && *txn.UserID == userID) ||
		(txn.DriverID != nil && *txn.DriverID == userID)
}

// GetTransaction returns a transaction by ID
func (s *Service) GetTransaction(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error) {
	return s.repo.Get(ctx, id)
}

// GetWallet returns a driver's available and pending escrow balances
func (s *Service) GetWallet(ctx context.Context, driverID uuid.UUID) (*models.Balance, error) {
	return s.ledger.GetBalance(ctx, driverID)
}

// initiationLease is the next_attempt_at of a transaction that is about to be initiated
func (s *Service) initiationLease() time.Time {
	return s.now().Add(initiateBudget + s.initialDelay)
}

// start runs the first initiation of a newly created transaction. It reports queued when the
// gateway could not be reached, after handing the row to the reconciler. Only a refusal is
// returned as an error.
func (s *Service) start(ctx context.Context, txn *models.PaymentTransaction) (bool, error) {
	err := s.initiate(ctx, txn)
	switch {
	case err == nil, errors.Is(err, errHandleNotStored):
		// an unsaved handle still means the gateway has the request; its result callback
		// carries our transaction ID
		return false, nil
	case errors.Is(err, common.ErrGatewayUnavailable):
		next := s.now().Add(s.initialDelay)
		if err := s.repo.ScheduleRetry(context.WithoutCancel(ctx), txn.ID, txn.Attempts, next); err != nil {
			logger.WarnContext(ctx, "failed to release initiation lease",
				zap.String("transaction_id", txn.ID.String()),
				zap.Error(err),
			)
		}
		return true, nil
	default:
		return false, err
	}
}

// initiate sends the transaction to the gateway and stores the returned handle. It returns
// common.ErrGatewayUnavailable when the call should be retried later, errHandleNotStored when
// the gateway accepted but the handle could not be saved, and the gateway's error after
// marking the transaction failed when the provider refused it.
func (s *Service) initiate(ctx context.Context, txn *models.PaymentTransaction) error {
	var (
		handle string
		err    error
	)
	callCtx, cancel := context.WithTimeout(ctx, initiateBudget)
	switch txn.Type {
	case models.TransactionBookingPayment:
		handle, err = s.gateway.InitiateCharge(callCtx, txn.PhoneNumber, txn.Amount, txn.BookingID.String())
	case models.TransactionDeposit:
		handle, err = s.gateway.InitiateCharge(callCtx, txn.PhoneNumber, txn.Amount, txn.ID.String())
	default:
		handle, err = s.gateway.InitiatePayout(callCtx, txn.PhoneNumber, txn.Amount, txn.ID.String())
	}
	cancel()

	switch {
	case err == nil:
		txn.GatewayHandle = &handle
		if err := s.storeHandle(ctx, txn.ID, handle); err != nil {
			logger.ErrorContext(ctx, "gateway accepted request but handle was not stored",
				zap.String("transaction_id", txn.ID.String()),
				zap.String("gateway_handle", handle),
				zap.Error(err),
			)
			return fmt.Errorf("%w: %v", errHandleNotStored, err)
		}
		return nil

	case isRefusal(err):
		logger.WarnContext(ctx, "gateway refused transaction",
			zap.String("transaction_id", txn.ID.String()),
			zap.String("type", string(txn.Type)),
			zap.String("phone", security.MaskPhone(txn.PhoneNumber)),
			zap.Error(err),
		)
		if failErr := s.reject(ctx, txn.ID, err.Error()); failErr != nil && !errors.Is(failErr, common.ErrDuplicateCallback) {
			logger.ErrorContext(ctx, "failed to record gateway refusal",
				zap.String("transaction_id", txn.ID.String()),
				zap.Error(failErr),
			)
		}
		return err

	default:
		initiationsQueued.WithLabelValues(string(txn.Type)).Inc()
		logger.WarnContext(ctx, "gateway unavailable, transaction left pending",
			zap.String("transaction_id", txn.ID.String()),
			zap.String("type", string(txn.Type)),
			zap.Error(err),
		)
		if !errors.Is(err, common.ErrGatewayUnavailable) {
			return fmt.Errorf("%w: %v", common.ErrGatewayUnavailable, err)
		}
		return err
	}
}

// storeHandle saves the handle and schedules the first poll. The request context may already
// be gone by the time the gateway answers, so the write outlives it.
func (s *Service) storeHandle(ctx context.Context, id uuid.UUID, handle string) error {
	firstPoll := s.now().Add(s.initialDelay)
	_, err := resilience.RetryWithName(context.WithoutCancel(ctx), s.handleRetry, func(ctx context.Context) (interface{}, error) {
		return nil, s.repo.SetHandle(ctx, id, handle, firstPoll)
	}, "payments.store_handle")
	return err
}

func isRefusal(err error) bool {
	return mpesa.IsRejected(err) ||
		errors.Is(err, common.ErrValidation) ||
		errors.Is(err, common.ErrAmountOutOfRange)
}

// Reinitiate retries initiation for a pending transaction that never reached the gateway
func (s *Service) Reinitiate(ctx context.Context, txn *models.PaymentTransaction) error {
	if txn.Type == models.TransactionBookingPayment && txn.BookingID != nil {
		account, err := s.escrow.Get(ctx, *txn.BookingID)
		if err != nil {
			return err
		}
		if account.State != models.EscrowAwaitingPayment {
			err := s.reject(ctx, txn.ID, "booking is no longer awaiting payment")
			if errors.Is(err, common.ErrDuplicateCallback) {
				return nil
			}
			return err
		}
	}

	err := s.initiate(ctx, txn)
	if err != nil && (isRefusal(err) || errors.Is(err, errHandleNotStored)) {
		return nil
	}
	return err
}

func normalizePhone(phone string) (string, error) {
	msisdn, err := validation.NormalizeMSISDN(phone)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrValidation, err)
	}
	return msisdn, nil
}
