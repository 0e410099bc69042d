package mocks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/richxcame/escrow-settlement/internal/escrow"
	"github.com/richxcame/escrow-settlement/internal/promos"
	"github.com/richxcame/escrow-settlement/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockPaymentsRepository is a mock implementation of the payments RepositoryInterface
type MockPaymentsRepository struct {
	mock.Mock
}

func (m *MockPaymentsRepository) Create(ctx context.Context, tx pgx.Tx, txn *models.PaymentTransaction) error {
	args := m.Called(ctx, tx, txn)
	return args.Error(0)
}

func (m *MockPaymentsRepository) Get(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PaymentTransaction), args.Error(1)
}

func (m *MockPaymentsRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.PaymentTransaction, error) {
	args := m.Called(ctx, tx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PaymentTransaction), args.Error(1)
}

func (m *MockPaymentsRepository) GetByHandle(ctx context.Context, handle string) (*models.PaymentTransaction, error) {
	args := m.Called(ctx, handle)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PaymentTransaction), args.Error(1)
}

func (m *MockPaymentsRepository) SetHandle(ctx context.Context, id uuid.UUID, handle string, next time.Time) error {
	args := m.Called(ctx, id, handle, next)
	return args.Error(0)
}

func (m *MockPaymentsRepository) Finish(ctx context.Context, tx pgx.Tx, txn *models.PaymentTransaction) error {
	args := m.Called(ctx, tx, txn)
	return args.Error(0)
}

func (m *MockPaymentsRepository) ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]*models.PaymentTransaction, error) {
	args := m.Called(ctx, limit, lease)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.PaymentTransaction), args.Error(1)
}

func (m *MockPaymentsRepository) ScheduleRetry(ctx context.Context, id uuid.UUID, attempts int, next time.Time) error {
	args := m.Called(ctx, id, attempts, next)
	return args.Error(0)
}

func (m *MockPaymentsRepository) MarkTimeout(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	args := m.Called(ctx, id, reason)
	return args.Bool(0), args.Error(1)
}

func (m *MockPaymentsRepository) Requeue(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PaymentTransaction), args.Error(1)
}

func (m *MockPaymentsRepository) List(ctx context.Context, filter models.TransactionFilter, limit, offset int) ([]*models.PaymentTransaction, int64, error) {
	args := m.Called(ctx, filter, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]*models.PaymentTransaction), args.Get(1).(int64), args.Error(2)
}

func (m *MockPaymentsRepository) ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]*models.PaymentTransaction, error) {
	args := m.Called(ctx, bookingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.PaymentTransaction), args.Error(1)
}

// MockGateway is a mock implementation of mpesa.Gateway
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) InitiateCharge(ctx context.Context, phone string, amount int64, reference string) (string, error) {
	args := m.Called(ctx, phone, amount, reference)
	return args.String(0), args.Error(1)
}

func (m *MockGateway) InitiatePayout(ctx context.Context, phone string, amount int64, reference string) (string, error) {
	args := m.Called(ctx, phone, amount, reference)
	return args.String(0), args.Error(1)
}

func (m *MockGateway) QueryStatus(ctx context.Context, txType models.TransactionType, handle string) (*models.GatewayResult, error) {
	args := m.Called(ctx, txType, handle)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.GatewayResult), args.Error(1)
}

// MockLedger is a mock of the ledger store. WithTx runs fn with a nil transaction.
type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return fn(ctx, nil)
}

func (m *MockLedger) RecordEntry(ctx context.Context, tx pgx.Tx, entry *models.LedgerEntry) error {
	args := m.Called(ctx, tx, entry)
	return args.Error(0)
}

func (m *MockLedger) CompleteEntry(ctx context.Context, tx pgx.Tx, entryID uuid.UUID) (*models.LedgerEntry, error) {
	args := m.Called(ctx, tx, entryID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.LedgerEntry), args.Error(1)
}

func (m *MockLedger) FailEntry(ctx context.Context, tx pgx.Tx, entryID uuid.UUID, reason string) (*models.LedgerEntry, error) {
	args := m.Called(ctx, tx, entryID, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.LedgerEntry), args.Error(1)
}

func (m *MockLedger) ReverseEntry(ctx context.Context, tx pgx.Tx, entryID uuid.UUID, reason string) (*models.LedgerEntry, error) {
	args := m.Called(ctx, tx, entryID, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.LedgerEntry), args.Error(1)
}

func (m *MockLedger) GetBalance(ctx context.Context, driverID uuid.UUID) (*models.Balance, error) {
	args := m.Called(ctx, driverID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Balance), args.Error(1)
}

// MockEscrow is a mock of the escrow state machine service
type MockEscrow struct {
	mock.Mock
}

func (m *MockEscrow) Open(ctx context.Context, tx pgx.Tx, account *models.EscrowAccount) error {
	args := m.Called(ctx, tx, account)
	return args.Error(0)
}

func (m *MockEscrow) ConfirmPayment(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID, externalRef string, amount int64) (*escrow.Transition, error) {
	args := m.Called(ctx, tx, bookingID, externalRef, amount)
	return transition(args)
}

// AfterCommit is recorded without an expectation so tests only assert it when they care
func (m *MockEscrow) AfterCommit(ctx context.Context, tr *escrow.Transition) {
	if tr == nil {
		return
	}
	m.Called(ctx, tr)
}

func (m *MockEscrow) Release(ctx context.Context, bookingID uuid.UUID, actor string) (*escrow.Transition, error) {
	args := m.Called(ctx, bookingID, actor)
	return transition(args)
}

func (m *MockEscrow) RefundInTx(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID, actor, reason string) (*escrow.Transition, error) {
	args := m.Called(ctx, tx, bookingID, actor, reason)
	return transition(args)
}

func (m *MockEscrow) Dispute(ctx context.Context, bookingID uuid.UUID, reason string) (*escrow.Transition, error) {
	args := m.Called(ctx, bookingID, reason)
	return transition(args)
}

func (m *MockEscrow) ResolveDisputeInTx(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID, outcome models.DisputeOutcome, note string) (*escrow.Transition, error) {
	args := m.Called(ctx, tx, bookingID, outcome, note)
	return transition(args)
}

func (m *MockEscrow) Get(ctx context.Context, bookingID uuid.UUID) (*models.EscrowAccount, error) {
	args := m.Called(ctx, bookingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.EscrowAccount), args.Error(1)
}

func (m *MockEscrow) List(ctx context.Context, filter models.EscrowFilter, limit, offset int) ([]*models.EscrowAccount, int64, error) {
	args := m.Called(ctx, filter, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]*models.EscrowAccount), args.Get(1).(int64), args.Error(2)
}

func (m *MockEscrow) Summary(ctx context.Context) (*models.EscrowSummary, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.EscrowSummary), args.Error(1)
}

func (m *MockEscrow) Audit(ctx context.Context, bookingID uuid.UUID) (*models.EscrowAudit, error) {
	args := m.Called(ctx, bookingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.EscrowAudit), args.Error(1)
}

func transition(args mock.Arguments) (*escrow.Transition, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*escrow.Transition), args.Error(1)
}

// MockPromos is a mock of the promo code service
type MockPromos struct {
	mock.Mock
}

func (m *MockPromos) Quote(ctx context.Context, code string, userID, bookingID uuid.UUID, amount int64) (*promos.PromoCodeUse, error) {
	args := m.Called(ctx, code, userID, bookingID, amount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*promos.PromoCodeUse), args.Error(1)
}

func (m *MockPromos) RecordUse(ctx context.Context, tx pgx.Tx, use *promos.PromoCodeUse) error {
	args := m.Called(ctx, tx, use)
	return args.Error(0)
}
