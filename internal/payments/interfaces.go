package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/richxcame/escrow-settlement/internal/escrow"
	"github.com/richxcame/escrow-settlement/internal/promos"
	"github.com/richxcame/escrow-settlement/pkg/models"
)

// RepositoryInterface defines payment transaction persistence
type RepositoryInterface interface {
	Create(ctx context.Context, tx pgx.Tx, txn *models.PaymentTransaction) error
	Get(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.PaymentTransaction, error)
	GetByHandle(ctx context.Context, handle string) (*models.PaymentTransaction, error)
	SetHandle(ctx context.Context, id uuid.UUID, handle string, next time.Time) error
	Finish(ctx context.Context, tx pgx.Tx, txn *models.PaymentTransaction) error
	ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]*models.PaymentTransaction, error)
	ScheduleRetry(ctx context.Context, id uuid.UUID, attempts int, next time.Time) error
	MarkTimeout(ctx context.Context, id uuid.UUID, reason string) (bool, error)
	Requeue(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error)
	List(ctx context.Context, filter models.TransactionFilter, limit, offset int) ([]*models.PaymentTransaction, int64, error)
	ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]*models.PaymentTransaction, error)
}

// EscrowInterface is the escrow state machine as seen by the payments API
type EscrowInterface interface {
	Open(ctx context.Context, tx pgx.Tx, account *models.EscrowAccount) error
	ConfirmPayment(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID, externalRef string, amount int64) (*escrow.Transition, error)
	AfterCommit(ctx context.Context, tr *escrow.Transition)
	Release(ctx context.Context, bookingID uuid.UUID, actor string) (*escrow.Transition, error)
	RefundInTx(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID, actor, reason string) (*escrow.Transition, error)
	Dispute(ctx context.Context, bookingID uuid.UUID, reason string) (*escrow.Transition, error)
	ResolveDisputeInTx(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID, outcome models.DisputeOutcome, note string) (*escrow.Transition, error)
	Get(ctx context.Context, bookingID uuid.UUID) (*models.EscrowAccount, error)
	List(ctx context.Context, filter models.EscrowFilter, limit, offset int) ([]*models.EscrowAccount, int64, error)
	Summary(ctx context.Context) (*models.EscrowSummary, error)
	Audit(ctx context.Context, bookingID uuid.UUID) (*models.EscrowAudit, error)
}

// LedgerInterface is the part of the ledger store payments writes through
type LedgerInterface interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error
	RecordEntry(ctx context.Context, tx pgx.Tx, entry *models.LedgerEntry) error
	CompleteEntry(ctx context.Context, tx pgx.Tx, entryID uuid.UUID) (*models.LedgerEntry, error)
	FailEntry(ctx context.Context, tx pgx.Tx, entryID uuid.UUID, reason string) (*models.LedgerEntry, error)
	ReverseEntry(ctx context.Context, tx pgx.Tx, entryID uuid.UUID, reason string) (*models.LedgerEntry, error)
	GetBalance(ctx context.Context, driverID uuid.UUID) (*models.Balance, error)
}

// PromoInterface prices and records promo code use inside the booking transaction
type PromoInterface interface {
	Quote(ctx context.Context, code string, userID, bookingID uuid.UUID, amount int64) (*promos.PromoCodeUse, error)
	RecordUse(ctx context.Context, tx pgx.Tx, use *promos.PromoCodeUse) error
}

// Notifier delivers customer and driver notices
type Notifier interface {
	Send(ctx context.Context, n *models.Notification) error
}
