package escrow

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/richxcame/escrow-settlement/internal/ledger"
	"github.com/richxcame/escrow-settlement/pkg/models"
)

// RepositoryInterface defines escrow account persistence
type RepositoryInterface interface {
	Create(ctx context.Context, tx pgx.Tx, account *models.EscrowAccount) error
	GetForUpdate(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID) (*models.EscrowAccount, error)
	Get(ctx context.Context, bookingID uuid.UUID) (*models.EscrowAccount, error)
	UpdateState(ctx context.Context, tx pgx.Tx, account *models.EscrowAccount) error
	List(ctx context.Context, filter models.EscrowFilter, limit, offset int) ([]*models.EscrowAccount, int64, error)
	Summary(ctx context.Context) (*models.EscrowSummary, error)
}

// LedgerInterface is the part of the ledger store escrow transitions write through
type LedgerInterface interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error
	RecordEntry(ctx context.Context, tx pgx.Tx, entry *models.LedgerEntry) error
	HasExternalRef(ctx context.Context, tx pgx.Tx, kind models.EntryKind, ref string) (bool, error)
	Reconcile(ctx context.Context, bookingID uuid.UUID) (*ledger.Reconciliation, error)
}
