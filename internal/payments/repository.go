package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/richxcame/escrow-settlement/pkg/common"
	"github.com/richxcame/escrow-settlement/pkg/models"
)

const transactionColumns = `id, booking_id, user_id, driver_id, type, amount, phone_number, status,
	gateway_handle, mpesa_receipt_number, failure_reason, attempts, next_attempt_at,
	ledger_entry_id, created_at, updated_at, completed_at`

// Repository handles payment transaction persistence
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new payments repository
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Create inserts a pending transaction inside the caller's transaction
func (r *Repository) Create(ctx context.Context, tx pgx.Tx, txn *models.PaymentTransaction) error {
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	if txn.Status == "" {
		txn.Status = models.TransactionPending
	}

	err := tx.QueryRow(ctx, `
		INSERT INTO payment_transactions (id, booking_id, user_id, driver_id, type, amount,
			phone_number, status, ledger_entry_id, next_attempt_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING attempts, created_at, updated_at`,
		txn.ID, txn.BookingID, txn.UserID, txn.DriverID, txn.Type, txn.Amount,
		txn.PhoneNumber, txn.Status, txn.LedgerEntryID, txn.NextAttemptAt,
	).Scan(&txn.Attempts, &txn.CreatedAt, &txn.UpdatedAt)
	if err != nil {
		return common.NewInternalError("failed to create payment transaction", err)
	}
	return nil
}

// Get returns a transaction by ID
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error) {
	return getTransaction(r.db.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM payment_transactions WHERE id = $1`, id))
}

// GetForUpdate locks the transaction row so concurrent callbacks and polls apply a result once
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.PaymentTransaction, error) {
	return getTransaction(tx.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM payment_transactions WHERE id = $1 FOR UPDATE`, id))
}

// GetByHandle looks a transaction up by the gateway's request identifier
func (r *Repository) GetByHandle(ctx context.Context, handle string) (*models.PaymentTransaction, error) {
	return getTransaction(r.db.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM payment_transactions WHERE gateway_handle = $1`, handle))
}

func getTransaction(row pgx.Row) (*models.PaymentTransaction, error) {
	txn, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.NewNotFoundError("payment transaction not found", nil)
	}
	if err != nil {
		return nil, common.NewInternalError("failed to get payment transaction", err)
	}
	return txn, nil
}

// SetHandle stores the gateway handle once initiation succeeded and schedules the first poll
func (r *Repository) SetHandle(ctx context.Context, id uuid.UUID, handle string, next time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE payment_transactions
		SET gateway_handle = $1, next_attempt_at = $2, updated_at = NOW()
		WHERE id = $3 AND gateway_handle IS NULL`,
		handle, next, id,
	)
	if err != nil {
		return common.NewInternalError("failed to store gateway handle", err)
	}
	return nil
}

// Finish persists a terminal outcome together with the ledger change that produced it
func (r *Repository) Finish(ctx context.Context, tx pgx.Tx, txn *models.PaymentTransaction) error {
	err := tx.QueryRow(ctx, `
		UPDATE payment_transactions
		SET status = $1,
			mpesa_receipt_number = COALESCE($2, mpesa_receipt_number),
			failure_reason = $3,
			ledger_entry_id = COALESCE($4, ledger_entry_id),
			completed_at = CASE WHEN $1 = 'completed' THEN NOW() ELSE completed_at END,
			updated_at = NOW()
		WHERE id = $5
		RETURNING updated_at, completed_at`,
		txn.Status, txn.MpesaReceiptNumber, txn.FailureReason, txn.LedgerEntryID, txn.ID,
	).Scan(&txn.UpdatedAt, &txn.CompletedAt)
	if err != nil {
		return common.NewInternalError("failed to finish payment transaction", err)
	}
	return nil
}

// ClaimDue leases up to limit due pending transactions. The lease pushes next_attempt_at forward
// so other reconciler instances skip them without a lock being held during gateway calls.
func (r *Repository) ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]*models.PaymentTransaction, error) {
	rows, err := r.db.Query(ctx, `
		UPDATE payment_transactions
		SET next_attempt_at = NOW() + make_interval(secs => $2), updated_at = NOW()
		WHERE id IN (
			SELECT id FROM payment_transactions
			WHERE status = 'pending' AND next_attempt_at <= NOW()
			ORDER BY next_attempt_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+transactionColumns,
		limit, lease.Seconds(),
	)
	if err != nil {
		return nil, common.NewInternalError("failed to claim due transactions", err)
	}
	defer rows.Close()

	return collectTransactions(rows)
}

// ScheduleRetry records a poll attempt on a still-pending transaction
func (r *Repository) ScheduleRetry(ctx context.Context, id uuid.UUID, attempts int, next time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE payment_transactions
		SET attempts = $1, next_attempt_at = $2, updated_at = NOW()
		WHERE id = $3 AND status = 'pending'`,
		attempts, next, id,
	)
	if err != nil {
		return common.NewInternalError("failed to schedule retry", err)
	}
	return nil
}

// MarkTimeout moves a pending transaction to timeout. It reports false if another writer
// resolved it first.
func (r *Repository) MarkTimeout(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE payment_transactions
		SET status = 'timeout', failure_reason = $1, updated_at = NOW()
		WHERE id = $2 AND status = 'pending'`,
		reason, id,
	)
	if err != nil {
		return false, common.NewInternalError("failed to mark transaction timeout", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Requeue hands a timed-out transaction back to the reconciler with a fresh attempt budget
func (r *Repository) Requeue(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error) {
	txn, err := scanTransaction(r.db.QueryRow(ctx, `
		UPDATE payment_transactions
		SET status = 'pending', attempts = 0, next_attempt_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'timeout'
		RETURNING `+transactionColumns,
		id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := r.Get(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, common.NewConflictError("only timed-out transactions can be retried")
	}
	if err != nil {
		return nil, common.NewInternalError("failed to requeue transaction", err)
	}
	return txn, nil
}

// List returns transactions newest first with the total matching the filter
func (r *Repository) List(ctx context.Context, filter models.TransactionFilter, limit, offset int) ([]*models.PaymentTransaction, int64, error) {
	whereClause := "WHERE 1=1"
	args := make([]interface{}, 0)
	argIndex := 1

	if filter.Status != nil {
		whereClause += fmt.Sprintf(" AND status = $%d", argIndex)
		args = append(args, *filter.Status)
		argIndex++
	}
	if filter.Type != nil {
		whereClause += fmt.Sprintf(" AND type = $%d", argIndex)
		args = append(args, *filter.Type)
		argIndex++
	}

	var total int64
	if err := r.db.QueryRow(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM payment_transactions %s", whereClause), args...,
	).Scan(&total); err != nil {
		return nil, 0, common.NewInternalError("failed to count transactions", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM payment_transactions %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, transactionColumns, whereClause, argIndex, argIndex+1)
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, common.NewInternalError("failed to list transactions", err)
	}
	defer rows.Close()

	txns, err := collectTransactions(rows)
	if err != nil {
		return nil, 0, err
	}
	return txns, total, nil
}

// ListByBooking returns every gateway interaction for a booking, oldest first
func (r *Repository) ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]*models.PaymentTransaction, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+transactionColumns+` FROM payment_transactions
		WHERE booking_id = $1 ORDER BY created_at`, bookingID)
	if err != nil {
		return nil, common.NewInternalError("failed to list booking transactions", err)
	}
	defer rows.Close()

	return collectTransactions(rows)
}

func collectTransactions(rows pgx.Rows) ([]*models.PaymentTransaction, error) {
	txns := make([]*models.PaymentTransaction, 0)
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, common.NewInternalError("failed to scan payment transaction", err)
		}
		txns = append(txns, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, common.NewInternalError("failed to read payment transactions", err)
	}
	return txns, nil
}

func scanTransaction(row pgx.Row) (*models.PaymentTransaction, error) {
	t := &models.PaymentTransaction{}
	err := row.Scan(
		&t.ID, &t.BookingID, &t.UserID, &t.DriverID, &t.Type, &t.Amount, &t.PhoneNumber, &t.Status,
		&t.GatewayHandle, &t.MpesaReceiptNumber, &t.FailureReason, &t.Attempts, &t.NextAttemptAt,
		&t.LedgerEntryID, &t.CreatedAt, &t.UpdatedAt, &t.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}
