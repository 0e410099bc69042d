package escrow

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/richxcame/escrow-settlement/pkg/common"
	"github.com/richxcame/escrow-settlement/pkg/models"
)

const accountColumns = `booking_id, customer_id, driver_id, state, held_amount, gross_amount,
	discount_amount, promo_code, pickup, dropoff, distance_km, dispute_reason,
	created_at, updated_at, released_at, refunded_at`

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Create inserts a new account in awaiting_payment
func (r *Repository) Create(ctx context.Context, tx pgx.Tx, account *models.EscrowAccount) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO escrow_accounts (booking_id, customer_id, driver_id, state, gross_amount,
			discount_amount, promo_code, pickup, dropoff, distance_km)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING held_amount, created_at, updated_at`,
		account.BookingID, account.CustomerID, account.DriverID, account.State,
		account.GrossAmount, account.DiscountAmount, account.PromoCode,
		account.Pickup, account.Dropoff, account.DistanceKm,
	).Scan(&account.HeldAmount, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return common.NewInternalError("failed to create escrow account", err)
	}
	return nil
}

// GetForUpdate locks and returns the account. Callers must take this lock before any wallet lock.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID) (*models.EscrowAccount, error) {
	return getAccount(tx.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM escrow_accounts WHERE booking_id = $1 FOR UPDATE`, bookingID))
}

// Get returns the latest committed account
func (r *Repository) Get(ctx context.Context, bookingID uuid.UUID) (*models.EscrowAccount, error) {
	return getAccount(r.db.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM escrow_accounts WHERE booking_id = $1`, bookingID))
}

func getAccount(row pgx.Row) (*models.EscrowAccount, error) {
	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.NewNotFoundError("escrow account not found", nil)
	}
	if err != nil {
		return nil, common.NewInternalError("failed to get escrow account", err)
	}
	return account, nil
}

// UpdateState persists a transition. held_amount is owned by the ledger and is read back, not written.
func (r *Repository) UpdateState(ctx context.Context, tx pgx.Tx, account *models.EscrowAccount) error {
	err := tx.QueryRow(ctx, `
		UPDATE escrow_accounts
		SET state = $1,
			dispute_reason = COALESCE($2, dispute_reason),
			released_at = CASE WHEN $1 = 'released' THEN NOW() ELSE released_at END,
			refunded_at = CASE WHEN $1 = 'refunded' THEN NOW() ELSE refunded_at END,
			updated_at = NOW()
		WHERE booking_id = $3
		RETURNING held_amount, updated_at, released_at, refunded_at`,
		account.State, account.DisputeReason, account.BookingID,
	).Scan(&account.HeldAmount, &account.UpdatedAt, &account.ReleasedAt, &account.RefundedAt)
	if err != nil {
		return common.NewInternalError("failed to update escrow state", err)
	}
	return nil
}

// List returns accounts newest first with the total matching the filter
func (r *Repository) List(ctx context.Context, filter models.EscrowFilter, limit, offset int) ([]*models.EscrowAccount, int64, error) {
	whereClause := "WHERE 1=1"
	args := make([]interface{}, 0)
	argIndex := 1

	if filter.State != nil {
		whereClause += fmt.Sprintf(" AND state = $%d", argIndex)
		args = append(args, *filter.State)
		argIndex++
	}
	if filter.DriverID != nil {
		whereClause += fmt.Sprintf(" AND driver_id = $%d", argIndex)
		args = append(args, *filter.DriverID)
		argIndex++
	}

	var total int64
	if err := r.db.QueryRow(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM escrow_accounts %s", whereClause), args...,
	).Scan(&total); err != nil {
		return nil, 0, common.NewInternalError("failed to count escrow accounts", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM escrow_accounts %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, accountColumns, whereClause, argIndex, argIndex+1)
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, common.NewInternalError("failed to list escrow accounts", err)
	}
	defer rows.Close()

	accounts := make([]*models.EscrowAccount, 0)
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, 0, common.NewInternalError("failed to scan escrow account", err)
		}
		accounts = append(accounts, account)
	}

	return accounts, total, rows.Err()
}

// Summary aggregates escrow counts and collected platform fees
func (r *Repository) Summary(ctx context.Context) (*models.EscrowSummary, error) {
	summary := &models.EscrowSummary{}

	err := r.db.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE state = 'held'),
			COUNT(*) FILTER (WHERE state = 'released'),
			COUNT(*) FILTER (WHERE state = 'refunded'),
			COUNT(*) FILTER (WHERE state = 'disputed'),
			COALESCE(SUM(held_amount), 0)
		FROM escrow_accounts`,
	).Scan(
		&summary.HeldCount,
		&summary.ReleasedCount,
		&summary.RefundedCount,
		&summary.DisputedCount,
		&summary.TotalHeld,
	)
	if err != nil {
		return nil, common.NewInternalError("failed to get escrow summary", err)
	}

	err = r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM ledger_entries
		WHERE kind = 'fee' AND status IN ('pending', 'completed')`,
	).Scan(&summary.TotalPlatformFees)
	if err != nil {
		return nil, common.NewInternalError("failed to sum platform fees", err)
	}

	return summary, nil
}

func scanAccount(row pgx.Row) (*models.EscrowAccount, error) {
	a := &models.EscrowAccount{}
	err := row.Scan(
		&a.BookingID, &a.CustomerID, &a.DriverID, &a.State, &a.HeldAmount, &a.GrossAmount,
		&a.DiscountAmount, &a.PromoCode, &a.Pickup, &a.Dropoff, &a.DistanceKm, &a.DisputeReason,
		&a.CreatedAt, &a.UpdatedAt, &a.ReleasedAt, &a.RefundedAt,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}
