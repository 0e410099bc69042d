package promos

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/richxcame/escrow-settlement/pkg/common"
	"github.com/richxcame/escrow-settlement/pkg/database"
)

const selectPromo = `SELECT id, code, description, discount_type, discount_value,
	max_discount_amount, min_booking_amount, max_uses, total_uses, uses_per_user,
	valid_from, valid_until, is_active, created_by, created_at, updated_at
	FROM promo_codes`

var errPromoNotFound = common.NewNotFoundError("promo code not found", nil)

// Repository stores promo codes and their redemptions in Postgres
type Repository struct {
	db *pgxpool.Pool
}

var _ PromosRepository = (*Repository)(nil)

// NewRepository creates a promo repository on the shared pool
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Create inserts promo, assigning its ID and timestamps
func (r *Repository) Create(ctx context.Context, promo *PromoCode) error {
	promo.ID = uuid.New()
	promo.CreatedAt = time.Now().UTC()
	promo.UpdatedAt = promo.CreatedAt

	_, err := r.db.Exec(ctx, `
		INSERT INTO promo_codes (id, code, description, discount_type, discount_value,
			max_discount_amount, min_booking_amount, max_uses, uses_per_user, valid_from,
			valid_until, is_active, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)`,
		promo.ID, promo.Code, promo.Description, promo.DiscountType, promo.DiscountValue,
		promo.MaxDiscountAmount, promo.MinBookingAmount, promo.MaxUses, promo.UsesPerUser,
		promo.ValidFrom, promo.ValidUntil, promo.IsActive, promo.CreatedBy, promo.CreatedAt,
	)
	switch {
	case database.IsUniqueViolation(err, "promo_codes_code_key"):
		return common.NewConflictError("promo code already exists")
	case err != nil:
		return fmt.Errorf("insert promo code: %w", err)
	}
	return nil
}

// FindByCode loads a code by its normalized text
func (r *Repository) FindByCode(ctx context.Context, code string) (*PromoCode, error) {
	return r.queryOne(ctx, selectPromo+` WHERE code = $1`, code)
}

// FindByID loads a code by ID
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*PromoCode, error) {
	return r.queryOne(ctx, selectPromo+` WHERE id = $1`, id)
}

// CountUserUses counts userID's redemptions of a code
func (r *Repository) CountUserUses(ctx context.Context, promoID, userID uuid.UUID) (int, error) {
	return countUses(ctx, r.db, promoID, userID)
}

// RecordUse claims one redemption inside the booking transaction. The promo row stays locked
// by the UPDATE until commit, so both limits hold under concurrent bookings.
func (r *Repository) RecordUse(ctx context.Context, tx pgx.Tx, use *PromoCodeUse) error {
	var perUser int
	err := tx.QueryRow(ctx, `
		UPDATE promo_codes
		SET total_uses = total_uses + 1, updated_at = NOW()
		WHERE id = $1 AND is_active AND (max_uses IS NULL OR total_uses < max_uses)
		RETURNING uses_per_user`, use.PromoCodeID,
	).Scan(&perUser)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrPromoExhausted
	}
	if err != nil {
		return fmt.Errorf("claim promo code use: %w", err)
	}

	used, err := countUses(ctx, tx, use.PromoCodeID, use.UserID)
	if err != nil {
		return err
	}
	if used >= perUser {
		return ErrPromoUserLimit
	}

	use.ID = uuid.New()
	use.UsedAt = time.Now().UTC()
	_, err = tx.Exec(ctx, `
		INSERT INTO promo_code_uses (id, promo_code_id, user_id, booking_id, discount_amount,
			original_amount, final_amount, used_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		use.ID, use.PromoCodeID, use.UserID, use.BookingID, use.DiscountAmount,
		use.OriginalAmount, use.FinalAmount, use.UsedAt,
	)
	if database.IsUniqueViolation(err, "") {
		return fmt.Errorf("%w: promo code already applied to this booking", common.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert promo code use: %w", err)
	}
	return nil
}

// List returns a page of codes, newest first, with the total count
func (r *Repository) List(ctx context.Context, limit, offset int) ([]*PromoCode, int64, error) {
	var total int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM promo_codes`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count promo codes: %w", err)
	}

	rows, err := r.db.Query(ctx, selectPromo+` ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list promo codes: %w", err)
	}
	promos, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[PromoCode])
	if err != nil {
		return nil, 0, fmt.Errorf("scan promo codes: %w", err)
	}
	return promos, total, nil
}

// Update rewrites the mutable fields of a code and fills in its code text
func (r *Repository) Update(ctx context.Context, promo *PromoCode) error {
	err := r.db.QueryRow(ctx, `
		UPDATE promo_codes
		SET description = $2, discount_type = $3, discount_value = $4,
		    max_discount_amount = $5, min_booking_amount = $6, max_uses = $7,
		    uses_per_user = $8, valid_from = $9, valid_until = $10, is_active = $11,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING code, total_uses, created_at, updated_at`,
		promo.ID, promo.Description, promo.DiscountType, promo.DiscountValue,
		promo.MaxDiscountAmount, promo.MinBookingAmount, promo.MaxUses, promo.UsesPerUser,
		promo.ValidFrom, promo.ValidUntil, promo.IsActive,
	).Scan(&promo.Code, &promo.TotalUses, &promo.CreatedAt, &promo.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return errPromoNotFound
	}
	if err != nil {
		return fmt.Errorf("update promo code: %w", err)
	}
	return nil
}

// Deactivate switches a code off and returns its text for cache eviction
func (r *Repository) Deactivate(ctx context.Context, id uuid.UUID) (string, error) {
	var code string
	err := r.db.QueryRow(ctx,
		`UPDATE promo_codes SET is_active = FALSE, updated_at = NOW() WHERE id = $1 RETURNING code`, id,
	).Scan(&code)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", errPromoNotFound
	}
	if err != nil {
		return "", fmt.Errorf("deactivate promo code: %w", err)
	}
	return code, nil
}

// Stats aggregates the redemptions of a code
func (r *Repository) Stats(ctx context.Context, id uuid.UUID) (*UsageStats, error) {
	rows, err := r.db.Query(ctx, `
		SELECT COUNT(DISTINCT user_id)             AS unique_users,
		       COUNT(*)                            AS total_uses,
		       COALESCE(SUM(discount_amount), 0)   AS total_discount,
		       COALESCE(SUM(original_amount), 0)   AS total_original_amount,
		       COALESCE(SUM(final_amount), 0)      AS total_final_amount
		FROM promo_code_uses
		WHERE promo_code_id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("promo usage stats: %w", err)
	}
	stats, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[UsageStats])
	if err != nil {
		return nil, fmt.Errorf("scan promo usage stats: %w", err)
	}
	return stats, nil
}

func (r *Repository) queryOne(ctx context.Context, sql string, arg any) (*PromoCode, error) {
	rows, err := r.db.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("load promo code: %w", err)
	}
	promo, err := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByName[PromoCode])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errPromoNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan promo code: %w", err)
	}
	return promo, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func countUses(ctx context.Context, q querier, promoID, userID uuid.UUID) (int, error) {
	var n int
	err := q.QueryRow(ctx,
		`SELECT COUNT(*) FROM promo_code_uses WHERE promo_code_id = $1 AND user_id = $2`,
		promoID, userID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count promo code uses: %w", err)
	}
	return n, nil
}
