package ledger

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
	"github.com/richxcame/escrow-settlement/pkg/logger"
	"github.com/richxcame/escrow-settlement/pkg/models"
	"github.com/richxcame/escrow-settlement/pkg/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const tracerName = "ledger"

const entryColumns = `id, booking_id, party, party_id, kind, amount, status, external_ref, reason, created_at, updated_at`

// Store is the only writer of ledger entries and the balances derived from them.
// Mutations run inside a caller-supplied transaction so they commit together with
// the state change that caused them.
type Store struct {
	db *pgxpool.Pool
}

// NewStore creates a ledger store backed by the pool
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// WithTx runs fn in a transaction, retrying the whole unit on serialization failures and deadlocks.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return database.RetryableTransaction(ctx, s.db, fn)
}

// RecordEntry inserts entry and applies its balance effect. The escrow row is locked before
// the wallet row so concurrent writers on the same booking and driver never deadlock.
func (s *Store) RecordEntry(ctx context.Context, tx pgx.Tx, entry *models.LedgerEntry) error {
	ctx, span := tracing.StartSpan(ctx, tracerName, "ledger.RecordEntry")
	defer span.End()
	span.SetAttributes(
		attribute.String("ledger.kind", string(entry.Kind)),
		tracing.AmountKey.Int64(entry.Amount),
	)

	if entry.Amount <= 0 {
		entriesRejected.WithLabelValues(string(entry.Kind), rejectionReason(ErrInvalidAmount)).Inc()
		return ErrInvalidAmount
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Status == "" {
		entry.Status = models.EntryStatusPending
	}

	driverID, snap, err := s.lockScope(ctx, tx, entry)
	if err != nil {
		return err
	}

	if err := Check(entry, snap); err != nil {
		entriesRejected.WithLabelValues(string(entry.Kind), rejectionReason(err)).Inc()
		return err
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO ledger_entries (id, booking_id, party, party_id, kind, amount, status, external_ref, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (kind, external_ref) WHERE external_ref IS NOT NULL DO NOTHING
		RETURNING created_at, updated_at`,
		entry.ID, entry.BookingID, entry.Party, entry.PartyID, entry.Kind,
		entry.Amount, entry.Status, entry.ExternalRef, entry.Reason,
	).Scan(&entry.CreatedAt, &entry.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) || database.IsUniqueViolation(err, "") {
		entriesRejected.WithLabelValues(string(entry.Kind), rejectionReason(ErrDuplicateCallback)).Inc()
		return ErrDuplicateCallback
	}
	if err != nil {
		return common.NewInternalError("failed to insert ledger entry", err)
	}

	if entry.HasEffect() {
		if err := applyDelta(ctx, tx, entry.BookingID, driverID, EffectOf(entry.Kind, entry.Amount)); err != nil {
			return err
		}
	}

	entriesRecorded.WithLabelValues(string(entry.Kind), string(entry.Status)).Inc()
	logger.DebugContext(ctx, "ledger entry recorded",
		zap.String("entry_id", entry.ID.String()),
		zap.String("kind", string(entry.Kind)),
		zap.Int64("amount", entry.Amount),
		zap.String("status", string(entry.Status)),
	)
	return nil
}

// ReverseEntry marks a pending or failed entry reversed and removes whatever balance effect
// it still had. Completed history is never rewritten.
func (s *Store) ReverseEntry(ctx context.Context, tx pgx.Tx, entryID uuid.UUID, reason string) (*models.LedgerEntry, error) {
	return s.changeStatus(ctx, tx, entryID, models.EntryStatusReversed, &reason, func(st models.EntryStatus) bool {
		return st == models.EntryStatusPending || st == models.EntryStatusFailed
	}, ErrNotReversible)
}

// CompleteEntry settles a pending entry. Deposits only affect balances from this point.
func (s *Store) CompleteEntry(ctx context.Context, tx pgx.Tx, entryID uuid.UUID) (*models.LedgerEntry, error) {
	return s.changeStatus(ctx, tx, entryID, models.EntryStatusCompleted, nil, isPending, ErrNotPending)
}

// FailEntry marks a pending entry failed, returning any reserved funds.
func (s *Store) FailEntry(ctx context.Context, tx pgx.Tx, entryID uuid.UUID, reason string) (*models.LedgerEntry, error) {
	return s.changeStatus(ctx, tx, entryID, models.EntryStatusFailed, &reason, isPending, ErrNotPending)
}

func isPending(st models.EntryStatus) bool {
	return st == models.EntryStatusPending
}

func (s *Store) changeStatus(
	ctx context.Context,
	tx pgx.Tx,
	entryID uuid.UUID,
	to models.EntryStatus,
	reason *string,
	allowed func(models.EntryStatus) bool,
	notAllowed error,
) (*models.LedgerEntry, error) {
	entry, err := scanEntry(tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE id = $1`, entryID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.NewNotFoundError("ledger entry not found", nil)
	}
	if err != nil {
		return nil, common.NewInternalError("failed to load ledger entry", err)
	}
	if !allowed(entry.Status) {
		return nil, notAllowed
	}

	driverID, snap, err := s.lockScope(ctx, tx, entry)
	if err != nil {
		return nil, err
	}

	// status may have moved while we waited for the scope locks
	if err := tx.QueryRow(ctx,
		`SELECT status FROM ledger_entries WHERE id = $1 FOR UPDATE`, entryID,
	).Scan(&entry.Status); err != nil {
		return nil, common.NewInternalError("failed to lock ledger entry", err)
	}
	if !allowed(entry.Status) {
		return nil, notAllowed
	}

	var delta Delta
	if entry.HasEffect() {
		delta = EffectOf(entry.Kind, entry.Amount).Negate()
	}
	entry.Status = to
	if entry.HasEffect() {
		delta = delta.Add(EffectOf(entry.Kind, entry.Amount))
	}

	if snap.EscrowHeld+delta.EscrowHeld < 0 {
		return nil, ErrOverRelease
	}
	if snap.WalletAvailable+delta.WalletAvailable < 0 {
		return nil, ErrInsufficientBalance
	}

	if err := tx.QueryRow(ctx, `
		UPDATE ledger_entries
		SET status = $1, reason = COALESCE($2, reason), updated_at = NOW()
		WHERE id = $3
		RETURNING reason, updated_at`,
		to, reason, entryID,
	).Scan(&entry.Reason, &entry.UpdatedAt); err != nil {
		return nil, common.NewInternalError("failed to update ledger entry", err)
	}

	if err := applyDelta(ctx, tx, entry.BookingID, driverID, delta); err != nil {
		return nil, err
	}

	entryTransitions.WithLabelValues(string(entry.Kind), string(to)).Inc()
	return entry, nil
}

// lockScope locks the rows an entry affects: the booking's escrow row first, then the wallet.
func (s *Store) lockScope(ctx context.Context, tx pgx.Tx, entry *models.LedgerEntry) (uuid.UUID, Snapshot, error) {
	var (
		snap     Snapshot
		driverID uuid.UUID
	)

	if TouchesEscrow(entry.Kind) {
		if entry.BookingID == nil {
			return uuid.Nil, snap, common.NewBadRequestError(fmt.Sprintf("%s entry requires a booking", entry.Kind), nil)
		}
		err := tx.QueryRow(ctx,
			`SELECT held_amount, driver_id FROM escrow_accounts WHERE booking_id = $1 FOR UPDATE`,
			*entry.BookingID,
		).Scan(&snap.EscrowHeld, &driverID)
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, snap, common.NewNotFoundError("escrow account not found", nil)
		}
		if err != nil {
			return uuid.Nil, snap, common.NewInternalError("failed to lock escrow account", err)
		}
	} else {
		if entry.PartyID == nil {
			return uuid.Nil, snap, common.NewBadRequestError(fmt.Sprintf("%s entry requires a party", entry.Kind), nil)
		}
		driverID = *entry.PartyID
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO driver_wallets (driver_id) VALUES ($1) ON CONFLICT (driver_id) DO NOTHING`, driverID,
	); err != nil {
		return uuid.Nil, snap, common.NewInternalError("failed to create driver wallet", err)
	}

	var pending int64
	if err := tx.QueryRow(ctx,
		`SELECT available_balance, pending_escrow_balance FROM driver_wallets WHERE driver_id = $1 FOR UPDATE`,
		driverID,
	).Scan(&snap.WalletAvailable, &pending); err != nil {
		return uuid.Nil, snap, common.NewInternalError("failed to lock driver wallet", err)
	}

	return driverID, snap, nil
}

func applyDelta(ctx context.Context, tx pgx.Tx, bookingID *uuid.UUID, driverID uuid.UUID, d Delta) error {
	if d.EscrowHeld != 0 && bookingID != nil {
		if _, err := tx.Exec(ctx,
			`UPDATE escrow_accounts SET held_amount = held_amount + $1, updated_at = NOW() WHERE booking_id = $2`,
			d.EscrowHeld, *bookingID,
		); err != nil {
			return common.NewInternalError("failed to update escrow balance", err)
		}
	}

	if d.WalletAvailable != 0 || d.WalletPending != 0 {
		if _, err := tx.Exec(ctx, `
			UPDATE driver_wallets
			SET available_balance = available_balance + $1,
				pending_escrow_balance = pending_escrow_balance + $2,
				updated_at = NOW()
			WHERE driver_id = $3`,
			d.WalletAvailable, d.WalletPending, driverID,
		); err != nil {
			return common.NewInternalError("failed to update driver wallet", err)
		}
	}

	return nil
}

// GetBalance returns the committed running totals for a driver. Unknown drivers have zero balances.
func (s *Store) GetBalance(ctx context.Context, driverID uuid.UUID) (*models.Balance, error) {
	balance := &models.Balance{PartyID: driverID, Currency: models.Currency}

	err := s.db.QueryRow(ctx,
		`SELECT available_balance, pending_escrow_balance FROM driver_wallets WHERE driver_id = $1`,
		driverID,
	).Scan(&balance.Available, &balance.Pending)
	if errors.Is(err, pgx.ErrNoRows) {
		return balance, nil
	}
	if err != nil {
		return nil, common.NewInternalError("failed to get balance", err)
	}

	return balance, nil
}

// HasExternalRef reports whether an entry of kind was already recorded for ref.
func (s *Store) HasExternalRef(ctx context.Context, tx pgx.Tx, kind models.EntryKind, ref string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM ledger_entries WHERE kind = $1 AND external_ref = $2)`,
		kind, ref,
	).Scan(&exists)
	if err != nil {
		return false, common.NewInternalError("failed to check external reference", err)
	}
	return exists, nil
}

// EntriesForBooking returns the booking's entries oldest first
func (s *Store) EntriesForBooking(ctx context.Context, bookingID uuid.UUID) ([]*models.LedgerEntry, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE booking_id = $1 ORDER BY created_at, id`,
		bookingID,
	)
	if err != nil {
		return nil, common.NewInternalError("failed to get ledger entries", err)
	}
	defer rows.Close()

	entries := make([]*models.LedgerEntry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, common.NewInternalError("failed to scan ledger entry", err)
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// Reconciliation compares a booking's running held amount with its entries.
type Reconciliation struct {
	BookingID  uuid.UUID             `json:"booking_id"`
	HeldAmount int64                 `json:"held_amount"`
	LedgerHeld int64                 `json:"ledger_held"`
	Consistent bool                  `json:"consistent"`
	Entries    []*models.LedgerEntry `json:"entries"`
	CheckedAt  time.Time             `json:"checked_at"`
}

// Reconcile recomputes the held amount of a booking from its entries.
func (s *Store) Reconcile(ctx context.Context, bookingID uuid.UUID) (*Reconciliation, error) {
	var held int64
	err := s.db.QueryRow(ctx,
		`SELECT held_amount FROM escrow_accounts WHERE booking_id = $1`, bookingID,
	).Scan(&held)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.NewNotFoundError("escrow account not found", nil)
	}
	if err != nil {
		return nil, common.NewInternalError("failed to get escrow account", err)
	}

	entries, err := s.EntriesForBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	rec := &Reconciliation{
		BookingID:  bookingID,
		HeldAmount: held,
		LedgerHeld: HeldFromEntries(entries),
		Entries:    entries,
		CheckedAt:  time.Now().UTC(),
	}
	rec.Consistent = rec.HeldAmount == rec.LedgerHeld

	if !rec.Consistent {
		logger.ErrorContext(ctx, "escrow balance drifted from ledger",
			zap.String("booking_id", bookingID.String()),
			zap.Int64("held_amount", rec.HeldAmount),
			zap.Int64("ledger_held", rec.LedgerHeld),
		)
	}

	return rec, nil
}

func scanEntry(row pgx.Row) (*models.LedgerEntry, error) {
	e := &models.LedgerEntry{}
	err := row.Scan(
		&e.ID, &e.BookingID, &e.Party, &e.PartyID, &e.Kind, &e.Amount,
		&e.Status, &e.ExternalRef, &e.Reason, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return e, nil
}
