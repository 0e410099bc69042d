package escrow

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/richxcame/escrow-settlement/internal/ledger"
	"github.com/richxcame/escrow-settlement/pkg/common"
	"github.com/richxcame/escrow-settlement/pkg/eventbus"
	"github.com/richxcame/escrow-settlement/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryStore backs both the repository and the ledger so held_amount follows the entries
// the way the Postgres implementation does.
type memoryStore struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*models.EscrowAccount
	entries  []*models.LedgerEntry
	refs     map[string]bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		accounts: make(map[uuid.UUID]*models.EscrowAccount),
		refs:     make(map[string]bool),
	}
}

func (m *memoryStore) Create(_ context.Context, _ pgx.Tx, account *models.EscrowAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *account
	m.accounts[account.BookingID] = &cp
	return nil
}

func (m *memoryStore) GetForUpdate(ctx context.Context, _ pgx.Tx, bookingID uuid.UUID) (*models.EscrowAccount, error) {
	return m.Get(ctx, bookingID)
}

func (m *memoryStore) Get(_ context.Context, bookingID uuid.UUID) (*models.EscrowAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[bookingID]
	if !ok {
		return nil, common.NewNotFoundError("escrow account not found", nil)
	}
	cp := *a
	return &cp, nil
}

func (m *memoryStore) UpdateState(_ context.Context, _ pgx.Tx, account *models.EscrowAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := m.accounts[account.BookingID]
	stored.State = account.State
	stored.DisputeReason = account.DisputeReason
	account.HeldAmount = stored.HeldAmount
	return nil
}

func (m *memoryStore) List(_ context.Context, _ models.EscrowFilter, _, _ int) ([]*models.EscrowAccount, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.EscrowAccount, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, a)
	}
	return out, int64(len(out)), nil
}

func (m *memoryStore) Summary(_ context.Context) (*models.EscrowSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &models.EscrowSummary{}
	for _, a := range m.accounts {
		switch a.State {
		case models.EscrowHeld:
			s.HeldCount++
		case models.EscrowReleased:
			s.ReleasedCount++
		}
	}
	for _, e := range m.entries {
		if e.Kind == models.EntryKindFee {
			s.TotalPlatformFees += e.Amount
		}
	}
	return s, nil
}

func (m *memoryStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return fn(ctx, nil)
}

func (m *memoryStore) RecordEntry(_ context.Context, _ pgx.Tx, entry *models.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.accounts[*entry.BookingID]
	if err := ledger.Check(entry, ledger.Snapshot{EscrowHeld: a.HeldAmount, WalletAvailable: 1 << 40}); err != nil {
		return err
	}
	if entry.ExternalRef != nil {
		key := string(entry.Kind) + ":" + *entry.ExternalRef
		if m.refs[key] {
			return ledger.ErrDuplicateCallback
		}
		m.refs[key] = true
	}
	a.HeldAmount += ledger.EffectOf(entry.Kind, entry.Amount).EscrowHeld
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memoryStore) HasExternalRef(_ context.Context, _ pgx.Tx, kind models.EntryKind, ref string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refs[string(kind)+":"+ref], nil
}

func (m *memoryStore) Reconcile(_ context.Context, bookingID uuid.UUID) (*ledger.Reconciliation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var entries []*models.LedgerEntry
	for _, e := range m.entries {
		if e.BookingID != nil && *e.BookingID == bookingID {
			entries = append(entries, e)
		}
	}
	held := m.accounts[bookingID].HeldAmount
	lh := ledger.HeldFromEntries(entries)
	return &ledger.Reconciliation{BookingID: bookingID, HeldAmount: held, LedgerHeld: lh, Consistent: held == lh, Entries: entries}, nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
}

func (p *recordingPublisher) Publish(_ context.Context, subject string, _ *eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	return nil
}

func newTestService(feeBPS int64) (*Service, *memoryStore, *recordingPublisher) {
	store := newMemoryStore()
	pub := &recordingPublisher{}
	return NewService(store, store, pub, nil, feeBPS), store, pub
}

func openBooking(t *testing.T, svc *Service, gross int64) *models.EscrowAccount {
	t.Helper()
	account := &models.EscrowAccount{
		CustomerID:  uuid.New(),
		DriverID:    uuid.New(),
		GrossAmount: gross,
	}
	require.NoError(t, svc.Open(context.Background(), nil, account))
	return account
}

func TestService_Open(t *testing.T) {
	svc, store, _ := newTestService(0)
	account := openBooking(t, svc, 1850)

	stored, err := store.Get(context.Background(), account.BookingID)
	require.NoError(t, err)
	assert.Equal(t, models.EscrowAwaitingPayment, stored.State)
	assert.Equal(t, int64(0), stored.HeldAmount)

	err = svc.Open(context.Background(), nil, &models.EscrowAccount{GrossAmount: 0})
	assert.ErrorIs(t, err, common.ErrInvalidAmount)
}

func TestService_ConfirmReleaseFlow(t *testing.T) {
	ctx := context.Background()
	svc, store, pub := newTestService(1000)
	account := openBooking(t, svc, 1850)

	tr, err := svc.ConfirmPayment(ctx, nil, account.BookingID, "QKX123", 1850)
	require.NoError(t, err)
	svc.AfterCommit(ctx, tr)
	assert.Equal(t, models.EscrowHeld, tr.To)
	assert.Equal(t, int64(1850), tr.Account.HeldAmount)

	tr, err = svc.Release(ctx, account.BookingID, ActorDriver)
	require.NoError(t, err)
	assert.Equal(t, models.EscrowReleased, tr.To)
	assert.Equal(t, int64(1850), tr.Amount)
	assert.Equal(t, int64(185), tr.Fee)
	assert.Equal(t, int64(0), tr.Account.HeldAmount)

	assert.Equal(t, []string{eventbus.SubjectEscrowHeld, eventbus.SubjectEscrowReleased}, pub.subjects)

	audit, err := svc.Audit(ctx, account.BookingID)
	require.NoError(t, err)
	assert.True(t, audit.Consistent)
	assert.Len(t, audit.Entries, 3)

	summary, err := svc.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ReleasedCount)
	assert.Equal(t, int64(185), summary.TotalPlatformFees)
	_ = store
}

func TestService_ConfirmPayment_DuplicateCallback(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(0)
	account := openBooking(t, svc, 1850)

	_, err := svc.ConfirmPayment(ctx, nil, account.BookingID, "QKX123", 1850)
	require.NoError(t, err)

	_, err = svc.ConfirmPayment(ctx, nil, account.BookingID, "QKX123", 1850)
	assert.ErrorIs(t, err, common.ErrDuplicateCallback)
	assert.True(t, IsDuplicate(err))

	stored, _ := store.Get(ctx, account.BookingID)
	assert.Equal(t, int64(1850), stored.HeldAmount)
	assert.Len(t, store.entries, 1)
}

func TestService_ConfirmPayment_DifferentRefAfterHoldIsInvalid(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(0)
	account := openBooking(t, svc, 1850)

	_, err := svc.ConfirmPayment(ctx, nil, account.BookingID, "QKX123", 1850)
	require.NoError(t, err)

	_, err = svc.ConfirmPayment(ctx, nil, account.BookingID, "QKX999", 1850)
	assert.ErrorIs(t, err, common.ErrInvalidStateTransition)
}

func TestService_ReleaseRequiresHeld(t *testing.T) {
	ctx := context.Background()
	svc, store, pub := newTestService(0)
	account := openBooking(t, svc, 1850)

	_, err := svc.Release(ctx, account.BookingID, ActorDriver)
	assert.ErrorIs(t, err, common.ErrInvalidStateTransition)

	stored, _ := store.Get(ctx, account.BookingID)
	assert.Equal(t, models.EscrowAwaitingPayment, stored.State)
	assert.Empty(t, store.entries)
	assert.Empty(t, pub.subjects)
}

func TestService_RefundPaths(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(0)

	unpaid := openBooking(t, svc, 500)
	tr, err := svc.Refund(ctx, unpaid.BookingID, ActorCustomer, "changed plans")
	require.NoError(t, err)
	assert.Equal(t, models.EscrowRefunded, tr.To)
	assert.Empty(t, store.entries)

	paid := openBooking(t, svc, 700)
	_, err = svc.ConfirmPayment(ctx, nil, paid.BookingID, "R1", 700)
	require.NoError(t, err)
	tr, err = svc.Refund(ctx, paid.BookingID, ActorAdmin, "driver no-show")
	require.NoError(t, err)
	assert.Equal(t, int64(700), tr.Amount)
	assert.Equal(t, int64(0), tr.Account.HeldAmount)

	_, err = svc.Release(ctx, paid.BookingID, ActorAdmin)
	assert.ErrorIs(t, err, common.ErrInvalidStateTransition)
}

func TestService_DisputeAndResolve(t *testing.T) {
	ctx := context.Background()
	svc, _, pub := newTestService(500)
	account := openBooking(t, svc, 2000)

	_, err := svc.ConfirmPayment(ctx, nil, account.BookingID, "R2", 2000)
	require.NoError(t, err)

	tr, err := svc.Dispute(ctx, account.BookingID, "wrong dropoff")
	require.NoError(t, err)
	assert.Equal(t, models.EscrowDisputed, tr.To)
	require.NotNil(t, tr.Account.DisputeReason)
	assert.Equal(t, "wrong dropoff", *tr.Account.DisputeReason)

	_, err = svc.Release(ctx, account.BookingID, ActorDriver)
	assert.ErrorIs(t, err, common.ErrInvalidStateTransition)

	tr, err = svc.ResolveDispute(ctx, account.BookingID, models.OutcomeRelease, "trip verified")
	require.NoError(t, err)
	assert.Equal(t, models.EscrowReleased, tr.To)
	assert.Equal(t, int64(100), tr.Fee)

	_, err = svc.ResolveDispute(ctx, account.BookingID, models.DisputeOutcome("split"), "")
	assert.Error(t, err)

	assert.Contains(t, pub.subjects, eventbus.SubjectEscrowDisputed)
}

func TestService_RefundInTxPublishesOnlyAfterCommit(t *testing.T) {
	// Arrange
	ctx := context.Background()
	svc, store, pub := newTestService(0)
	account := openBooking(t, svc, 900)
	tr, err := svc.ConfirmPayment(ctx, nil, account.BookingID, "R9", 900)
	require.NoError(t, err)
	svc.AfterCommit(ctx, tr)

	// Act
	tr, err = svc.RefundInTx(ctx, nil, account.BookingID, ActorCustomer, "changed plans")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, models.EscrowRefunded, tr.To)
	assert.Equal(t, int64(900), tr.Amount)
	assert.Equal(t, []string{eventbus.SubjectEscrowHeld}, pub.subjects)

	svc.AfterCommit(ctx, tr)
	assert.Equal(t, []string{eventbus.SubjectEscrowHeld, eventbus.SubjectEscrowRefunded}, pub.subjects)
	stored, _ := store.Get(ctx, account.BookingID)
	assert.Equal(t, int64(0), stored.HeldAmount)
}

func TestService_ResolveDisputeInTx(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(0)
	account := openBooking(t, svc, 1200)
	_, err := svc.ConfirmPayment(ctx, nil, account.BookingID, "R10", 1200)
	require.NoError(t, err)
	_, err = svc.Dispute(ctx, account.BookingID, "overcharged")
	require.NoError(t, err)

	_, err = svc.ResolveDisputeInTx(ctx, nil, account.BookingID, models.DisputeOutcome("split"), "")
	assert.Error(t, err)

	tr, err := svc.ResolveDisputeInTx(ctx, nil, account.BookingID, models.OutcomeRefund, "refund approved")
	require.NoError(t, err)
	assert.Equal(t, models.EscrowRefunded, tr.To)
	assert.Equal(t, int64(1200), tr.Amount)
}
