package ledger

import (
	"testing"

	"github.com/richxcame/escrow-settlement/pkg/common"
	"github.com/richxcame/escrow-settlement/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestEffectOf(t *testing.T) {
	tests := []struct {
		kind models.EntryKind
		want Delta
	}{
		{models.EntryKindHold, Delta{EscrowHeld: 100, WalletPending: 100}},
		{models.EntryKindRelease, Delta{EscrowHeld: -100, WalletPending: -100, WalletAvailable: 100}},
		{models.EntryKindRefund, Delta{EscrowHeld: -100, WalletPending: -100}},
		{models.EntryKindFee, Delta{WalletAvailable: -100, PlatformFees: 100}},
		{models.EntryKindWithdrawal, Delta{WalletAvailable: -100}},
		{models.EntryKindDeposit, Delta{WalletAvailable: 100}},
		{models.EntryKind("bogus"), Delta{}},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, EffectOf(tt.kind, 100))
		})
	}
}

func TestDelta_NegateUndoes(t *testing.T) {
	d := EffectOf(models.EntryKindRelease, 350)
	assert.Equal(t, Delta{}, d.Add(d.Negate()))
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name    string
		kind    models.EntryKind
		amount  int64
		snap    Snapshot
		wantErr error
	}{
		{"zero amount", models.EntryKindHold, 0, Snapshot{}, common.ErrInvalidAmount},
		{"negative amount", models.EntryKindDeposit, -5, Snapshot{}, common.ErrInvalidAmount},
		{"hold needs nothing", models.EntryKindHold, 1850, Snapshot{}, nil},
		{"release within hold", models.EntryKindRelease, 1850, Snapshot{EscrowHeld: 1850}, nil},
		{"release over hold", models.EntryKindRelease, 1851, Snapshot{EscrowHeld: 1850}, common.ErrOverRelease},
		{"refund over hold", models.EntryKindRefund, 10, Snapshot{}, common.ErrOverRelease},
		{"withdrawal within balance", models.EntryKindWithdrawal, 1000, Snapshot{WalletAvailable: 1850}, nil},
		{"withdrawal overdraft", models.EntryKindWithdrawal, 2000, Snapshot{WalletAvailable: 1850}, common.ErrInsufficientBalance},
		{"fee overdraft", models.EntryKindFee, 10, Snapshot{WalletAvailable: 5}, common.ErrInsufficientBalance},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Check(&models.LedgerEntry{Kind: tt.kind, Amount: tt.amount}, tt.snap)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestHeldFromEntries(t *testing.T) {
	entries := []*models.LedgerEntry{
		{Kind: models.EntryKindHold, Amount: 1850, Status: models.EntryStatusCompleted},
		{Kind: models.EntryKindRelease, Amount: 1000, Status: models.EntryStatusCompleted},
		{Kind: models.EntryKindRefund, Amount: 300, Status: models.EntryStatusReversed},
		{Kind: models.EntryKindFee, Amount: 50, Status: models.EntryStatusCompleted},
	}
	assert.Equal(t, int64(850), HeldFromEntries(entries))
}

func TestFeeAmount(t *testing.T) {
	assert.Equal(t, int64(0), FeeAmount(1850, 0))
	assert.Equal(t, int64(185), FeeAmount(1850, 1000))
	assert.Equal(t, int64(46), FeeAmount(1850, 250))
	assert.Equal(t, int64(0), FeeAmount(0, 1000))
}

func TestTouchesEscrow(t *testing.T) {
	assert.True(t, TouchesEscrow(models.EntryKindHold))
	assert.True(t, TouchesEscrow(models.EntryKindFee))
	assert.False(t, TouchesEscrow(models.EntryKindWithdrawal))
	assert.False(t, TouchesEscrow(models.EntryKindDeposit))
}
