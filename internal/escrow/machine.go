package escrow

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/richxcame/escrow-settlement/internal/ledger"
	"github.com/richxcame/escrow-settlement/pkg/common"
	"github.com/richxcame/escrow-settlement/pkg/models"
)

// Action is a request to move an escrow account between states.
type Action string

const (
	ActionConfirmPayment Action = "confirm_payment"
	ActionRelease        Action = "release"
	ActionRefund         Action = "refund"
	ActionDispute        Action = "dispute"
	ActionResolveRelease Action = "resolve_release"
	ActionResolveRefund  Action = "resolve_refund"
)

var allowedTransitions = map[models.EscrowState][]models.EscrowState{
	models.EscrowAwaitingPayment: {models.EscrowHeld, models.EscrowRefunded},
	models.EscrowHeld:            {models.EscrowReleased, models.EscrowRefunded, models.EscrowDisputed},
	models.EscrowDisputed:        {models.EscrowReleased, models.EscrowRefunded},
}

var actionSources = map[Action][]models.EscrowState{
	ActionConfirmPayment: {models.EscrowAwaitingPayment},
	ActionRelease:        {models.EscrowHeld},
	ActionRefund:         {models.EscrowAwaitingPayment, models.EscrowHeld},
	ActionDispute:        {models.EscrowHeld},
	ActionResolveRelease: {models.EscrowDisputed},
	ActionResolveRefund:  {models.EscrowDisputed},
}

var actionTargets = map[Action]models.EscrowState{
	ActionConfirmPayment: models.EscrowHeld,
	ActionRelease:        models.EscrowReleased,
	ActionRefund:         models.EscrowRefunded,
	ActionDispute:        models.EscrowDisputed,
	ActionResolveRelease: models.EscrowReleased,
	ActionResolveRefund:  models.EscrowRefunded,
}

// CanTransition reports whether from -> to is an edge of the escrow lifecycle.
// Released and refunded accounts allow nothing.
func CanTransition(from, to models.EscrowState) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Next returns the state action leads to from the given state.
func Next(from models.EscrowState, action Action) (models.EscrowState, error) {
	to, ok := actionTargets[action]
	if !ok {
		return from, fmt.Errorf("%w: unknown action %q", common.ErrInvalidStateTransition, action)
	}
	for _, s := range actionSources[action] {
		if s == from && CanTransition(from, to) {
			return to, nil
		}
	}
	return from, fmt.Errorf("%w: cannot %s from %s", common.ErrInvalidStateTransition, action, from)
}

// Plan is the state change and ledger entries one transition produces.
type Plan struct {
	From    models.EscrowState
	To      models.EscrowState
	Entries []*models.LedgerEntry
	Fee     int64
}

// PlanInput carries what a transition needs beyond the account itself.
type PlanInput struct {
	Amount      int64  // paid amount, confirm_payment only
	ExternalRef string // gateway receipt, confirm_payment only
	Reason      string
	FeeBPS      int64
}

// PlanTransition computes the entries for action without touching storage. The account
// must be the locked, current row.
func PlanTransition(account *models.EscrowAccount, action Action, in PlanInput) (*Plan, error) {
	to, err := Next(account.State, action)
	if err != nil {
		return nil, err
	}

	plan := &Plan{From: account.State, To: to}
	bookingID := account.BookingID

	switch to {
	case models.EscrowHeld:
		if in.Amount <= 0 {
			return nil, ledger.ErrInvalidAmount
		}
		var ref *string
		if in.ExternalRef != "" {
			r := in.ExternalRef
			ref = &r
		}
		plan.Entries = append(plan.Entries, &models.LedgerEntry{
			ID:          uuid.New(),
			BookingID:   &bookingID,
			Party:       models.PartyCustomer,
			PartyID:     uuidPtr(account.CustomerID),
			Kind:        models.EntryKindHold,
			Amount:      in.Amount,
			Status:      models.EntryStatusCompleted,
			ExternalRef: ref,
		})

	case models.EscrowReleased:
		if account.HeldAmount > 0 {
			plan.Entries = append(plan.Entries, &models.LedgerEntry{
				ID:        uuid.New(),
				BookingID: &bookingID,
				Party:     models.PartyDriver,
				PartyID:   uuidPtr(account.DriverID),
				Kind:      models.EntryKindRelease,
				Amount:    account.HeldAmount,
				Status:    models.EntryStatusCompleted,
			})
			plan.Fee = ledger.FeeAmount(account.HeldAmount, in.FeeBPS)
			if plan.Fee > 0 {
				plan.Entries = append(plan.Entries, &models.LedgerEntry{
					ID:        uuid.New(),
					BookingID: &bookingID,
					Party:     models.PartyPlatform,
					Kind:      models.EntryKindFee,
					Amount:    plan.Fee,
					Status:    models.EntryStatusCompleted,
				})
			}
		}

	case models.EscrowRefunded:
		// nothing was held while awaiting payment
		if account.HeldAmount > 0 {
			var reason *string
			if in.Reason != "" {
				r := in.Reason
				reason = &r
			}
			plan.Entries = append(plan.Entries, &models.LedgerEntry{
				ID:        uuid.New(),
				BookingID: &bookingID,
				Party:     models.PartyCustomer,
				PartyID:   uuidPtr(account.CustomerID),
				Kind:      models.EntryKindRefund,
				Amount:    account.HeldAmount,
				Status:    models.EntryStatusCompleted,
				Reason:    reason,
			})
		}
	}

	return plan, nil
}

func uuidPtr(id uuid.UUID) *uuid.UUID {
	return &id
}
