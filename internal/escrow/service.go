package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/richxcame/escrow-settlement/pkg/cache"
	"github.com/richxcame/escrow-settlement/pkg/common"
	apperrors "github.com/richxcame/escrow-settlement/pkg/errors"
	"github.com/richxcame/escrow-settlement/pkg/eventbus"
	"github.com/richxcame/escrow-settlement/pkg/logger"
	"github.com/richxcame/escrow-settlement/pkg/models"
	"github.com/richxcame/escrow-settlement/pkg/tracing"
	"go.uber.org/zap"
)

const eventSource = "escrow"

// Actors recorded on transitions
const (
	ActorGateway  = "gateway"
	ActorDriver   = "driver"
	ActorCustomer = "customer"
	ActorAdmin    = "admin"
	ActorRides    = "rides-service"
)

var transitionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "escrow_transitions_total",
		Help: "Committed escrow state transitions",
	},
	[]string{"from", "to"},
)

var transitionsRejected = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "escrow_transitions_rejected_total",
		Help: "Escrow transitions refused, by action",
	},
	[]string{"action"},
)

// Transition is a committed escrow state change
type Transition struct {
	Account *models.EscrowAccount
	From    models.EscrowState
	To      models.EscrowState
	Amount  int64
	Fee     int64
	Actor   string
	Reason  string
}

type Service struct {
	repo      RepositoryInterface
	ledger    LedgerInterface
	publisher eventbus.Publisher
	cache     *cache.Manager
	feeBPS    int64
}

// NewService creates the escrow service. publisher and cacheManager may be nil.
func NewService(repo RepositoryInterface, ledger LedgerInterface, publisher eventbus.Publisher, cacheManager *cache.Manager, feeBPS int64) *Service {
	return &Service{
		repo:      repo,
		ledger:    ledger,
		publisher: publisher,
		cache:     cacheManager,
		feeBPS:    feeBPS,
	}
}

// Open creates the account for a new booking in awaiting_payment
func (s *Service) Open(ctx context.Context, tx pgx.Tx, account *models.EscrowAccount) error {
	if account.GrossAmount <= 0 {
		return common.ErrInvalidAmount
	}
	if account.BookingID == uuid.Nil {
		account.BookingID = uuid.New()
	}
	account.State = models.EscrowAwaitingPayment
	account.HeldAmount = 0

	return s.repo.Create(ctx, tx, account)
}

// ConfirmPayment moves the booking to held with a hold entry for the paid amount. It runs in
// the caller's transaction; call AfterCommit once that commits. A repeat of an already
// applied externalRef returns common.ErrDuplicateCallback and writes nothing.
func (s *Service) ConfirmPayment(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID, externalRef string, amount int64) (*Transition, error) {
	account, err := s.repo.GetForUpdate(ctx, tx, bookingID)
	if err != nil {
		return nil, err
	}

	if account.State != models.EscrowAwaitingPayment && externalRef != "" {
		seen, err := s.ledger.HasExternalRef(ctx, tx, models.EntryKindHold, externalRef)
		if err != nil {
			return nil, err
		}
		if seen {
			return nil, common.ErrDuplicateCallback
		}
	}

	tr, err := s.apply(ctx, tx, account, ActionConfirmPayment, PlanInput{Amount: amount, ExternalRef: externalRef}, ActorGateway)
	if err != nil {
		s.reportFailure(ctx, bookingID, ActionConfirmPayment, err)
		return nil, err
	}
	return tr, nil
}

// Release pays the held amount out to the driver's available balance, minus the platform fee
func (s *Service) Release(ctx context.Context, bookingID uuid.UUID, actor string) (*Transition, error) {
	return s.transition(ctx, bookingID, ActionRelease, PlanInput{}, actor)
}

// Refund returns the held amount to the customer. A booking that was never paid is refunded without an entry.
func (s *Service) Refund(ctx context.Context, bookingID uuid.UUID, actor, reason string) (*Transition, error) {
	return s.transition(ctx, bookingID, ActionRefund, PlanInput{Reason: reason}, actor)
}

// RefundInTx refunds within the caller's transaction. The caller publishes the transition with
// AfterCommit once its transaction commits.
func (s *Service) RefundInTx(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID, actor, reason string) (*Transition, error) {
	return s.applyInTx(ctx, tx, bookingID, ActionRefund, PlanInput{Reason: reason}, actor)
}

// Dispute freezes a held booking until an admin resolves it
func (s *Service) Dispute(ctx context.Context, bookingID uuid.UUID, reason string) (*Transition, error) {
	return s.transition(ctx, bookingID, ActionDispute, PlanInput{Reason: reason}, ActorAdmin)
}

// ResolveDispute releases or refunds a disputed booking
func (s *Service) ResolveDispute(ctx context.Context, bookingID uuid.UUID, outcome models.DisputeOutcome, note string) (*Transition, error) {
	action, err := resolveAction(outcome)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, bookingID, action, PlanInput{Reason: note}, ActorAdmin)
}

// ResolveDisputeInTx resolves a dispute within the caller's transaction
func (s *Service) ResolveDisputeInTx(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID, outcome models.DisputeOutcome, note string) (*Transition, error) {
	action, err := resolveAction(outcome)
	if err != nil {
		return nil, err
	}
	return s.applyInTx(ctx, tx, bookingID, action, PlanInput{Reason: note}, ActorAdmin)
}

func resolveAction(outcome models.DisputeOutcome) (Action, error) {
	switch outcome {
	case models.OutcomeRelease:
		return ActionResolveRelease, nil
	case models.OutcomeRefund:
		return ActionResolveRefund, nil
	default:
		return "", common.NewBadRequestError(fmt.Sprintf("unknown dispute outcome %q", outcome), nil)
	}
}

func (s *Service) applyInTx(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID, action Action, in PlanInput, actor string) (*Transition, error) {
	account, err := s.repo.GetForUpdate(ctx, tx, bookingID)
	if err != nil {
		return nil, err
	}
	tr, err := s.apply(ctx, tx, account, action, in, actor)
	if err != nil {
		s.reportFailure(ctx, bookingID, action, err)
		return nil, err
	}
	return tr, nil
}

func (s *Service) transition(ctx context.Context, bookingID uuid.UUID, action Action, in PlanInput, actor string) (*Transition, error) {
	var tr *Transition

	err := tracing.TraceBusinessLogic(ctx, "escrow", "escrow."+string(action),
		tracing.EscrowAttributes(bookingID.String(), "", ""),
		func(ctx context.Context) error {
			return s.ledger.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
				account, err := s.repo.GetForUpdate(ctx, tx, bookingID)
				if err != nil {
					return err
				}
				tr, err = s.apply(ctx, tx, account, action, in, actor)
				return err
			})
		})
	if err != nil {
		s.reportFailure(ctx, bookingID, action, err)
		return nil, err
	}

	s.AfterCommit(ctx, tr)
	return tr, nil
}

func (s *Service) apply(ctx context.Context, tx pgx.Tx, account *models.EscrowAccount, action Action, in PlanInput, actor string) (*Transition, error) {
	in.FeeBPS = s.feeBPS
	plan, err := PlanTransition(account, action, in)
	if err != nil {
		return nil, err
	}

	tr := &Transition{
		From:   plan.From,
		To:     plan.To,
		Fee:    plan.Fee,
		Actor:  actor,
		Reason: in.Reason,
	}

	for _, entry := range plan.Entries {
		if err := s.ledger.RecordEntry(ctx, tx, entry); err != nil {
			return nil, err
		}
		if entry.Kind != models.EntryKindFee {
			tr.Amount = entry.Amount
		}
	}

	account.State = plan.To
	if action == ActionDispute && in.Reason != "" {
		reason := in.Reason
		account.DisputeReason = &reason
	}
	if err := s.repo.UpdateState(ctx, tx, account); err != nil {
		return nil, err
	}

	tr.Account = account
	return tr, nil
}

// AfterCommit publishes the transition and drops cached aggregates. Only call it once the
// transaction holding the transition has committed.
func (s *Service) AfterCommit(ctx context.Context, tr *Transition) {
	if tr == nil || tr.Account == nil {
		return
	}

	transitionsTotal.WithLabelValues(string(tr.From), string(tr.To)).Inc()
	logger.InfoContext(ctx, "escrow transition committed",
		zap.String("booking_id", tr.Account.BookingID.String()),
		zap.String("from", string(tr.From)),
		zap.String("to", string(tr.To)),
		zap.Int64("amount", tr.Amount),
		zap.Int64("fee", tr.Fee),
		zap.String("actor", tr.Actor),
	)

	if s.cache != nil {
		if err := s.cache.Delete(ctx, cache.EscrowSummaryKey()); err != nil {
			logger.WarnContext(ctx, "failed to invalidate escrow summary", zap.Error(err))
		}
	}

	s.publish(ctx, tr)
}

func (s *Service) publish(ctx context.Context, tr *Transition) {
	if s.publisher == nil {
		return
	}

	subject := subjectFor(tr.To)
	if subject == "" {
		return
	}

	event, err := eventbus.NewEvent(subject, eventSource, eventbus.EscrowEventData{
		BookingID:  tr.Account.BookingID,
		CustomerID: tr.Account.CustomerID,
		DriverID:   tr.Account.DriverID,
		From:       string(tr.From),
		To:         string(tr.To),
		Amount:     tr.Amount,
		FeeAmount:  tr.Fee,
		Actor:      tr.Actor,
		Reason:     tr.Reason,
		Currency:   models.Currency,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		logger.WarnContext(ctx, "failed to build escrow event", zap.Error(err))
		return
	}

	if err := s.publisher.Publish(ctx, subject, event); err != nil {
		logger.WarnContext(ctx, "failed to publish escrow event",
			zap.String("subject", subject),
			zap.Error(err),
		)
	}
}

func subjectFor(state models.EscrowState) string {
	switch state {
	case models.EscrowHeld:
		return eventbus.SubjectEscrowHeld
	case models.EscrowReleased:
		return eventbus.SubjectEscrowReleased
	case models.EscrowRefunded:
		return eventbus.SubjectEscrowRefunded
	case models.EscrowDisputed:
		return eventbus.SubjectEscrowDisputed
	default:
		return ""
	}
}

func (s *Service) reportFailure(ctx context.Context, bookingID uuid.UUID, action Action, err error) {
	transitionsRejected.WithLabelValues(string(action)).Inc()

	if !common.IsHighSeverity(err) {
		return
	}

	logger.ErrorContext(ctx, "escrow transition rejected",
		zap.String("booking_id", bookingID.String()),
		zap.String("action", string(action)),
		zap.Error(err),
	)
	apperrors.CaptureErrorWithContext(ctx, err,
		map[string]string{"component": "escrow", "action": string(action)},
		map[string]interface{}{"booking_id": bookingID.String()},
	)
}

// Get returns the current account for a booking
func (s *Service) Get(ctx context.Context, bookingID uuid.UUID) (*models.EscrowAccount, error) {
	return s.repo.Get(ctx, bookingID)
}

// List returns a page of accounts for the admin view
func (s *Service) List(ctx context.Context, filter models.EscrowFilter, limit, offset int) ([]*models.EscrowAccount, int64, error) {
	return s.repo.List(ctx, filter, limit, offset)
}

// Summary returns held/released counts and collected fees, cached briefly
func (s *Service) Summary(ctx context.Context) (*models.EscrowSummary, error) {
	if s.cache == nil {
		return s.repo.Summary(ctx)
	}

	var summary models.EscrowSummary
	err := s.cache.GetOrSet(ctx, cache.EscrowSummaryKey(), cache.SummaryTTL, &summary, func() (interface{}, error) {
		return s.repo.Summary(ctx)
	})
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

// Audit recomputes a booking's held amount from its ledger entries
func (s *Service) Audit(ctx context.Context, bookingID uuid.UUID) (*models.EscrowAudit, error) {
	account, err := s.repo.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	rec, err := s.ledger.Reconcile(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	return &models.EscrowAudit{
		BookingID:  bookingID,
		State:      account.State,
		HeldAmount: rec.HeldAmount,
		LedgerHeld: rec.LedgerHeld,
		Consistent: rec.Consistent,
		Entries:    rec.Entries,
	}, nil
}

// IsDuplicate reports whether err means the gateway result was already applied
func IsDuplicate(err error) bool {
	return errors.Is(err, common.ErrDuplicateCallback)
}
