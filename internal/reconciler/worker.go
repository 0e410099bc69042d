package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/richxcame/escrow-settlement/pkg/async"
	"github.com/richxcame/escrow-settlement/pkg/common"
	"github.com/richxcame/escrow-settlement/pkg/config"
	"github.com/richxcame/escrow-settlement/pkg/models"
	"github.com/richxcame/escrow-settlement/pkg/resilience"
	"go.uber.org/zap"
)

const (
	// A claimed transaction is invisible to other workers for this long. If the worker dies
	// mid-batch the transaction becomes due again once the lease runs out.
	claimLease = 5 * time.Minute
	// Upper bound for resolving a single transaction
	processTimeout = 45 * time.Second
)

// Settler is the part of the payments service the reconciler drives
type Settler interface {
	ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]*models.PaymentTransaction, error)
	Reinitiate(ctx context.Context, txn *models.PaymentTransaction) error
	ApplyStatus(ctx context.Context, id uuid.UUID, result *models.GatewayResult) (*models.PaymentTransaction, error)
	ScheduleRetry(ctx context.Context, txn *models.PaymentTransaction, next time.Time) error
	MarkTimeout(ctx context.Context, txn *models.PaymentTransaction, reason string) error
}

// StatusQuerier asks the gateway for a transaction's final status
type StatusQuerier interface {
	QueryStatus(ctx context.Context, txType models.TransactionType, handle string) (*models.GatewayResult, error)
}

// Worker resolves pending gateway transactions whose callback never arrived
type Worker struct {
	settler     Settler
	gateway     StatusQuerier
	logger      *zap.Logger
	interval    time.Duration
	batchSize   int
	concurrency int
	maxAttempts int
	backoff     resilience.RetryConfig
	now         func() time.Time
	done        chan struct{}
	stopOnce    sync.Once
}

// NewWorker creates a reconciler worker
func NewWorker(settler Settler, gateway StatusQuerier, cfg config.SettlementConfig, logger *zap.Logger) *Worker {
	backoff := resilience.DefaultRetryConfig()
	backoff.InitialBackoff = time.Duration(cfg.BackoffSeconds) * time.Second
	backoff.MaxBackoff = time.Duration(cfg.MaxBackoffSeconds) * time.Second
	backoff.BackoffMultiplier = cfg.BackoffMultiplier
	backoff.EnableJitter = true

	return &Worker{
		settler:     settler,
		gateway:     gateway,
		logger:      logger,
		interval:    time.Duration(cfg.PollIntervalSeconds) * time.Second,
		batchSize:   cfg.BatchSize,
		concurrency: cfg.Concurrency,
		maxAttempts: cfg.MaxAttempts,
		backoff:     backoff,
		now:         time.Now,
		done:        make(chan struct{}),
	}
}

// Start runs the polling loop until ctx is cancelled or Stop is called. The first batch runs
// immediately so transactions left pending by a previous process are picked up on boot.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("Starting settlement reconciler",
		zap.Duration("interval", w.interval),
		zap.Int("batch_size", w.batchSize),
		zap.Int("max_attempts", w.maxAttempts),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.drain(ctx)

	for {
		select {
		case <-ticker.C:
			w.drain(ctx)
		case <-ctx.Done():
			w.logger.Info("Settlement reconciler stopped")
			return
		case <-w.done:
			w.logger.Info("Settlement reconciler shutdown requested")
			return
		}
	}
}

// Stop gracefully stops the worker
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

// drain keeps claiming full batches so a backlog does not wait a tick per batch
func (w *Worker) drain(ctx context.Context) {
	for {
		n := w.RunOnce(ctx)
		if n < w.batchSize || ctx.Err() != nil || w.stopped() {
			return
		}
	}
}

func (w *Worker) stopped() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// RunOnce claims one batch of due transactions and resolves it. It returns the batch size.
func (w *Worker) RunOnce(ctx context.Context) int {
	txns, err := w.settler.ClaimDue(ctx, w.batchSize, claimLease)
	if err != nil {
		w.logger.Error("Failed to claim due transactions", zap.Error(err))
		return 0
	}
	if len(txns) == 0 {
		w.logger.Debug("No pending transactions due")
		return 0
	}

	start := time.Now()
	transactionsClaimed.Add(float64(len(txns)))
	w.logger.Info("Reconciling pending transactions", zap.Int("count", len(txns)))

	async.ForEachBounded(ctx, "reconcile-transaction", w.concurrency, len(txns), func(ctx context.Context, i int) {
		ctx, cancel := context.WithTimeout(ctx, processTimeout)
		defer cancel()
		outcome := w.process(ctx, txns[i])
		transactionsProcessed.WithLabelValues(string(txns[i].Type), outcome).Inc()
	})

	batchDuration.Observe(time.Since(start).Seconds())
	return len(txns)
}

// process resolves one claimed transaction and returns the outcome label
func (w *Worker) process(ctx context.Context, txn *models.PaymentTransaction) string {
	if txn.GatewayHandle == nil || *txn.GatewayHandle == "" {
		return w.reinitiate(ctx, txn)
	}

	result, err := w.gateway.QueryStatus(ctx, txn.Type, *txn.GatewayHandle)
	if err != nil {
		if !errors.Is(err, common.ErrGatewayUnavailable) {
			w.logger.Warn("Status query failed",
				zap.String("transaction_id", txn.ID.String()),
				zap.Error(err),
			)
		}
		return w.reschedule(ctx, txn, outcomeUnavailable)
	}
	if result.Status == models.GatewayPending {
		return w.reschedule(ctx, txn, outcomePending)
	}

	_, err = w.settler.ApplyStatus(ctx, txn.ID, result)
	switch {
	case err == nil:
		w.logger.Info("Transaction resolved by polling",
			zap.String("transaction_id", txn.ID.String()),
			zap.String("type", string(txn.Type)),
			zap.String("gateway_status", string(result.Status)),
			zap.Int("attempts", txn.Attempts+1),
		)
		return outcomeApplied
	case errors.Is(err, common.ErrDuplicateCallback):
		// the callback won the race
		return outcomeDuplicate
	default:
		// leave it to the lease; the next claim retries the apply
		w.logger.Error("Failed to apply gateway status",
			zap.String("transaction_id", txn.ID.String()),
			zap.Error(err),
		)
		return outcomeError
	}
}

// reinitiate retries a transaction that never reached the gateway
func (w *Worker) reinitiate(ctx context.Context, txn *models.PaymentTransaction) string {
	err := w.settler.Reinitiate(ctx, txn)
	switch {
	case err == nil && txn.GatewayHandle != nil:
		w.logger.Info("Transaction initiated on retry",
			zap.String("transaction_id", txn.ID.String()),
			zap.String("type", string(txn.Type)),
		)
		next := w.now().Add(resilience.Backoff(1, w.backoff))
		if err := w.settler.ScheduleRetry(ctx, txn, next); err != nil {
			w.logger.Error("Failed to schedule first poll",
				zap.String("transaction_id", txn.ID.String()),
				zap.Error(err),
			)
		}
		return outcomeReinitiated
	case err == nil:
		return outcomeRejected
	case errors.Is(err, common.ErrGatewayUnavailable):
		return w.reschedule(ctx, txn, outcomeUnavailable)
	default:
		w.logger.Error("Failed to re-initiate transaction",
			zap.String("transaction_id", txn.ID.String()),
			zap.Error(err),
		)
		return w.reschedule(ctx, txn, outcomeError)
	}
}

// reschedule counts an unanswered attempt and either backs off or gives up
func (w *Worker) reschedule(ctx context.Context, txn *models.PaymentTransaction, outcome string) string {
	attempt := txn.Attempts + 1
	if attempt >= w.maxAttempts {
		txn.Attempts = attempt
		reason := fmt.Sprintf("no final gateway status after %d attempts", attempt)
		if err := w.settler.MarkTimeout(ctx, txn, reason); err != nil {
			w.logger.Error("Failed to mark transaction timed out",
				zap.String("transaction_id", txn.ID.String()),
				zap.Error(err),
			)
			return outcomeError
		}
		return outcomeTimeout
	}

	next := w.now().Add(resilience.Backoff(attempt, w.backoff))
	if err := w.settler.ScheduleRetry(ctx, txn, next); err != nil {
		w.logger.Error("Failed to schedule next poll",
			zap.String("transaction_id", txn.ID.String()),
			zap.Error(err),
		)
		return outcomeError
	}
	return outcome
}
