package database

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/richxcame/escrow-settlement/pkg/resilience"
)

// SQLSTATE codes
const (
	uniqueViolation      = "23505"
	serializationFailure = "40001"
	deadlockDetected     = "40P01"
	lockNotAvailable     = "55P03"
	tooManyConnections   = "53300"
	adminShutdown        = "57P01"
	cannotConnectNow     = "57P03"
)

var transientCodes = map[string]bool{
	serializationFailure: true,
	deadlockDetected:     true,
	lockNotAvailable:     true,
	tooManyConnections:   true,
	adminShutdown:        true,
	cannotConnectNow:     true,
}

// RetryableTransaction runs fn in a transaction and reruns the whole unit of work when it
// loses a deadlock, a serialization conflict or its connection. fn must be safe to rerun.
func RetryableTransaction(ctx context.Context, db TxBeginner, fn func(ctx context.Context, tx pgx.Tx) error) error {
	policy := resilience.DefaultRetryConfig()
	policy.InitialBackoff = 50 * time.Millisecond
	policy.MaxBackoff = time.Second
	policy.RetryableChecker = isTransient

	_, err := resilience.RetryWithName(ctx, policy, func(ctx context.Context) (interface{}, error) {
		return nil, pgx.BeginFunc(ctx, db, func(tx pgx.Tx) error {
			return fn(ctx, tx)
		})
	}, "database.transaction")
	return err
}

// IsUniqueViolation reports whether err is a unique violation, on constraint when it is set
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

func isTransient(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, pgx.ErrNoRows),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// class 08 is connection exceptions
		return transientCodes[pgErr.Code] || strings.HasPrefix(pgErr.Code, "08")
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) || pgconn.SafeToRetry(err) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection reset") || strings.Contains(msg, "broken pipe")
}
