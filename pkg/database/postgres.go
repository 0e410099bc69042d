package database

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/richxcame/escrow-settlement/pkg/config"
)

// TxBeginner is satisfied by *pgxpool.Pool, and by pgx.Tx for savepoints
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// NewPostgresPool opens the pool and pings it. Every session gets statementTimeout as its
// statement_timeout and a shorter lock_timeout, so a stuck ledger lock fails the request
// instead of piling up connections.
func NewPostgresPool(ctx context.Context, cfg *config.DatabaseConfig, statementTimeout time.Duration) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}

	if statementTimeout <= 0 {
		statementTimeout = 30 * time.Second
	}
	lockTimeout := max(statementTimeout/3, time.Second)

	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute
	poolCfg.HealthCheckPeriod = time.Minute

	conn := poolCfg.ConnConfig
	conn.ConnectTimeout = 10 * time.Second
	conn.DefaultQueryExecMode = pgx.QueryExecModeCacheStatement
	conn.RuntimeParams["application_name"] = "escrow-settlement"
	conn.RuntimeParams["timezone"] = "UTC"
	conn.RuntimeParams["statement_timeout"] = strconv.FormatInt(statementTimeout.Milliseconds(), 10)
	conn.RuntimeParams["lock_timeout"] = strconv.FormatInt(lockTimeout.Milliseconds(), 10)
	conn.RuntimeParams["idle_in_transaction_session_timeout"] = strconv.FormatInt((2 * statementTimeout).Milliseconds(), 10)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database %s: %w", cfg.Host, err)
	}
	return pool, nil
}

// Close closes pool if it was opened
func Close(pool *pgxpool.Pool) {
	if pool != nil {
		pool.Close()
	}
}
