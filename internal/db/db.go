// Package db provides the PostgreSQL repositories behind the billing
// stores. All repositories accept a DBTX interface that is satisfied by
// both *pgxpool.Pool (for normal queries) and pgx.Tx (for transactional
// execution).
package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"memberpay/internal/config"
	"memberpay/internal/types"
)

// DBTX is the minimal interface shared by *pgxpool.Pool and pgx.Tx.
// Repositories accept this so the same code works inside or outside a
// transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ErrDatabaseNotReady is returned when every connection attempt failed.
var ErrDatabaseNotReady = errors.New("database did not become ready")

// Connect opens a pool and pings it, retrying with a linearly growing wait.
func Connect(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*pgxpool.Pool, error) {
	if logger == nil {
		logger = slog.Default()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.HealthCheckPeriod > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod
	}

	var lastErr error
	attempts := max(cfg.ConnectRetries, 1)
	for i := range attempts {
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				return pool, nil
			}
			pool.Close()
		}
		lastErr = err
		logger.WarnContext(ctx, "database connection attempt failed",
			"attempt", i+1,
			"of", attempts,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrDatabaseNotReady, ctx.Err())
		case <-time.After(time.Duration(i+1) * cfg.ConnectRetryWait):
		}
	}
	return nil, errors.Join(ErrDatabaseNotReady, lastErr)
}

// Pinger is the subset of *pgxpool.Pool used by the health probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PoolProbe reports database health on GET /health.
type PoolProbe struct {
	pool    Pinger
	timeout time.Duration
}

// NewPoolProbe wraps a pool. A zero timeout uses the request deadline.
func NewPoolProbe(pool Pinger, timeout time.Duration) *PoolProbe {
	return &PoolProbe{pool: pool, timeout: timeout}
}

// Name implements core.HealthProbe.
func (p *PoolProbe) Name() string { return "postgres" }

// Check implements core.HealthProbe.
func (p *PoolProbe) Check(ctx context.Context) error {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	return p.pool.Ping(ctx)
}

// notFoundOr maps pgx.ErrNoRows to the given not-found code and anything
// else to internal_db.
func notFoundOr(err error, code types.ErrorCode, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return types.NewAppError(code, what+" not found", nil)
	}
	return types.NewAppError(types.ErrCodeInternalDB, "failed to load "+what, err)
}
