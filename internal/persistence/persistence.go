// Package persistence implements the Persistence Adapter against
// PostgreSQL. It satisfies lifecycle.Persister directly and exposes the
// event-insert and startup-loader operations the rest of the core needs.
// Every write operation reports a boolean success alongside its error so the
// caller's in-memory mirror can decide whether to advance or retry on the
// next equivalent message.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// PgPool is the slice of *pgxpool.Pool the adapter drives, narrowed to the
// point of use so it can be exercised against a hand-written mock in tests
// without a live database.
type PgPool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Adapter is the PostgreSQL-backed Persistence Adapter.
type Adapter struct {
	pool   PgPool
	logger *zap.SugaredLogger
}

// New wraps an already-connected pool. Connection lifecycle (dialing,
// closing) is the caller's responsibility, matching the pattern of
// accepting a pre-built *pgxpool.Pool at construction time.
func New(pool PgPool, logger *zap.Logger) *Adapter {
	return &Adapter{pool: pool, logger: logger.Sugar()}
}

// Ping reports whether the pool can still reach Postgres, for the process's
// readiness probe.
func (a *Adapter) Ping(ctx context.Context) error {
	var ok int
	return a.pool.QueryRow(ctx, "SELECT 1").Scan(&ok)
}

// ApplyMigrations runs every pending migration under dir against dsn before
// the adapter is put into service. It uses a file-based source, not embedded
// migrations, since this is a single deployable binary rather than a
// distributed set of images each carrying its own migration set.
func ApplyMigrations(dsn, dir string) error {
	m, err := migrate.New("file://"+dir, dsn)
	if err != nil {
		return fmt.Errorf("open migrator: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// withRetry wraps a single adapter operation with bounded exponential
// backoff for transient failures (connection resets, serialization
// conflicts). Non-transient errors (constraint violations, bad SQL) abort
// immediately — the core's own message-driven retry loop is the
// outer, non-bounded retry; this is the inner, bounded one.
func withRetry(ctx context.Context, op func() error) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(25*time.Millisecond),
			backoff.WithMaxInterval(250*time.Millisecond),
		), 3), ctx)

	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}

func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", // serialization_failure
			"40P01", // deadlock_detected
			"08000", "08003", "08006", "08001", "08004": // connection_exception family
			return true
		}
		return false
	}
	var connErr *pgconn.ConnectError
	return errors.As(err, &connErr)
}
