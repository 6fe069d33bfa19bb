package database

import (
	"context"
	"database/sql/driver"
	"errors"
	"strings"
	"time"

	"bookshare/pkg/apperr"
	"bookshare/pkg/circuitbreaker"
	"bookshare/pkg/retry"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TxRunner executes units of work: every statement issued through the
// handed-in *gorm.DB commits together or not at all.
type TxRunner struct {
	db      *gorm.DB
	breaker *circuitbreaker.CircuitBreaker
	retries []retry.Option
}

func NewTxRunner(db *gorm.DB) *TxRunner {
	breaker := circuitbreaker.NewCircuitBreaker(5, 10*time.Second).CountOnly(isStoreFailure)
	return &TxRunner{
		db:      db,
		breaker: breaker,
		retries: []retry.Option{retry.WithMaxAttempts(2), retry.If(IsTransient)},
	}
}

// WithRetry replaces the retry policy, e.g. to shorten backoff in tests.
func (r *TxRunner) WithRetry(options ...retry.Option) *TxRunner {
	r.retries = append([]retry.Option{retry.If(IsTransient)}, options...)
	return r
}

func (r *TxRunner) DB() *gorm.DB { return r.db }

// RunInTx opens a transaction, runs fn and commits when fn returns nil. A
// transient storage failure rolls back and re-runs fn once from scratch, so
// fn must re-read everything it decides on.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	err := r.breaker.Execute(func() error {
		return retry.Do(ctx, func(ctx context.Context) error {
			return r.db.WithContext(ctx).Transaction(fn)
		}, r.retries...)
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return apperr.Unavailable("storage temporarily unavailable")
	}
	return err
}

// ForUpdate row-locks the selected rows on databases that support it.
// SQLite takes a database-wide write lock at BEGIN IMMEDIATE instead.
func ForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == DriverPostgres {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

// IsTransient reports storage failures worth one more attempt: lost
// connections, serialization failures, deadlocks and busy sqlite files.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return true
		}
		// class 08: connection exception
		return strings.HasPrefix(pgErr.Code, "08")
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked
	}
	return false
}

// isStoreFailure decides what the breaker counts. Only transient storage
// errors do; constraint violations and bad input fail the same way every time.
func isStoreFailure(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return IsTransient(err)
}

// IsUniqueViolation reports a duplicate key, whether or not the dialector
// already translated it to gorm.ErrDuplicatedKey.
func IsUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
