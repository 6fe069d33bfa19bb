package database

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"bookshare/pkg/apperr"
	"bookshare/pkg/models"
	"bookshare/pkg/retry"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func seedBook(t *testing.T, db *gorm.DB) models.Book {
	t.Helper()
	book := models.Book{BookUid: uuid.New().String(), OwnerID: "owner", Title: "Dune", Stock: 1, Total: 1}
	require.NoError(t, db.Create(&book).Error)
	return book
}

func TestActiveLoanIndexRejectsSecondActiveLoan(t *testing.T) {
	db := setupTestDB(t)
	book := seedBook(t, db)

	first := models.Transaction{TransactionUid: uuid.New().String(), BookID: book.ID, UserID: "alice", Status: models.StatusActive, IssueDate: time.Now()}
	require.NoError(t, db.Omit("Book").Create(&first).Error)

	second := models.Transaction{TransactionUid: uuid.New().String(), BookID: book.ID, UserID: "alice", Status: models.StatusActive, IssueDate: time.Now()}
	err := db.Omit("Book").Create(&second).Error
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))

	returned := models.Transaction{TransactionUid: uuid.New().String(), BookID: book.ID, UserID: "alice", Status: models.StatusReturned, IssueDate: time.Now()}
	assert.NoError(t, db.Omit("Book").Create(&returned).Error)
}

func TestStockCheckConstraint(t *testing.T) {
	db := setupTestDB(t)
	book := seedBook(t, db)

	err := db.Model(&models.Book{}).Where("id = ?", book.ID).
		Update("stock", gorm.Expr("stock - ?", 2)).Error
	assert.Error(t, err)

	var reloaded models.Book
	require.NoError(t, db.First(&reloaded, book.ID).Error)
	assert.Equal(t, 1, reloaded.Stock)
}

func TestRunInTxRollsBackOnError(t *testing.T) {
	db := setupTestDB(t)
	book := seedBook(t, db)
	runner := NewTxRunner(db)

	err := runner.RunInTx(context.Background(), func(tx *gorm.DB) error {
		if err := tx.Model(&models.Book{}).Where("id = ?", book.ID).
			Update("stock", gorm.Expr("stock - 1")).Error; err != nil {
			return err
		}
		return apperr.DuplicateLoan("already borrowed")
	})
	assert.True(t, apperr.Is(err, apperr.KindDuplicateLoan))

	var reloaded models.Book
	require.NoError(t, db.First(&reloaded, book.ID).Error)
	assert.Equal(t, 1, reloaded.Stock)
}

func TestRunInTxRetriesTransientFailureOnce(t *testing.T) {
	db := setupTestDB(t)
	book := seedBook(t, db)
	runner := NewTxRunner(db).WithRetry(retry.WithMaxAttempts(2), retry.WithBaseDelay(time.Millisecond))

	attempts := 0
	err := runner.RunInTx(context.Background(), func(tx *gorm.DB) error {
		attempts++
		if err := tx.Model(&models.Book{}).Where("id = ?", book.ID).
			Update("stock", gorm.Expr("stock - 1")).Error; err != nil {
			return err
		}
		if attempts == 1 {
			return sqlite3.Error{Code: sqlite3.ErrBusy}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	var reloaded models.Book
	require.NoError(t, db.First(&reloaded, book.ID).Error)
	assert.Equal(t, 0, reloaded.Stock, "first attempt must have been rolled back")
}

func TestRunInTxExhaustionIsInternal(t *testing.T) {
	db := setupTestDB(t)
	runner := NewTxRunner(db).WithRetry(retry.WithMaxAttempts(2), retry.WithBaseDelay(time.Millisecond))

	attempts := 0
	err := runner.RunInTx(context.Background(), func(tx *gorm.DB) error {
		attempts++
		return driver.ErrBadConn
	})
	assert.Equal(t, 2, attempts)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
}

func TestRunInTxOpenBreakerIsUnavailable(t *testing.T) {
	db := setupTestDB(t)
	runner := NewTxRunner(db).WithRetry(retry.WithMaxAttempts(1))

	for i := 0; i < 6; i++ {
		_ = runner.RunInTx(context.Background(), func(tx *gorm.DB) error {
			return fmt.Errorf("exec: %w", driver.ErrBadConn)
		})
	}

	called := false
	err := runner.RunInTx(context.Background(), func(tx *gorm.DB) error {
		called = true
		return nil
	})
	assert.False(t, called)
	assert.True(t, apperr.Is(err, apperr.KindUnavailable))
}

func TestRunInTxPermanentErrorsKeepBreakerClosed(t *testing.T) {
	db := setupTestDB(t)
	book := seedBook(t, db)
	runner := NewTxRunner(db)

	for i := 0; i < 10; i++ {
		err := runner.RunInTx(context.Background(), func(tx *gorm.DB) error {
			return tx.Model(&models.Book{}).Where("id = ?", book.ID).
				Update("stock", gorm.Expr("stock - ?", 5)).Error
		})
		require.Error(t, err)
		assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
	}
	for i := 0; i < 10; i++ {
		_ = runner.RunInTx(context.Background(), func(tx *gorm.DB) error {
			return errors.New("value too long for type character varying(80)")
		})
	}

	err := runner.RunInTx(context.Background(), func(tx *gorm.DB) error {
		return tx.Model(&models.Book{}).Where("id = ?", book.ID).
			Update("stock", gorm.Expr("stock - 1")).Error
	})
	require.NoError(t, err)

	var reloaded models.Book
	require.NoError(t, db.First(&reloaded, book.ID).Error)
	assert.Equal(t, 0, reloaded.Stock)
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"bad conn", fmt.Errorf("exec: %w", driver.ErrBadConn), true},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, true},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, true},
		{"connection failure", &pgconn.PgError{Code: "08006"}, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"sqlite busy", sqlite3.Error{Code: sqlite3.ErrBusy}, true},
		{"sqlite constraint", sqlite3.Error{Code: sqlite3.ErrConstraint}, false},
		{"business error", apperr.OutOfStock("no copies"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsTransient(tt.err))
		})
	}
}

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"translated", gorm.ErrDuplicatedKey, true},
		{"postgres", &pgconn.PgError{Code: "23505"}, true},
		{"sqlite", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}, true},
		{"sqlite check", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintCheck}, false},
		{"other", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsUniqueViolation(tt.err))
		})
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_NAME", "")

	cfg := ConfigFromEnv()
	assert.Equal(t, DriverSQLite, cfg.Driver)
	assert.Equal(t, "db.internal", cfg.Host)
	assert.Equal(t, "bookshare", cfg.Name)
	assert.Contains(t, cfg.PostgresDSN(), "host=db.internal")
}
