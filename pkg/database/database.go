package database

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"bookshare/pkg/models"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const activeLoanIndex = `CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_active_loan
	ON transactions (book_id, user_id) WHERE status = 'Active'`

var (
	connectAttempts = 10
	connectDelay    = 5 * time.Second
)

// Open connects to the configured store, retrying while the database is
// still starting, and migrates the schema.
func Open(cfg Config) (*gorm.DB, error) {
	if cfg.Driver == DriverSQLite {
		return OpenSQLite(cfg.SQLitePath)
	}

	log.Printf("Connecting to database: %s@%s:%s/%s", cfg.User, cfg.Host, cfg.Port, cfg.Name)

	var db *gorm.DB
	var err error
	for i := 0; i < connectAttempts; i++ {
		db, err = gorm.Open(postgres.Open(cfg.PostgresDSN()), gormConfig())
		if err == nil {
			break
		}
		log.Printf("Database connection attempt %d/%d failed: %v", i+1, connectAttempts, err)
		if i < connectAttempts-1 {
			time.Sleep(connectDelay)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get database instance: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	log.Println("Database connection established successfully")
	return db, nil
}

// OpenSQLite opens (or creates) a file-backed SQLite database. Used for local
// development and tests.
func OpenSQLite(path string) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1&_txlock=immediate", path)
	db, err := gorm.Open(sqlite.Open(dsn), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get database instance: %w", err)
	}
	// sqlite has a single writer; one connection keeps transactions queued
	// in the pool instead of failing with SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Book{}, &models.Transaction{}); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	if err := db.Exec(activeLoanIndex).Error; err != nil {
		return fmt.Errorf("create active loan index: %w", err)
	}
	return nil
}

func gormConfig() *gorm.Config {
	return &gorm.Config{TranslateError: true}
}
