package database

import (
	"fmt"
	"time"

	"github.com/director74/sagacore/pkg/config"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// NewPostgresDB opens a connection to PostgreSQL using the shared config.
func NewPostgresDB(cfg config.PostgresConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	// TranslateError maps driver errors such as a unique-key violation to
	// gorm.ErrDuplicatedKey, which the saga store checks for.
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// NewPostgresDBWithRetry opens a connection to PostgreSQL, retrying on the
// given backoff schedule. The saga state store is on the critical path for
// every saga start; a database that is still coming up during process
// startup shouldn't abort the whole host.
func NewPostgresDBWithRetry(cfg config.PostgresConfig, backoff []time.Duration) (*gorm.DB, error) {
	var lastErr error
	for attempt := 0; attempt <= len(backoff); attempt++ {
		db, err := NewPostgresDB(cfg)
		if err == nil {
			return db, nil
		}
		lastErr = err
		if attempt < len(backoff) {
			time.Sleep(backoff[attempt])
		}
	}
	return nil, fmt.Errorf("failed to connect to postgres after %d attempts: %w", len(backoff)+1, lastErr)
}

// AutoMigrateWithCleanup migrates the given models, closing the connection
// if migration fails so the caller doesn't leak a half-initialized pool.
func AutoMigrateWithCleanup(db *gorm.DB, models ...interface{}) error {
	if err := db.AutoMigrate(models...); err != nil {
		sqlDB, sqlErr := db.DB()
		if sqlErr == nil && sqlDB != nil {
			sqlDB.Close()
		}
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// CloseDB closes the database connection, tolerating a nil handle.
func CloseDB(db *gorm.DB) error {
	if db == nil {
		return nil
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to obtain sql.DB: %w", err)
	}

	if sqlDB != nil {
		if err := sqlDB.Close(); err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}
