// Package repo implements the data persistence layer for bookings and
// idempotency records, backed by GORM. This file contains database
// bootstrapping for SQLite (pure Go driver), MySQL and PostgreSQL, plus
// schema migrations.
package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/bhartiyash03-sys/speedy-doc-link/internal/domain"
)

// Supported DB_DRIVER values.
const (
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// Open connects to the configured driver, instruments the handle with the
// OpenTelemetry GORM plugin and applies pool settings. For sqlite, dsn is a
// file path.
func Open(driver, dsn string) (*gorm.DB, error) {
	var (
		db  *gorm.DB
		err error
	)
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverSQLite:
		return OpenSQLite(dsn)
	case DriverMySQL:
		db, err = gorm.Open(mysql.Open(dsn), gormConfig())
	case DriverPostgres:
		db, err = gorm.Open(postgres.Open(dsn), gormConfig())
	default:
		return nil, fmt.Errorf("repo: unsupported driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	if err := instrument(db); err != nil {
		return nil, err
	}
	tunePool(db)
	return db, nil
}

// OpenSQLite opens (or creates) a SQLite database and applies PRAGMAs.
func OpenSQLite(path string) (*gorm.DB, error) {
	// Fail early if parent directory does not exist (instead of sqlite "out of memory (14)" on Windows).
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(path), gormConfig())
	if err != nil {
		return nil, err
	}

	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=NORMAL;")
	db.Exec("PRAGMA busy_timeout=5000;")

	if err := instrument(db); err != nil {
		return nil, err
	}
	tunePool(db)
	return db, nil
}

// AutoMigrate creates or updates the bookings and idempotency tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Booking{},
		&domain.Idempotency{},
	)
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Error),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	}
}

func instrument(db *gorm.DB) error {
	return db.Use(tracing.NewPlugin(tracing.WithoutMetrics()))
}

func tunePool(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}
}
