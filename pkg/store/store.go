// Package store owns the relational storage layer: connection setup, the
// framework schema (tables, triggers, stored routines), the transaction
// manager, notification scheduling, and the read-side query API.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/rdfkit/rdf/pkg/model"
)

// DatabaseConfig holds connection parameters for the backing database.
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultDatabaseConfig returns local-development connection defaults.
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Host:            "localhost",
		Port:            5432,
		User:            "rdf",
		Database:        "rdf",
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	}
}

// DSN renders the config as a libpq keyword/value connection string.
func (c DatabaseConfig) DSN() string {
	dsn := fmt.Sprintf("host=%s port=%d user=%s dbname=%s", c.Host, c.Port, c.User, c.Database)
	if c.Password != "" {
		dsn += " password=" + c.Password
	}
	if c.SSLMode != "" {
		dsn += " sslmode=" + c.SSLMode
	}
	return dsn
}

// Open connects a postgres-backed GORM handle and applies pool tunables.
func Open(cfg DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("access connection pool: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return db, nil
}

// Store wraps a GORM handle with the framework's storage operations.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// New creates a Store. A nil logger falls back to slog.Default().
func New(db *gorm.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// DB exposes the underlying GORM handle.
func (s *Store) DB() *gorm.DB { return s.db }

// IsPostgres reports whether the connected dialect supports the postgres
// stored routines, triggers, and locking primitives.
func (s *Store) IsPostgres() bool {
	return s.db.Dialector.Name() == "postgres"
}

// Bootstrap creates or updates the framework schema. It is idempotent and
// serialised across replicas via the migration lock.
func (s *Store) Bootstrap(ctx context.Context) error {
	locker := NewMigrationLocker(s.db)
	return locker.WithLock(ctx, func() error {
		if err := s.db.WithContext(ctx).AutoMigrate(model.FrameworkTables()...); err != nil {
			return fmt.Errorf("create framework tables: %w", err)
		}
		if s.IsPostgres() {
			if err := s.installPostgresObjects(ctx); err != nil {
				return err
			}
		}
		s.logger.Info("framework schema ready", "dialect", s.db.Dialector.Name())
		return nil
	})
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("access connection pool: %w", err)
	}
	return sqlDB.Close()
}
