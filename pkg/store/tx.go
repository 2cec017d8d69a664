package store

import (
	"context"
	"hash/crc32"

	"gorm.io/gorm"
)

// exclusiveLockID is the advisory lock key taken by exclusive transactions.
var exclusiveLockID = int64(crc32.ChecksumIEEE([]byte("rdf-exclusive")))

// WithTransaction runs fn inside BEGIN/COMMIT, rolling back on any returned
// error or panic. All framework reads and writes go through here so every
// caller observes a consistent snapshot.
func (s *Store) WithTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

// WithExclusiveTransaction runs fn inside a transaction that is serialised
// against every other connection. On postgres this takes a cluster-wide
// transaction-scoped advisory lock before the body runs; it is released
// automatically at commit or rollback. Other dialects already serialise
// writers, so the body runs in a plain transaction there. Used by tests and
// admin scripts.
func (s *Store) WithExclusiveTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if s.IsPostgres() {
			if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", exclusiveLockID).Error; err != nil {
				return err
			}
		}
		return fn(tx)
	})
}
