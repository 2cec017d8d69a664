package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// IsIntegrityViolation reports whether err is a database constraint
// violation (unique, not-null, foreign-key). The driver error is preserved
// in the chain, so callers needing the exact code can unwrap to
// *pgconn.PgError themselves.
func IsIntegrityViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 23: integrity constraint violation.
		return len(pgErr.Code) >= 2 && pgErr.Code[:2] == "23"
	}
	var coded interface{ Code() int }
	if errors.As(err, &coded) {
		// SQLite: primary result code 19 is SQLITE_CONSTRAINT.
		return coded.Code()&0xff == 19
	}
	return errors.Is(err, gorm.ErrDuplicatedKey) || errors.Is(err, gorm.ErrForeignKeyViolated)
}
