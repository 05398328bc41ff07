package catalog

import (
	errors "github.com/Laisky/errors/v2"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound is returned when the requested app or version does not exist.
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict is returned when (package_name, version_code) is already stored.
	ErrVersionConflict = errors.New("version already exists")
)

const pgUniqueViolation = "23505"

// isUniqueViolation reports whether err is a unique or primary key violation
// from either supported driver.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}

	return false
}
