package db

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes the repositories translate into domain errors.
const (
	CodeForeignKeyViolation  = "23503"
	CodeUniqueViolation      = "23505"
	CodeCheckViolation       = "23514"
	CodeExclusionViolation   = "23P01"
	CodeSerializationFailure = "40001"
	CodeDeadlockDetected     = "40P01"
)

func pgCode(err error) (string, string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName
	}
	return "", ""
}

// IsExclusionViolation reports whether err was raised by an EXCLUDE constraint
// and returns the constraint's name.
func IsExclusionViolation(err error) (string, bool) {
	code, constraint := pgCode(err)
	return constraint, code == CodeExclusionViolation
}

// IsForeignKeyViolation reports whether err is a foreign key violation and
// returns the constraint's name.
func IsForeignKeyViolation(err error) (string, bool) {
	code, constraint := pgCode(err)
	return constraint, code == CodeForeignKeyViolation
}

func IsCheckViolation(err error) bool {
	code, _ := pgCode(err)
	return code == CodeCheckViolation
}

// IsSerializationFailure reports whether the transaction should be replayed.
func IsSerializationFailure(err error) bool {
	code, _ := pgCode(err)
	return code == CodeSerializationFailure || code == CodeDeadlockDetected
}
