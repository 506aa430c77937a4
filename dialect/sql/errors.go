package sql

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/syssam/bulksql"
)

// ClassifyError wraps a driver error as a *bulksql.ConstraintError when it
// resulted from a constraint violation, or as a *bulksql.DriverError otherwise.
// The driver error is kept unchanged in the chain. Errors already classified
// are returned as is.
func ClassifyError(op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		ce *bulksql.ConstraintError
		de *bulksql.DriverError
	)
	if errors.As(err, &ce) || errors.As(err, &de) {
		return err
	}
	if msg, ok := constraintKind(err); ok {
		return bulksql.NewConstraintError(msg, err)
	}
	return &bulksql.DriverError{Op: op, Err: err}
}

// constraintKind names the violated constraint kind, if any.
func constraintKind(err error) (string, bool) {
	switch {
	case IsUniqueConstraintError(err):
		return "unique constraint violated: " + err.Error(), true
	case IsForeignKeyConstraintError(err):
		return "foreign key constraint violated: " + err.Error(), true
	case IsCheckConstraintError(err):
		return "check constraint violated: " + err.Error(), true
	case IsNotNullConstraintError(err):
		return "not null constraint violated: " + err.Error(), true
	case IsConflictTargetError(err):
		return "no unique constraint matches the conflict columns: " + err.Error(), true
	}
	return "", false
}

// errorCoder is an interface for database errors that provide error codes.
type errorCoder interface {
	Code() string
}

// sqlStateError is an interface for errors that provide SQLSTATE codes.
type sqlStateError interface {
	SQLState() string
}

// sqliteCoder is implemented by modernc.org/sqlite errors (extended result codes).
type sqliteCoder interface {
	Code() int
}

// PostgreSQL SQLSTATE codes for constraint violations (Class 23) and
// ON CONFLICT targets without a matching index.
const (
	pgNotNullViolation    = "23502"
	pgForeignKeyViolation = "23503"
	pgUniqueViolation     = "23505"
	pgCheckViolation      = "23514"
	pgInvalidColumnRef    = "42P10"
)

// MySQL error numbers for constraint violations.
const (
	mysqlBadNull                = 1048
	mysqlDuplicateEntry         = 1062
	mysqlForeignKeyParent       = 1451 // Cannot delete or update a parent row
	mysqlForeignKeyChild        = 1452 // Cannot add or update a child row
	mysqlCheckConstraintViolate = 3819
)

// SQLite extended result codes.
const (
	sqliteConstraintCheck      = 275
	sqliteConstraintForeignKey = 787
	sqliteConstraintNotNull    = 1299
	sqliteConstraintPrimaryKey = 1555
	sqliteConstraintUnique     = 2067
)

// sqlState returns the SQLSTATE of Postgres errors (pq, pgx or any driver
// exposing SQLState).
func sqlState(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	if e, ok := asError[sqlStateError](err); ok {
		return e.SQLState()
	}
	if e, ok := asError[errorCoder](err); ok {
		return e.Code()
	}
	return ""
}

// mysqlNumber returns the MySQL error number, or 0.
func mysqlNumber(err error) uint16 {
	var e *mysql.MySQLError
	if errors.As(err, &e) {
		return e.Number
	}
	return 0
}

// sqliteCode returns the SQLite extended result code, or 0.
func sqliteCode(err error) int {
	if e, ok := asError[sqliteCoder](err); ok {
		return e.Code()
	}
	return 0
}

// IsUniqueConstraintError reports if the error resulted from a DB uniqueness constraint violation.
// e.g. duplicate value in unique index.
func IsUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if sqlState(err) == pgUniqueViolation || mysqlNumber(err) == mysqlDuplicateEntry {
		return true
	}
	if c := sqliteCode(err); c == sqliteConstraintUnique || c == sqliteConstraintPrimaryKey {
		return true
	}
	// Fallback to string matching for drivers that don't implement interfaces
	return containsAny(err.Error(),
		"Error 1062",                 // MySQL (string fallback)
		"violates unique constraint", // Postgres (string fallback)
		"UNIQUE constraint failed",   // SQLite
	)
}

// IsForeignKeyConstraintError reports if the error resulted from a database foreign-key constraint violation.
// e.g. parent row does not exist.
func IsForeignKeyConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if sqlState(err) == pgForeignKeyViolation || sqliteCode(err) == sqliteConstraintForeignKey {
		return true
	}
	if n := mysqlNumber(err); n == mysqlForeignKeyParent || n == mysqlForeignKeyChild {
		return true
	}
	return containsAny(err.Error(),
		"Error 1451",                      // MySQL (Cannot delete or update a parent row)
		"Error 1452",                      // MySQL (Cannot add or update a child row)
		"violates foreign key constraint", // Postgres
		"FOREIGN KEY constraint failed",   // SQLite
	)
}

// IsCheckConstraintError reports if the error resulted from a database check constraint violation.
// e.g. a value does not satisfy a check condition.
func IsCheckConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if sqlState(err) == pgCheckViolation || mysqlNumber(err) == mysqlCheckConstraintViolate || sqliteCode(err) == sqliteConstraintCheck {
		return true
	}
	return containsAny(err.Error(),
		"Error 3819",                // MySQL
		"violates check constraint", // Postgres
		"CHECK constraint failed",   // SQLite
	)
}

// IsNotNullConstraintError reports if the error resulted from writing NULL into a NOT NULL column.
func IsNotNullConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if sqlState(err) == pgNotNullViolation || mysqlNumber(err) == mysqlBadNull || sqliteCode(err) == sqliteConstraintNotNull {
		return true
	}
	return containsAny(err.Error(),
		"Error 1048",                   // MySQL
		"violates not-null constraint", // Postgres
		"NOT NULL constraint failed",   // SQLite
	)
}

// IsConflictTargetError reports an upsert whose conflict columns match no
// unique index or primary key.
func IsConflictTargetError(err error) bool {
	if err == nil {
		return false
	}
	if sqlState(err) == pgInvalidColumnRef {
		return true
	}
	return containsAny(err.Error(),
		"no unique or exclusion constraint matching the ON CONFLICT specification", // Postgres
		"does not match any PRIMARY KEY or UNIQUE constraint",                      // SQLite
	)
}

// asError attempts to extract an error implementing interface T from the error chain.
func asError[T any](err error) (T, bool) {
	var target T
	for err != nil {
		if e, ok := err.(T); ok {
			return e, true
		}
		err = errors.Unwrap(err)
	}
	return target, false
}

// containsAny returns true if s contains any of the substrings.
func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
