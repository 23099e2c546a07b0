package db

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrorKind is a coarse classification of database errors. The core only
// needs "retryable vs fatal" plus the two idempotent DDL cases; anything
// finer stays with the adapter.
type ErrorKind int

const (
	KindGeneric ErrorKind = iota
	KindDuplicateKey
	KindTimeout
	KindConnectionLost
	KindAccessDenied
	KindIndexExists
	KindIndexMissing
	KindTableMissing
)

// MySQL server error numbers the classifier cares about.
const (
	myErrDupKeyName    = 1061 // duplicate key name on CREATE INDEX
	myErrDupEntry      = 1062
	myErrCantDropIndex = 1091 // index does not exist on DROP INDEX
	myErrNoSuchTable   = 1146
	myErrAccessDenied  = 1045
	myErrLockWait      = 1205
)

// Classify maps a driver error into the coarse taxonomy.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindGeneric
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case myErrDupKeyName:
			return KindIndexExists
		case myErrCantDropIndex:
			return KindIndexMissing
		case myErrNoSuchTable:
			return KindTableMissing
		case myErrDupEntry:
			return KindDuplicateKey
		case myErrAccessDenied:
			return KindAccessDenied
		case myErrLockWait:
			return KindTimeout
		}
		return KindGeneric
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "42P07": // duplicate_table: CREATE INDEX on an existing relation name
			return KindIndexExists
		case "42704": // undefined_object: DROP INDEX on a missing index
			return KindIndexMissing
		case "42P01": // undefined_table
			return KindTableMissing
		case "23505": // unique_violation
			return KindDuplicateKey
		case "28P01", "28000": // invalid_password, invalid_authorization
			return KindAccessDenied
		case "57014", "55P03": // query_canceled, lock_not_available
			return KindTimeout
		}
		return KindGeneric
	}

	// Fall back to message sniffing for wrapped or driver-agnostic errors.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "already exists"):
		return KindIndexExists
	case strings.Contains(msg, "does not exist"), strings.Contains(msg, "doesn't exist"):
		return KindIndexMissing
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return KindTimeout
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "broken pipe"),
		strings.Contains(msg, "connection reset"):
		return KindConnectionLost
	case strings.Contains(msg, "access denied"), strings.Contains(msg, "permission denied"):
		return KindAccessDenied
	}
	return KindGeneric
}

// IsIndexExists reports the idempotent "index already exists" CREATE failure.
func IsIndexExists(err error) bool { return Classify(err) == KindIndexExists }

// IsIndexMissing reports the idempotent "index does not exist" DROP failure.
func IsIndexMissing(err error) bool { return Classify(err) == KindIndexMissing }

// IsTableMissing reports a missing-table error.
func IsTableMissing(err error) bool { return Classify(err) == KindTableMissing }

// IsRetryable reports whether the caller may reasonably retry. Retry policy
// itself is delegated entirely to the collaborator.
func IsRetryable(err error) bool {
	switch Classify(err) {
	case KindTimeout, KindConnectionLost:
		return true
	}
	return false
}
