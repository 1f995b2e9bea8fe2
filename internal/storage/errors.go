package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// ErrStorage matches every *Error returned by this package.
var ErrStorage = errors.New("storage error")

// ErrorClass groups PostgreSQL failures by what a caller can do about them.
type ErrorClass string

const (
	ClassConstraint ErrorClass = "constraint" // SQLSTATE class 23
	ClassData       ErrorClass = "data"       // SQLSTATE class 22, e.g. value too long
	ClassConnection ErrorClass = "connection" // SQLSTATE class 08, driver.ErrBadConn, sql.ErrConnDone
	ClassTimeout    ErrorClass = "timeout"    // deadline exceeded, cancellation, 57014
	ClassUnknown    ErrorClass = "unknown"
)

// Error is a classified storage failure.
type Error struct {
	Op    string
	Class ErrorClass
	Code  string // SQLSTATE, empty when the failure did not come from the server
	Err   error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s %s (%s): %v", ErrStorage, e.Op, e.Class, e.Code, e.Err)
	}

	return fmt.Sprintf("%s: %s %s: %v", ErrStorage, e.Op, e.Class, e.Err)
}

// Unwrap returns the driver error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches ErrStorage.
func (e *Error) Is(target error) bool {
	return target == ErrStorage //nolint:errorlint
}

// classify wraps err as a *Error for op. nil stays nil; an existing *Error is kept.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var serr *Error
	if errors.As(err, &serr) {
		return err
	}

	e := &Error{Op: op, Class: ClassUnknown, Err: err}

	var pqErr *pq.Error

	switch {
	case errors.As(err, &pqErr):
		e.Code = string(pqErr.Code)
		e.Class = classForCode(e.Code)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		e.Class = ClassTimeout
	case isDatabaseConnectionError(err):
		e.Class = ClassConnection
	}

	return e
}

func classForCode(code string) ErrorClass {
	switch {
	case strings.HasPrefix(code, "23"):
		return ClassConstraint
	case strings.HasPrefix(code, "22"):
		return ClassData
	case strings.HasPrefix(code, "08"):
		return ClassConnection
	case code == "57014":
		return ClassTimeout
	default:
		return ClassUnknown
	}
}

// isDatabaseConnectionError checks if an error indicates database connection failure.
// Uses PostgreSQL error codes (Class 08) and standard database/sql errors.
func isDatabaseConnectionError(err error) bool {
	if err == nil {
		return false
	}

	// Per PostgreSQL documentation, all 08xxx errors are connection-related:
	//   08000 - connection_exception
	//   08003 - connection_does_not_exist
	//   08006 - connection_failure
	//   08001 - sqlclient_unable_to_establish_sqlconnection
	//   08004 - sqlserver_rejected_establishment_of_sqlconnection
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return strings.HasPrefix(string(pqErr.Code), "08")
	}

	return errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn)
}

// IsConnectionError reports whether err is a storage connection failure.
func IsConnectionError(err error) bool {
	var serr *Error
	if errors.As(err, &serr) {
		return serr.Class == ClassConnection
	}

	return isDatabaseConnectionError(err)
}
