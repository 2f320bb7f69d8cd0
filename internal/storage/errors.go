package storage

import (
	"errors"
	"fmt"
)

// ErrRolledBack is returned by the outermost CommitTransaction when a nested
// scope requested a rollback.
var ErrRolledBack = errors.New("transaction rolled back")

// ErrNoTransaction is returned when commit or rollback is called on a
// context that carries no transaction.
var ErrNoTransaction = errors.New("no transaction in context")

// StorageError is an execution failure with the statement that failed.
type StorageError struct {
	// Op names the adapter operation ("insert", "select", ...).
	Op string

	// Table is the affected table, when known.
	Table string

	// Statement is the SQL (or equivalent) that failed.
	Statement string

	// Args are the bound parameters.
	Args []any

	// Err is the underlying driver error.
	Err error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("storage %s %s: %v (statement: %s)", e.Op, e.Table, e.Err, e.Statement)
	}
	return fmt.Sprintf("storage %s: %v (statement: %s)", e.Op, e.Err, e.Statement)
}

// Unwrap returns the driver error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsStorageError returns true if the error is or wraps a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
