package querysql

import (
	"errors"
	"fmt"
)

// CompileError reports a filter, ordering or statement that cannot be
// compiled. Fragment is the offending piece rendered with where.String.
type CompileError struct {
	Code     CompileErrorCode
	Message  string
	Fragment string
}

// CompileErrorCode categorizes compile errors.
type CompileErrorCode string

const (
	// ErrCodeUnknownColumn indicates a field that is not a column of the
	// table it resolves to.
	ErrCodeUnknownColumn CompileErrorCode = "UNKNOWN_COLUMN"

	// ErrCodeUnknownRelation indicates a path segment that is not an
	// association of the current table.
	ErrCodeUnknownRelation CompileErrorCode = "UNKNOWN_RELATION"

	// ErrCodeAmbiguousRelation indicates a path segment naming a child
	// association that more than one related table declares.
	ErrCodeAmbiguousRelation CompileErrorCode = "AMBIGUOUS_RELATION"

	// ErrCodeNullOperator indicates NULL used with an operator other than
	// = or !=.
	ErrCodeNullOperator CompileErrorCode = "NULL_OPERATOR"

	// ErrCodeInvalidValue indicates a literal that cannot be converted to
	// the column type.
	ErrCodeInvalidValue CompileErrorCode = "INVALID_VALUE"

	// ErrCodeUnsupported indicates a construct the compiler does not handle
	// in this position (e.g. ordering through a to-child relation).
	ErrCodeUnsupported CompileErrorCode = "UNSUPPORTED"

	// ErrCodeMissingKey indicates a write without a primary-key value.
	ErrCodeMissingKey CompileErrorCode = "MISSING_KEY"
)

// Error implements the error interface.
func (e *CompileError) Error() string {
	if e.Fragment != "" {
		return fmt.Sprintf("%s: %s (in %s)", e.Code, e.Message, e.Fragment)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsCompileError returns true if the error is or wraps a CompileError.
// Uses errors.As to handle wrapped errors.
func IsCompileError(err error) bool {
	var ce *CompileError
	return errors.As(err, &ce)
}

// IsErrorCode returns true if the error wraps a CompileError with code.
func IsErrorCode(err error, code CompileErrorCode) bool {
	var ce *CompileError
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

func compileErrorf(code CompileErrorCode, fragment string, format string, args ...any) *CompileError {
	return &CompileError{Code: code, Message: fmt.Sprintf(format, args...), Fragment: fragment}
}
