package schema

import "errors"

var (
	// ErrFinalized is returned when the catalog is modified after Finalize,
	// or when Finalize is called twice.
	ErrFinalized = errors.New("schema already finalized")

	// ErrNotFinalized is returned when resolved metadata is requested
	// before Finalize.
	ErrNotFinalized = errors.New("schema not finalized")

	// ErrDuplicateTable is returned when a table name is registered twice.
	ErrDuplicateTable = errors.New("duplicate table")

	// ErrUnknownTable is returned for references to unregistered tables.
	ErrUnknownTable = errors.New("unknown table")

	// ErrPrimaryKey is returned when a non-abstract table does not have
	// exactly one primary-key column.
	ErrPrimaryKey = errors.New("table must have exactly one primary key")

	// ErrInvalidRelation is returned for relations that cannot be resolved.
	ErrInvalidRelation = errors.New("invalid relation")

	// ErrAmbiguousAssociation is returned when a child association name is
	// declared by more than one relation reaching the same parent, as
	// happens when a related table has descendants.
	ErrAmbiguousAssociation = errors.New("ambiguous association")

	// ErrUnknownField is returned by strict row decoding for keys that are
	// neither columns nor associations.
	ErrUnknownField = errors.New("unknown field")

	// ErrInvalidValue is returned when a value cannot be coerced to a
	// column's type.
	ErrInvalidValue = errors.New("invalid value")
)
