package model

import "errors"

var (
	// ErrNoItem is returned when a write is called without a row.
	ErrNoItem = errors.New("no item")

	// ErrNoPrimaryKey is returned when update or delete is called on a row
	// without a primary-key value.
	ErrNoPrimaryKey = errors.New("row has no primary key")

	// ErrNotFinalized is returned by data operations before Context.Finalize.
	ErrNotFinalized = errors.New("model context not finalized")

	// ErrDuplicateModel is returned when a table is registered twice.
	ErrDuplicateModel = errors.New("duplicate data model")

	// ErrUnknownModel is returned for tables without a registered model.
	ErrUnknownModel = errors.New("unknown data model")

	// ErrNotFound is returned when an update or delete matched no row.
	ErrNotFound = errors.New("row not found")

	// ErrUnknownAssociation is returned when an expansion path names no
	// relation of the table.
	ErrUnknownAssociation = errors.New("unknown association")
)
