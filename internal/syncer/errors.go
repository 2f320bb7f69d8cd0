package syncer

import (
	"errors"
	"fmt"
)

var (
	// ErrSyncActive is returned when a table is already syncing.
	ErrSyncActive = errors.New("sync already active for table")

	// ErrSyncAllActive is returned when a full sweep is already running.
	ErrSyncAllActive = errors.New("sync all already active")

	// ErrUnknownTable is returned for tables without a sync binding.
	ErrUnknownTable = errors.New("table is not synchronized")

	// ErrDuplicateBinding is returned when a table is bound twice.
	ErrDuplicateBinding = errors.New("table already synchronized")

	// ErrInvalidOptions is returned for unusable binding options.
	ErrInvalidOptions = errors.New("invalid sync options")
)

// Phase names the step of a table sync that failed.
type Phase string

const (
	PhaseBefore    Phase = "before"
	PhasePush      Phase = "push"
	PhasePull      Phase = "pull"
	PhaseRemap     Phase = "remap"
	PhaseWatermark Phase = "watermark"
)

// SyncError is a failed table sync.
type SyncError struct {
	Table string
	Phase Phase
	Err   error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s: %s: %v", e.Table, e.Phase, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// IsSyncError reports whether err is a SyncError.
func IsSyncError(err error) bool {
	var se *SyncError
	return errors.As(err, &se)
}
