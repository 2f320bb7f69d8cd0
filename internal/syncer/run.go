package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// State is a table's sync state.
type State int

const (
	Idle State = iota
	Syncing
)

func (s State) String() string {
	if s == Syncing {
		return "syncing"
	}
	return "idle"
}

// Status describes one synchronized table.
type Status struct {
	Table      string    `json:"table"`
	State      State     `json:"-"`
	StateName  string    `json:"state"`
	LastSync   time.Time `json:"lastSync,omitzero"`
	LastRun    time.Time `json:"lastRun,omitzero"`
	LastRunID  string    `json:"lastRunId,omitempty"`
	LastError  string    `json:"lastError,omitempty"`
	Throttled  bool      `json:"throttled,omitempty"`
	RowsPushed int       `json:"rowsPushed"`
	RowsPulled int       `json:"rowsPulled"`
}

// Sync runs one table sync. It returns ErrUnknownTable or ErrSyncActive;
// failures of the sync itself are logged and recorded on the table's
// Status, not returned.
func (e *Engine) Sync(ctx context.Context, table string) error {
	b, err := e.binding(table)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if b.status.State == Syncing {
		e.mu.Unlock()
		return fmt.Errorf("sync %s: %w", table, ErrSyncActive)
	}
	b.status.State = Syncing
	e.mu.Unlock()

	runID := uuid.Must(uuid.NewV7()).String()
	logger := e.logger.With("table", table, "run_id", runID)
	logger.InfoContext(ctx, "sync started")

	r := &run{engine: e, b: b, id: runID, logger: logger}
	err = r.execute(ctx)

	e.mu.Lock()
	b.status.State = Idle
	b.status.LastRun = e.clock.Now()
	b.status.LastRunID = runID
	b.status.Throttled = r.throttled
	b.status.RowsPushed = r.pushed
	b.status.RowsPulled = r.pulled
	if err != nil {
		b.status.LastError = err.Error()
	} else {
		b.status.LastError = ""
		if !r.watermark.IsZero() {
			b.status.LastSync = r.watermark
		}
	}
	e.mu.Unlock()

	if err != nil {
		var se *SyncError
		phase := Phase("")
		if errors.As(err, &se) {
			phase = se.Phase
		}
		logger.ErrorContext(ctx, "sync failed", "phase", string(phase), "error", err)
	} else if !r.throttled {
		logger.InfoContext(ctx, "sync completed", "pushed", r.pushed, "pulled", r.pulled)
	}
	return nil
}

// SyncAll syncs every bound table sequentially in registration order.
// Only one sweep may run at a time. Tables already syncing on their own
// are skipped.
func (e *Engine) SyncAll(ctx context.Context) error {
	e.mu.Lock()
	if e.syncingAll {
		e.mu.Unlock()
		return ErrSyncAllActive
	}
	e.syncingAll = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.syncingAll = false
		e.mu.Unlock()
	}()

	for _, b := range e.bindingsInOrder() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.Sync(ctx, b.name()); err != nil {
			e.logger.WarnContext(ctx, "sync skipped", "table", b.name(), "error", err)
		}
	}
	return nil
}

// Run sweeps all tables every interval until ctx is done.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := e.SyncAll(ctx); err != nil && !errors.Is(err, ErrSyncAllActive) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.logger.ErrorContext(ctx, "sync sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// IsSyncActive reports whether a sweep or any table sync is running.
func (e *Engine) IsSyncActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.syncingAll {
		return true
	}
	for _, b := range e.order {
		if b.status.State == Syncing {
			return true
		}
	}
	return false
}

// GetSyncStatus returns a human-readable summary.
func (e *Engine) GetSyncStatus() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var active, failed []string
	for _, b := range e.order {
		if b.status.State == Syncing {
			active = append(active, b.name())
		}
		if b.status.LastError != "" {
			failed = append(failed, b.name())
		}
	}

	var sb strings.Builder
	switch {
	case e.syncingAll:
		sb.WriteString("syncing all tables")
		if len(active) > 0 {
			fmt.Fprintf(&sb, " (current: %s)", strings.Join(active, ", "))
		}
	case len(active) > 0:
		fmt.Fprintf(&sb, "syncing %s", strings.Join(active, ", "))
	default:
		sb.WriteString("idle")
	}
	if len(failed) > 0 {
		fmt.Fprintf(&sb, "; last sync failed for %s", strings.Join(failed, ", "))
	}
	return sb.String()
}

// Status returns the status of one table.
func (e *Engine) Status(table string) (Status, error) {
	b, err := e.binding(table)
	if err != nil {
		return Status{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	st := b.status
	st.StateName = st.State.String()
	return st, nil
}

// Statuses returns every table's status in registration order.
func (e *Engine) Statuses() []Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Status, len(e.order))
	for i, b := range e.order {
		out[i] = b.status
		out[i].StateName = out[i].State.String()
	}
	return out
}
