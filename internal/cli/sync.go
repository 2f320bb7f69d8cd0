package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/ormso/internal/syncer"
)

// SyncResult is the output of the sync command.
type SyncResult struct {
	Summary string          `json:"summary"`
	Tables  []syncer.Status `json:"tables"`
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync [table]",
		Short: "Synchronize tables with the remote service",
		Long: `Run one sync pass: push local changes, then pull remote changes.

Without a table every synchronized table is synced in declaration order.
Exits with status 1 when any table's sync failed.

Example:
  ormso sync
  ormso sync Customer --config ormso.yaml`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(rootOpts, args, cmd)
		},
	}
}

func runSync(opts *RootOptions, args []string, cmd *cobra.Command) error {
	out := newFormatter(opts, cmd)
	a, err := openApp(cmd.Context(), cmd, opts, out)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.engine == nil {
		return out.Fail(ExitCommandError, ErrCodeSync, "schema declares no synchronized tables", nil)
	}

	ctx := cmd.Context()
	var statuses []syncer.Status
	if len(args) == 1 {
		if err := a.engine.Sync(ctx, args[0]); err != nil {
			return out.Fail(ExitCommandError, ErrCodeSync, "sync failed", err)
		}
		st, err := a.engine.Status(args[0])
		if err != nil {
			return out.Fail(ExitCommandError, ErrCodeSync, "sync failed", err)
		}
		statuses = []syncer.Status{st}
	} else {
		if err := a.engine.SyncAll(ctx); err != nil {
			return out.Fail(ExitFailure, ErrCodeSync, "sync failed", err)
		}
		statuses = a.engine.Statuses()
	}

	result := SyncResult{Summary: a.engine.GetSyncStatus(), Tables: statuses}
	if err := out.Emit(result, func(w io.Writer) { writeStatuses(w, statuses) }); err != nil {
		return err
	}

	var failed int
	for _, st := range statuses {
		if st.LastError != "" {
			failed++
		}
	}
	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("sync failed for %d table(s)", failed))
	}
	return nil
}

func writeStatuses(w io.Writer, statuses []syncer.Status) {
	for _, st := range statuses {
		switch {
		case st.LastError != "":
			fmt.Fprintf(w, "✗ %s: %s\n", st.Table, st.LastError)
		case st.Throttled:
			fmt.Fprintf(w, "- %s: skipped, synced recently\n", st.Table)
		default:
			fmt.Fprintf(w, "✓ %s: pushed %d, pulled %d\n", st.Table, st.RowsPushed, st.RowsPulled)
		}
	}
}
