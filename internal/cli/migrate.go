package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

// MigrateResult is the output of the migrate command.
type MigrateResult struct {
	Tables  []string `json:"tables"`
	Changed []string `json:"changed"`
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update tables from the schema",
		Long: `Load the CUE schema and bring the database in line with it.

Missing tables, columns and indexes are created, including the bookkeeping
columns of synchronized tables. Existing data is never dropped.

Example:
  ormso migrate --schema ./schema --db ./app.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(rootOpts, cmd)
		},
	}
}

func runMigrate(opts *RootOptions, cmd *cobra.Command) error {
	out := newFormatter(opts, cmd)
	a, err := openApp(cmd.Context(), cmd, opts, out)
	if err != nil {
		return err
	}
	defer a.Close()

	result := MigrateResult{Tables: a.schema.Tables(), Changed: a.changed}
	if result.Changed == nil {
		result.Changed = []string{}
	}
	return out.Emit(result, func(w io.Writer) {
		if len(result.Changed) == 0 {
			fmt.Fprintf(w, "Schema up to date (%d tables)\n", len(result.Tables))
			return
		}
		fmt.Fprintf(w, "Migrated %d of %d tables: %s\n",
			len(result.Changed), len(result.Tables), strings.Join(result.Changed, ", "))
	})
}
