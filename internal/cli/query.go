package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/ormso/internal/model"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	Options string
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <table>",
		Short: "Select rows from a table",
		Long: `Select rows from a table with JSON select options.

Example:
  ormso query Customer --options '{"where":["Name","startswith","A"],"orderBy":["Name"]}'
  ormso query Order --options '{"expand":["Customer"],"take":10}' --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Options, "options", "", "select options as JSON")

	return cmd
}

func runQuery(opts *QueryOptions, table string, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd)

	sel, err := model.ParseSelectOptions([]byte(opts.Options))
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeQuery, "invalid select options", err)
	}

	a, err := openApp(cmd.Context(), cmd, opts.RootOptions, out)
	if err != nil {
		return err
	}
	defer a.Close()

	dm, ok := a.models.Model(table)
	if !ok || dm.Info().IsAbstract() {
		return out.Fail(ExitCommandError, ErrCodeQuery, fmt.Sprintf("unknown table %q", table), nil)
	}

	res, err := dm.Select(cmd.Context(), sel)
	if err != nil {
		return out.Fail(ExitFailure, ErrCodeQuery, "query failed", err)
	}
	out.VerboseLog("%s: %d row(s)", table, len(res.Rows))

	return out.Emit(res, func(w io.Writer) {
		for _, row := range res.Rows {
			line, err := json.Marshal(row.ToMap())
			if err != nil {
				fmt.Fprintf(w, "%v\n", row.ToMap())
				continue
			}
			fmt.Fprintln(w, string(line))
		}
		if res.Count != nil {
			fmt.Fprintf(w, "(%d of %d rows)\n", len(res.Rows), *res.Count)
			return
		}
		fmt.Fprintf(w, "(%d rows)\n", len(res.Rows))
	})
}
