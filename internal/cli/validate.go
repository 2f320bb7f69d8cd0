package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/ormso/internal/schemaload"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Tables []string          `json:"tables,omitempty"`
	Files  int               `json:"files"`
	Errors []ValidationIssue `json:"errors,omitempty"`
}

// ValidationIssue is one schema error.
type ValidationIssue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [schema-dir]",
		Short: "Validate a schema without touching a database",
		Long: `Validate CUE table declarations.

Reports every malformed table, unknown base, broken relation and bad sync
block with its position. Defaults to the configured schema directory.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := ""
			if len(args) == 1 {
				dir = args[0]
			}
			return runValidate(rootOpts, dir, cmd)
		},
	}
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	out := newFormatter(opts, cmd)

	baseURL := ""
	if opts.Config != "" || dir == "" {
		cfg, err := loadConfig(opts)
		if err != nil {
			return out.Fail(ExitCommandError, ErrCodeConfig, "failed to load config", err)
		}
		baseURL = cfg.Remote.BaseURL
		if dir == "" {
			dir = cfg.Schema.Dir
		}
	}

	res, errs := schemaload.LoadDir(dir, schemaload.LoadModeCollectAll)
	if res != nil {
		out.VerboseLog("Found %d CUE file(s) in %s", res.FileCount, dir)
	}
	if res != nil && len(errs) == 0 {
		if err := schemaload.Check(res.Declarations, baseURL); err != nil {
			errs = append(errs, err)
		}
	}

	result := ValidationResult{Valid: len(errs) == 0}
	if res != nil {
		result.Tables = res.Tables()
		result.Files = res.FileCount
	}
	for _, err := range errs {
		result.Errors = append(result.Errors, issueFor(err))
	}

	if err := out.Emit(result, func(w io.Writer) { writeValidation(w, result) }); err != nil {
		return err
	}
	if !result.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("schema has %d error(s)", len(result.Errors)))
	}
	return nil
}

func issueFor(err error) ValidationIssue {
	issue := ValidationIssue{Code: schemaload.ErrCodeGeneric, Message: err.Error()}
	var le *schemaload.LoadError
	if errors.As(err, &le) {
		issue.Code = le.Code
		if le.Pos.IsValid() {
			issue.File = le.Pos.Filename()
			issue.Line = le.Pos.Line()
		}
	}
	return issue
}

func writeValidation(w io.Writer, r ValidationResult) {
	if r.Valid {
		fmt.Fprintf(w, "✓ Schema valid: %d table(s) in %d file(s)\n", len(r.Tables), r.Files)
		return
	}
	fmt.Fprintf(w, "✗ Schema invalid: %d error(s)\n", len(r.Errors))
	for _, e := range r.Errors {
		if e.File != "" {
			fmt.Fprintf(w, "  %s:%d [%s] %s\n", e.File, e.Line, e.Code, e.Message)
			continue
		}
		fmt.Fprintf(w, "  [%s] %s\n", e.Code, e.Message)
	}
}
