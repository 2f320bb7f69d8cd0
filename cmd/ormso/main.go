// Command ormso loads CUE table declarations, migrates them into SQLite or
// PostgreSQL, serves them over HTTP and syncs them with a remote service.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/ormso/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err == nil {
		return
	}
	// Commands report their own failures as ExitError. Anything else is a
	// flag or argument error from cobra.
	var exitErr *cli.ExitError
	if !errors.As(err, &exitErr) {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCommandError)
	}
	os.Exit(exitErr.Code)
}
