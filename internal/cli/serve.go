package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/roach88/ormso/internal/publish"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr   string
	NoSync bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Publish the data models over HTTP",
		Long: `Serve the REST API under /api and run periodic sync sweeps.

Tables are served at /api/data/<table>; sync status and triggers live
under /api/sync. Sweeps run every sync.interval when any table declares
sync. Ctrl-C shuts down gracefully.

Example:
  ormso serve --config ormso.yaml
  ormso serve --addr :9090 --no-sync`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().BoolVar(&opts.NoSync, "no-sync", false, "disable periodic sync sweeps")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd)

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	a, err := openApp(ctx, cmd, opts.RootOptions, out)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if !opts.Verbose {
		gin.SetMode(gin.ReleaseMode)
	}
	srvOpts := []publish.Option{
		publish.WithLogger(logger),
		publish.WithAllowOrigins(a.cfg.HTTP.AllowOrigins...),
	}
	if a.engine != nil {
		srvOpts = append(srvOpts, publish.WithEngine(a.engine))
	}
	srv := publish.New(a.models, srvOpts...)

	syncDone := make(chan struct{})
	if a.engine != nil && !opts.NoSync && a.cfg.Sync.Interval > 0 {
		go func() {
			defer close(syncDone)
			logger.Info("sync loop starting", "interval", a.cfg.Sync.Interval, "tables", a.engine.Tables())
			if err := a.engine.Run(ctx, a.cfg.Sync.Interval); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("sync loop stopped", "error", err)
			}
		}()
	} else {
		close(syncDone)
	}

	addr := a.cfg.HTTP.Addr
	if opts.Addr != "" {
		addr = opts.Addr
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Serving %d table(s) on %s\n", len(a.schema.Declarations), addr)
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	serveErr := srv.ListenAndServe(ctx, addr)
	cancel()
	<-syncDone

	if serveErr != nil {
		return out.Fail(ExitFailure, ErrCodeServe, "server error", serveErr)
	}
	logger.Info("server stopped gracefully")
	return nil
}
