package cli

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/ormso/internal/config"
	"github.com/roach88/ormso/internal/model"
	"github.com/roach88/ormso/internal/remote"
	"github.com/roach88/ormso/internal/schemaload"
	"github.com/roach88/ormso/internal/storage/sqlstore"
	"github.com/roach88/ormso/internal/syncer"
)

// app is a fully wired runtime: config, schema, migrated store, data
// models and, when any table declares sync, the sync engine.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	schema  *schemaload.Result
	store   *sqlstore.Store
	models  *model.Context
	engine  *syncer.Engine
	changed []string
}

// loadConfig reads the config file and applies the global flag overrides.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, err
	}
	if opts.Database != "" {
		cfg.Database.DSN = opts.Database
	}
	if opts.Driver != "" {
		cfg.Database.Driver = opts.Driver
	}
	if opts.SchemaDir != "" {
		cfg.Schema.Dir = opts.SchemaDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, opts *RootOptions, cmd *cobra.Command) *slog.Logger {
	level, _ := config.ParseLevel(cfg.Log.Level)
	if opts.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// openApp wires the runtime. Failures are reported through out and
// returned as ExitError.
func openApp(ctx context.Context, cmd *cobra.Command, opts *RootOptions, out *OutputFormatter) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, out.Fail(ExitCommandError, ErrCodeConfig, "failed to load config", err)
	}
	a := &app{cfg: cfg, logger: newLogger(cfg, opts, cmd)}

	res, errs := schemaload.LoadDir(cfg.Schema.Dir, schemaload.LoadModeFailFast)
	if len(errs) > 0 {
		return nil, failLoad(out, errs[0])
	}
	a.schema = res
	a.logger.Debug("schema loaded", "dir", cfg.Schema.Dir, "files", res.FileCount, "tables", len(res.Declarations))

	a.store, err = sqlstore.Open(ctx, cfg.Database.Driver, cfg.Database.DSN, sqlstore.WithLogger(a.logger))
	if err != nil {
		return nil, out.Fail(ExitCommandError, ErrCodeDatabase, "failed to open database", err)
	}
	a.models = model.NewContext(a.store, model.WithLogger(a.logger))

	if hasSync(res.Declarations) {
		clientOpts := []remote.Option{
			remote.WithTimeout(cfg.Remote.Timeout),
			remote.WithMaxBodySize(cfg.Remote.MaxBodySize),
			remote.WithLogger(a.logger),
		}
		for k, v := range cfg.Remote.Headers {
			clientOpts = append(clientOpts, remote.WithHeader(k, v))
		}
		client, err := remote.New(clientOpts...)
		if err != nil {
			a.Close()
			return nil, out.Fail(ExitCommandError, ErrCodeConfig, "failed to create remote client", err)
		}
		a.engine, err = syncer.New(a.models, client, syncer.WithLogger(a.logger))
		if err != nil {
			a.Close()
			return nil, out.Fail(ExitCommandError, ErrCodeSync, "failed to create sync engine", err)
		}
	}

	if _, err := schemaload.Apply(a.models, a.engine, res.Declarations, cfg.Remote.BaseURL); err != nil {
		a.Close()
		return nil, failLoad(out, err)
	}
	a.changed, err = a.models.Finalize(ctx)
	if err != nil {
		a.Close()
		return nil, out.Fail(ExitCommandError, ErrCodeDatabase, "failed to migrate schema", err)
	}
	return a, nil
}

// Close releases the database.
func (a *app) Close() {
	if a.store == nil {
		return
	}
	if err := a.store.Close(); err != nil {
		a.logger.Error("error closing database", "error", err)
	}
}

func hasSync(decls []schemaload.Declaration) bool {
	for _, d := range decls {
		if d.Sync != nil {
			return true
		}
	}
	return false
}

// failLoad reports a schema error with its load code and position.
func failLoad(out *OutputFormatter, err error) error {
	code := schemaload.ErrCodeGeneric
	var le *schemaload.LoadError
	if errors.As(err, &le) {
		code = le.Code
	}
	_ = out.Error(code, err.Error(), nil)
	return WrapExitError(ExitFailure, "invalid schema", err)
}
