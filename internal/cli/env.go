package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/revsync/internal/backend"
	"github.com/roach88/revsync/internal/config"
	"github.com/roach88/revsync/internal/engine"
	"github.com/roach88/revsync/internal/redisstore"
	"github.com/roach88/revsync/internal/session"
	"github.com/roach88/revsync/internal/store"
)

// loadConfig reads --config, or the defaults, and applies flag overrides.
func (o *RootOptions) loadConfig() (config.Config, error) {
	cfg := config.Default()
	if o.ConfigPath != "" {
		loaded, err := config.Load(o.ConfigPath)
		if err != nil {
			return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
		}
		cfg = loaded
	}

	if o.Database != "" {
		cfg.Store.Driver = config.DriverSQLite
		cfg.Store.Path = o.Database
	}
	if o.Document != "" {
		cfg.Document = o.Document
	}
	if o.Author != "" {
		cfg.Author = o.Author
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "invalid settings", err)
	}
	return cfg, nil
}

// newLogger builds the stderr text logger. --verbose forces debug.
func (o *RootOptions) newLogger(cfg config.Config, w io.Writer) *slog.Logger {
	level := cfg.LogLevel()
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// openDriver opens the configured store. The returned close function must be
// called once every user of the driver is done.
func openDriver(ctx context.Context, cfg config.Config) (backend.Driver, func() error, error) {
	switch cfg.Store.Driver {
	case config.DriverRedis:
		st, err := redisstore.Open(ctx, cfg.Store.RedisAddr, "", cfg.Store.RedisDB,
			redisstore.WithPrefix(cfg.Store.RedisPrefix),
			redisstore.WithWriters(cfg.Store.Writers...),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("open redis store: %w", err)
		}
		return st, st.Close, nil

	default:
		st, err := store.Open(cfg.Store.Path, store.WithWriters(cfg.Store.Writers...))
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return st, st.Close, nil
	}
}

// env is an open document: store, remote client and running engine.
type env struct {
	cfg         config.Config
	logger      *slog.Logger
	remote      *backend.Remote
	session     *session.Session
	closeDriver func() error
}

// openEnv opens the store and starts an engine on cfg.Document, waiting for
// the initial history.
func (o *RootOptions) openEnv(ctx context.Context, cfg config.Config, logger *slog.Logger, extra ...engine.Option) (*env, error) {
	driver, closeDriver, err := openDriver(ctx, cfg)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}

	remote := backend.NewRemote(driver, cfg.Document,
		backend.WithTimeout(cfg.SubmitTimeout()),
		backend.WithLogger(logger),
	)

	opts := []engine.Option{
		engine.WithCheckpointInterval(cfg.CheckpointInterval),
		engine.WithLogger(logger),
	}
	if cfg.Author != "" {
		opts = append(opts, engine.WithAuthor(cfg.Author))
	}
	opts = append(opts, extra...)

	sess, err := session.Start(remote, opts...)
	if err != nil {
		remote.Close()
		_ = closeDriver()
		return nil, WrapExitError(ExitCommandError, "failed to start engine", err)
	}

	e := &env{cfg: cfg, logger: logger, remote: remote, session: sess, closeDriver: closeDriver}

	readyCtx, cancel := context.WithTimeout(ctx, cfg.SubmitTimeout())
	defer cancel()
	if err := sess.WaitReady(readyCtx); err != nil {
		e.Close()
		return nil, WrapExitError(ExitFailure, "document did not load", err)
	}
	logger.Debug("document ready", "doc", cfg.Document, "author", sess.Engine().Author(), "revision", sess.Revision())
	return e, nil
}

// Close stops the engine, waits for in-flight store calls and closes the
// store.
func (e *env) Close() {
	if err := e.session.Close(); err != nil {
		e.logger.Error("engine stopped with error", "error", err)
	}
	e.remote.Close()
	if err := e.closeDriver(); err != nil {
		e.logger.Error("error closing store", "error", err)
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
