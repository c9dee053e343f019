package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/roach88/revsync/internal/api"
	"github.com/roach88/revsync/internal/engine"
	"github.com/roach88/revsync/internal/metrics"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string

	// Ready, when set, receives the bound address once the server listens
	// (for testing).
	Ready chan<- string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a document over HTTP",
		Long: `Load a document, keep it replicated and serve it over HTTP:

  GET  /healthz
  GET  /metrics
  GET  /v1/document[?rev=N]
  GET  /v1/history[?since=ID]
  POST /v1/operations
  GET  /v1/events  (websocket)

Example:
  revsync serve --db ./revsync.db --doc notes --addr :8080
  revsync serve --config ./revsync.yaml --verbose`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides config)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if opts.Addr != "" {
		cfg.Server.Addr = opts.Addr
	}
	logger := opts.newLogger(cfg, cmd.ErrOrStderr())

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

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

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	e, err := opts.openEnv(ctx, cfg, logger, engine.WithMetrics(m.For(cfg.Document)))
	if err != nil {
		return err
	}
	defer e.Close()

	if !opts.Verbose {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := api.New(e.session, cfg.Document,
		api.WithGatherer(reg),
		api.WithSubmitTimeout(cfg.SubmitTimeout()),
		api.WithLogger(logger),
	)

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	httpServer := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("serving document", "doc", cfg.Document, "addr", ln.Addr().String(), "author", e.session.Engine().Author())
	fmt.Fprintf(cmd.OutOrStdout(), "Serving %s on %s\n", cfg.Document, ln.Addr())
	if opts.Ready != nil {
		opts.Ready <- ln.Addr().String()
	}

	errc := make(chan error, 1)
	go func() { errc <- httpServer.Serve(ln) }()

	select {
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitFailure, "server error", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down server", "error", err)
	}

	logger.Info("server stopped gracefully")
	return nil
}
