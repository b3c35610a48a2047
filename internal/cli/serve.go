package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/roach88/syncboard/internal/config"
	"github.com/roach88/syncboard/internal/httpapi"
	"github.com/roach88/syncboard/internal/ledger"
	"github.com/roach88/syncboard/internal/lobby"
	"github.com/roach88/syncboard/internal/notify"
	"github.com/roach88/syncboard/internal/store"
	"github.com/roach88/syncboard/internal/telemetry"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr   string
	Driver string
	DSN    string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve rooms over HTTP and WebSocket",
		Long: `Serve the lobby, the ledger and room notifications.

Settings come from SYNCBOARD_* environment variables; flags override them.
Tracing is exported over OTLP/HTTP when SYNCBOARD_OTEL_ENDPOINT is set.

Example:
  syncboard serve --addr 127.0.0.1:8080 --dsn ./syncboard.db
  syncboard serve --driver pgx --dsn postgres://localhost/syncboard`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default $SYNCBOARD_ADDR)")
	cmd.Flags().StringVar(&opts.Driver, "driver", "", "store driver: sqlite3 or pgx (default $SYNCBOARD_STORE_DRIVER)")
	cmd.Flags().StringVar(&opts.DSN, "dsn", "", "store path or connection string (default $SYNCBOARD_STORE_DSN)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if opts.Addr != "" {
		cfg.Addr = opts.Addr
	}
	if opts.Driver != "" {
		cfg.StoreDriver = opts.Driver
	}
	if opts.DSN != "" {
		cfg.StoreDSN = opts.DSN
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	shutdownTracing, err := telemetry.Setup(ctx, "syncboard", cfg.OTelEndpoint, cfg.OTelEnabled)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to set up tracing", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Error("error flushing traces", "error", err)
		}
	}()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			slog.Error("error closing store", "error", closeErr)
		}
	}()

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	srv := &http.Server{
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("server starting", "addr", ln.Addr().String(), "driver", cfg.StoreDriver)
	fmt.Fprintf(cmd.OutOrStdout(), "Listening on http://%s\n", ln.Addr())
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitFailure, "server error", err)
		}
	}

	// WebSocket connections are hijacked and ignored by Shutdown; closing
	// the hub ends their streams.
	a.hub.Close()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitFailure, "shutdown error", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
// The command's context is the parent when set (for testing).
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// app wires the server-side components over one store.
type app struct {
	store  *store.Store
	hub    *notify.Hub
	server *httpapi.Server
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	st, err := store.OpenDriver(ctx, cfg.StoreDriver, cfg.StoreDSN)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	hub := notify.NewHub(notify.WithBuffer(cfg.HubBuffer))
	engine := ledger.New(st,
		ledger.WithPublisher(hub),
		ledger.WithMetrics(ledger.NewMetrics(reg)),
		ledger.WithLogLimit(cfg.LogLimit),
	)
	l := lobby.New(st, lobby.WithPublisher(hub))
	ws := notify.NewWSHandler(hub, cfg.PingInterval)

	return &app{
		store:  st,
		hub:    hub,
		server: httpapi.NewServer(l, engine, st, ws, httpapi.WithMetrics(reg)),
	}, nil
}

// Close stops notification streams and closes the store.
func (a *app) Close() error {
	a.hub.Close()
	return a.store.Close()
}
