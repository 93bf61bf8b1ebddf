package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/codex-k8s/browser-mcp-relay/internal/http/health"
	"github.com/codex-k8s/browser-mcp-relay/internal/settings"
	"github.com/codex-k8s/browser-mcp-relay/internal/timeutil"
)

// App controls the HTTP server lifecycle.
type App struct {
	baseCtx         context.Context
	server          *http.Server
	health          *health.Handler
	logger          *slog.Logger
	shutdownTimeout time.Duration
}

// Options configures an App.
type Options struct {
	// Server carries the listen address, websocket path and HTTP timeouts.
	Server settings.ServerConfig
	// Handler serves the websocket endpoint.
	Handler http.Handler
	// Extra mounts additional routes such as the MCP endpoint.
	Extra map[string]http.Handler
	// Stats feeds /statsz. Nil disables the route body.
	Stats func() any
	// Logger is used for structured logging.
	Logger *slog.Logger
	// ShutdownTimeout overrides server.shutdown_timeout when non-zero.
	ShutdownTimeout time.Duration
}

// New initializes the HTTP server with the websocket endpoint, health
// endpoints and any extra routes.
func New(baseCtx context.Context, opts Options) (*App, error) {
	if opts.Handler == nil {
		return nil, fmt.Errorf("handler is nil")
	}
	if baseCtx == nil {
		return nil, fmt.Errorf("base context is nil")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	serverCfg := opts.Server

	path := serverCfg.Path
	if strings.TrimSpace(path) == "" {
		path = settings.DefaultPath
	}

	healthHandler := health.New(opts.Stats)
	mux := http.NewServeMux()
	mux.Handle(path, opts.Handler)
	mux.HandleFunc("/healthz", healthHandler.Healthz)
	mux.HandleFunc("/readyz", healthHandler.Readyz)
	mux.HandleFunc("/statsz", healthHandler.Statsz)
	for route, h := range opts.Extra {
		if strings.TrimSpace(route) == "" || h == nil {
			continue
		}
		mux.Handle(route, h)
	}

	// Websocket connections are long-lived, so only header and idle timeouts apply.
	srv := &http.Server{
		Addr:              serverCfg.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: timeutil.ParseDurationOrDefault(serverCfg.HTTP.ReadHeaderTimeout, 10*time.Second),
		IdleTimeout:       timeutil.ParseDurationOrDefault(serverCfg.HTTP.IdleTimeout, 60*time.Second),
	}

	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = timeutil.ParseDurationOrDefault(serverCfg.ShutdownTimeout, 10*time.Second)
	}

	return &App{
		baseCtx:         baseCtx,
		server:          srv,
		health:          healthHandler,
		logger:          logger,
		shutdownTimeout: shutdownTimeout,
	}, nil
}

// Handler returns the routing handler.
func (a *App) Handler() http.Handler {
	return a.server.Handler
}

// RegisterOnShutdown adds fn to the functions run when shutdown starts.
// Hijacked websocket connections are not tracked by the server, so their
// owner closes them here.
func (a *App) RegisterOnShutdown(fn func()) {
	a.server.RegisterOnShutdown(fn)
}

// Run binds the listener and serves until ctx is done or the server fails.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done or the server fails.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		a.health.SetReady()
		a.logger.Info("http server started", "addr", ln.Addr().String())
		errCh <- a.server.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown requested")
		return a.shutdown()
	case err := <-errCh:
		a.health.SetNotReady()
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		a.logger.Error("http server error", "error", err)
		return err
	}
}

func (a *App) shutdown() error {
	a.health.SetNotReady()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(a.baseCtx), a.shutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
