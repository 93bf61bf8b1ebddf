package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/codex-k8s/browser-mcp-relay/configs"
	"github.com/codex-k8s/browser-mcp-relay/internal/app"
	"github.com/codex-k8s/browser-mcp-relay/internal/audit"
	"github.com/codex-k8s/browser-mcp-relay/internal/config"
	"github.com/codex-k8s/browser-mcp-relay/internal/constants"
	"github.com/codex-k8s/browser-mcp-relay/internal/executil"
	"github.com/codex-k8s/browser-mcp-relay/internal/execution"
	"github.com/codex-k8s/browser-mcp-relay/internal/log"
	"github.com/codex-k8s/browser-mcp-relay/internal/relay"
	"github.com/codex-k8s/browser-mcp-relay/internal/render"
	"github.com/codex-k8s/browser-mcp-relay/internal/resources"
	"github.com/codex-k8s/browser-mcp-relay/internal/runtime"
	"github.com/codex-k8s/browser-mcp-relay/internal/settings"
	"github.com/codex-k8s/browser-mcp-relay/internal/startup"
	"github.com/codex-k8s/browser-mcp-relay/internal/timeutil"
	"github.com/codex-k8s/browser-mcp-relay/internal/tools"
)

func main() {
	configPath := flag.String("config", "", "Path to the YAML settings file (overrides BROWSER_MCP_CONFIG)")
	embeddedConfig := flag.String("embedded-config", "", "Use embedded settings from configs/ (filename)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if *configPath != "" {
		cfg.ConfigPath = *configPath
	}

	settingsCfg, err := loadSettings(cfg, *embeddedConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "settings error: %v\n", err)
		os.Exit(1)
	}

	// Stdout carries the MCP stream in stdio mode.
	var logOut io.Writer = os.Stdout
	if settingsCfg.Server.Transport == constants.TransportStdio {
		logOut = os.Stderr
	}
	logger := log.New(cfg.LogLevel, logOut)

	baseCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)
	go func() {
		sig := <-sigCh
		logger.Warn("shutdown requested", "signal", sig.String())
		cancel()
	}()

	if err := run(baseCtx, cfg, settingsCfg, logger); err != nil {
		logger.Error("runtime error", "error", err)
		cancel()
		os.Exit(1)
	}
}

func loadSettings(cfg config.Config, embedded string) (*settings.Config, error) {
	var (
		rendered []byte
		err      error
	)
	switch {
	case embedded != "":
		rendered, err = configs.Render(embedded)
	case cfg.ConfigPath != "":
		rendered, err = render.File(cfg.ConfigPath)
	default:
		rendered, err = configs.Render(configs.DefaultName)
	}
	if err != nil {
		return nil, fmt.Errorf("render settings: %w", err)
	}

	settingsCfg, err := settings.Load(rendered)
	if err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}

	if cfg.Port != 0 {
		settingsCfg.Server.Port = cfg.Port
	}
	if cfg.Transport != "" {
		settingsCfg.Server.Transport = cfg.Transport
	}
	if cfg.AuthToken != "" {
		settingsCfg.Server.AuthToken = cfg.AuthToken
	}
	if err := settings.Validate(settingsCfg); err != nil {
		return nil, fmt.Errorf("validate settings: %w", err)
	}
	return settingsCfg, nil
}

func run(ctx context.Context, cfg config.Config, settingsCfg *settings.Config, logger *slog.Logger) error {
	server := settingsCfg.Server
	auditLogger := audit.New(logger)

	registry, err := tools.Default()
	if err != nil {
		return fmt.Errorf("build tools: %w", err)
	}
	collection, err := buildResources(settingsCfg.Resources)
	if err != nil {
		return err
	}

	execCtx := execution.New(execution.Options{
		Timeout: timeutil.ParseDurationOrDefault(server.RequestTimeout, execution.DefaultTimeout),
		Logger:  logger,
	})
	defer func() {
		if err := execCtx.Close(); err != nil {
			logger.Warn("close execution context failed", "error", err)
		}
	}()

	router, err := relay.New(relay.Options{
		Exec:               execCtx,
		Registry:           registry,
		Resources:          collection,
		Info:               relay.ServerInfo{Name: server.Name, Version: server.Version},
		Logger:             logger,
		Audit:              auditLogger,
		Auth:               relay.SharedSecret(server.AuthToken),
		AllowedOrigins:     server.AllowedOrigins,
		ReadLimit:          server.ReadLimit,
		ToolCallsPerMinute: server.ToolCallsPerMinute,
	})
	if err != nil {
		return fmt.Errorf("build router: %w", err)
	}

	mcpServer, err := runtime.Builder{
		Logger:    logger,
		Audit:     auditLogger,
		Registry:  registry,
		Resources: collection,
		Exec:      execCtx,
	}.Build(server.Name, server.Version)
	if err != nil {
		return fmt.Errorf("build mcp server: %w", err)
	}

	hookData := executil.TemplateData{Host: server.Host, Port: server.Port}
	if err := startup.Run(ctx, server.StartupHooks, hookData, logger); err != nil {
		return fmt.Errorf("startup hooks: %w", err)
	}
	if err := startup.EvictStale(ctx, server, logger); err != nil {
		return fmt.Errorf("free port %d: %w", server.Port, err)
	}

	extra := map[string]http.Handler{}
	if server.HTTP.MCPPath != "" {
		extra[server.HTTP.MCPPath] = mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
			return mcpServer
		}, &mcp.StreamableHTTPOptions{
			Stateless: server.HTTP.Stateless,
		})
	}

	application, err := app.New(ctx, app.Options{
		Server:          server,
		Handler:         router,
		Extra:           extra,
		Stats:           func() any { return router.Stats() },
		Logger:          logger,
		ShutdownTimeout: cfg.ShutdownTimeout,
	})
	if err != nil {
		return err
	}
	application.RegisterOnShutdown(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := router.Shutdown(shutdownCtx); err != nil {
			logger.Warn("router shutdown incomplete", "error", err)
		}
	})

	go router.ReportStats(ctx, timeutil.ParseDurationOrDefault(server.StatsInterval, 0))

	if server.Transport == constants.TransportStdio {
		stdioCtx, stopStdio := context.WithCancel(ctx)
		defer stopStdio()
		go func() {
			err := mcpServer.Run(stdioCtx, &mcp.StdioTransport{})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("stdio transport stopped", "error", err)
			} else {
				logger.Info("stdio transport closed")
			}
			// Controller went away; stop the process with it.
			stopStdio()
		}()
		return application.Run(stdioCtx)
	}

	logger.Info("relay listening", "addr", server.Addr(), "path", server.Path, "mcp_path", server.HTTP.MCPPath)
	return application.Run(ctx)
}

func buildResources(items []settings.ResourceConfig) (*resources.Collection, error) {
	converted := make([]resources.Resource, 0, len(items))
	for _, item := range items {
		converted = append(converted, resources.Resource{
			URI:         item.URI,
			Name:        item.Name,
			Description: item.Description,
			MIMEType:    item.MIMEType,
			Text:        item.Text,
		})
	}
	collection, err := resources.NewCollection(converted...)
	if err != nil {
		return nil, fmt.Errorf("build resources: %w", err)
	}
	return collection, nil
}
