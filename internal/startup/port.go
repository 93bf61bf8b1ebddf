package startup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/codex-k8s/browser-mcp-relay/internal/executil"
	"github.com/codex-k8s/browser-mcp-relay/internal/settings"
	"github.com/codex-k8s/browser-mcp-relay/internal/timeutil"
)

// ErrPortBusy is returned when the listen port stays occupied.
var ErrPortBusy = errors.New("port is already in use")

const portPollInterval = 100 * time.Millisecond

// PortFree reports whether host:port can be bound right now.
func PortFree(host string, port int) bool {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}

// WaitForPort polls until host:port is free or wait elapses.
func WaitForPort(ctx context.Context, host string, port int, wait time.Duration) error {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	ticker := time.NewTicker(portPollInterval)
	defer ticker.Stop()

	for {
		if PortFree(host, port) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("%s:%d: %w", host, port, ErrPortBusy)
		case <-ticker.C:
		}
	}
}

// EvictStale frees the listen port held by a previous instance. It is a
// no-op when the port is already free, and fails fast when eviction is disabled.
func EvictStale(ctx context.Context, server settings.ServerConfig, logger *slog.Logger) error {
	if PortFree(server.Host, server.Port) {
		return nil
	}
	if !server.EvictStale.Enabled {
		return fmt.Errorf("%s: %w", server.Addr(), ErrPortBusy)
	}

	wait := timeutil.ParseDurationOrDefault(server.EvictStale.Wait, 5*time.Second)
	logger.Warn("port busy, evicting stale process", "addr", server.Addr())

	evictCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	output, _, err := executil.RunCommand(evictCtx, server.EvictStale.Command, nil, nil, executil.TemplateData{
		Host: server.Host,
		Port: server.Port,
	})
	if err != nil {
		logger.Warn("stale process eviction failed", "error", err, "output", strings.TrimSpace(output))
	}

	return WaitForPort(ctx, server.Host, server.Port, wait)
}
