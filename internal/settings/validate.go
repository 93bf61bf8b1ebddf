package settings

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/codex-k8s/browser-mcp-relay/internal/constants"
)

// Defaults applied by Validate.
const (
	DefaultHost           = "127.0.0.1"
	DefaultPath           = "/"
	DefaultMCPPath        = "/mcp"
	DefaultRequestTimeout = "30s"
	DefaultStatsInterval  = "60s"
	DefaultReadLimit      = 32 << 20
	DefaultEvictCommand   = "lsof -ti tcp:{{ .Port }} | xargs -r kill"
	DefaultEvictWait      = "5s"
)

// Validate applies defaults and verifies required fields.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Server.Name == "" {
		cfg.Server.Name = "browser-mcp-relay"
	}
	if cfg.Server.Version == "" {
		cfg.Server.Version = "0.0.0"
	}
	cfg.Server.Transport = strings.ToLower(strings.TrimSpace(cfg.Server.Transport))
	switch cfg.Server.Transport {
	case "":
		cfg.Server.Transport = constants.TransportWS
	case constants.TransportWS, constants.TransportStdio:
	default:
		return fmt.Errorf("server.transport must be ws or stdio")
	}
	if strings.TrimSpace(cfg.Server.Host) == "" {
		cfg.Server.Host = DefaultHost
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = constants.DefaultPort
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if cfg.Server.Path == "" {
		cfg.Server.Path = DefaultPath
	}
	if !strings.HasPrefix(cfg.Server.Path, "/") {
		return fmt.Errorf("server.path must start with /")
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"*"}
	}
	if cfg.Server.ReadLimit == 0 {
		cfg.Server.ReadLimit = DefaultReadLimit
	}
	if cfg.Server.ReadLimit < 0 {
		return fmt.Errorf("server.read_limit must be >= 0")
	}
	if cfg.Server.RequestTimeout == "" {
		cfg.Server.RequestTimeout = DefaultRequestTimeout
	}
	if err := positiveDuration("server.request_timeout", cfg.Server.RequestTimeout); err != nil {
		return err
	}
	if cfg.Server.StatsInterval == "" {
		cfg.Server.StatsInterval = DefaultStatsInterval
	}
	if _, err := time.ParseDuration(cfg.Server.StatsInterval); err != nil {
		return fmt.Errorf("server.stats_interval is invalid: %w", err)
	}
	if cfg.Server.ShutdownTimeout != "" {
		if err := positiveDuration("server.shutdown_timeout", cfg.Server.ShutdownTimeout); err != nil {
			return err
		}
	}
	if cfg.Server.ToolCallsPerMinute < 0 {
		return fmt.Errorf("server.tool_calls_per_minute must be >= 0")
	}
	if cfg.Server.HTTP.MCPPath != "" {
		if !strings.HasPrefix(cfg.Server.HTTP.MCPPath, "/") {
			return fmt.Errorf("server.http.mcp_path must start with /")
		}
		if cfg.Server.HTTP.MCPPath == cfg.Server.Path {
			return fmt.Errorf("server.http.mcp_path must differ from server.path")
		}
	}

	for i, hook := range cfg.Server.StartupHooks {
		if strings.TrimSpace(hook.Command) == "" {
			return fmt.Errorf("server.startup_hooks[%d].command is required", i)
		}
		if hook.Timeout != "" {
			if err := positiveDuration(fmt.Sprintf("server.startup_hooks[%d].timeout", i), hook.Timeout); err != nil {
				return err
			}
		}
	}

	if cfg.Server.EvictStale.Enabled {
		if strings.TrimSpace(cfg.Server.EvictStale.Command) == "" {
			cfg.Server.EvictStale.Command = DefaultEvictCommand
		}
		if cfg.Server.EvictStale.Wait == "" {
			cfg.Server.EvictStale.Wait = DefaultEvictWait
		}
		if err := positiveDuration("server.evict_stale.wait", cfg.Server.EvictStale.Wait); err != nil {
			return err
		}
	}

	resourceURIs := map[string]struct{}{}
	for i, res := range cfg.Resources {
		if res.URI == "" {
			return fmt.Errorf("resources[%d].uri is required", i)
		}
		if _, err := url.Parse(res.URI); err != nil {
			return fmt.Errorf("resources[%d].uri is invalid: %w", i, err)
		}
		if _, exists := resourceURIs[res.URI]; exists {
			return fmt.Errorf("duplicate resource uri: %s", res.URI)
		}
		resourceURIs[res.URI] = struct{}{}
	}

	return nil
}

// Addr returns host:port for the listener.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

func positiveDuration(field, value string) error {
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s is invalid: %w", field, err)
	}
	if parsed <= 0 {
		return fmt.Errorf("%s must be positive", field)
	}
	return nil
}
