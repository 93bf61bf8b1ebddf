package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config stores environment-driven settings for the relay.
type Config struct {
	// ConfigPath is the path to the YAML settings file. Empty selects the embedded default.
	ConfigPath string `env:"BROWSER_MCP_CONFIG"`
	// LogLevel sets the logger level.
	LogLevel string `env:"BROWSER_MCP_LOG_LEVEL" envDefault:"info"`
	// Port overrides server.port from the settings file when non-zero.
	Port int `env:"BROWSER_MCP_PORT"`
	// Transport overrides server.transport ("ws" or "stdio") when set.
	Transport string `env:"BROWSER_MCP_TRANSPORT"`
	// AuthToken is the optional shared secret executors present in their auth message.
	AuthToken string `env:"BROWSER_MCP_AUTH_TOKEN"`
	// ShutdownTimeout controls graceful shutdown duration.
	ShutdownTimeout time.Duration `env:"BROWSER_MCP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Load parses environment variables into Config.
func Load() (Config, error) {
	return env.ParseAs[Config]()
}
