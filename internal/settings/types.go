package settings

// Config is the top-level YAML settings file.
type Config struct {
	// Server describes the relay server settings.
	Server ServerConfig `yaml:"server"`
	// Resources lists static resources offered to controllers.
	Resources []ResourceConfig `yaml:"resources"`
}

// ServerConfig defines relay server settings.
type ServerConfig struct {
	// Name is the server name reported to controllers.
	Name string `yaml:"name"`
	// Version is the server version reported to controllers.
	Version string `yaml:"version"`
	// Transport selects the controller transport ("ws" or "stdio").
	// The websocket endpoint is served in both modes because executors always use it.
	Transport string `yaml:"transport"`
	// Host is the listen host.
	Host string `yaml:"host"`
	// Port is the listen port.
	Port int `yaml:"port"`
	// Path is the websocket endpoint path.
	Path string `yaml:"path"`
	// AllowedOrigins lists websocket Origin patterns accepted for cross-origin clients.
	AllowedOrigins []string `yaml:"allowed_origins"`
	// ReadLimit caps a single websocket frame in bytes.
	ReadLimit int64 `yaml:"read_limit"`
	// RequestTimeout is the default executor round-trip timeout.
	RequestTimeout string `yaml:"request_timeout"`
	// StatsInterval controls the periodic connection report. "0s" disables it.
	StatsInterval string `yaml:"stats_interval"`
	// ShutdownTimeout overrides graceful shutdown duration.
	ShutdownTimeout string `yaml:"shutdown_timeout"`
	// ToolCallsPerMinute limits tools/call per controller connection. Zero disables the limit.
	ToolCallsPerMinute int `yaml:"tool_calls_per_minute"`
	// AuthToken is the optional shared secret compared on executor auth.
	AuthToken string `yaml:"auth_token"`
	// HTTP configures the HTTP side of the listener.
	HTTP HTTPConfig `yaml:"http"`
	// StartupHooks defines one-time commands executed before binding.
	StartupHooks []HookConfig `yaml:"startup_hooks"`
	// EvictStale configures stale-process eviction when the port is busy.
	EvictStale EvictConfig `yaml:"evict_stale"`
}

// HTTPConfig configures the HTTP server that hosts the websocket endpoint.
type HTTPConfig struct {
	// ReadHeaderTimeout limits the time to read request headers.
	ReadHeaderTimeout string `yaml:"read_header_timeout"`
	// IdleTimeout controls idle keep-alive connections.
	IdleTimeout string `yaml:"idle_timeout"`
	// MCPPath mounts the streamable HTTP MCP endpoint. Empty disables it.
	MCPPath string `yaml:"mcp_path"`
	// Stateless disables MCP session tracking on the streamable endpoint.
	Stateless bool `yaml:"stateless"`
}

// HookConfig defines a startup hook command.
type HookConfig struct {
	// Command is the startup command to run.
	Command string `yaml:"command"`
	// Args are optional arguments.
	Args []string `yaml:"args"`
	// Env adds environment variables for the hook.
	Env map[string]string `yaml:"env"`
	// Timeout controls hook execution duration.
	Timeout string `yaml:"timeout"`
}

// EvictConfig describes how to free a port held by a previous instance.
type EvictConfig struct {
	// Enabled toggles eviction.
	Enabled bool `yaml:"enabled"`
	// Command is a template receiving {{ .Port }}.
	Command string `yaml:"command"`
	// Wait bounds how long to wait for the port after eviction.
	Wait string `yaml:"wait"`
}

// ResourceConfig declares a static resource.
type ResourceConfig struct {
	// Name is a human-friendly resource name.
	Name string `yaml:"name"`
	// URI is the resource identifier.
	URI string `yaml:"uri"`
	// Description explains the resource.
	Description string `yaml:"description"`
	// MIMEType sets the content type.
	MIMEType string `yaml:"mime_type"`
	// Text is the static resource content.
	Text string `yaml:"text"`
}
