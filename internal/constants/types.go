package constants

// Server transports for the controller side.
const (
	TransportWS    = "ws"
	TransportStdio = "stdio"
)

// Connection roles.
const (
	RoleUnclassified = "unclassified"
	RoleController   = "controller"
	RoleExecutor     = "executor"
)

// Executor control message types.
const (
	ExecutorAuth                 = "auth"
	ExecutorAuthSuccess          = "auth_success"
	ExecutorAuthFailed           = "auth_failed"
	ExecutorCapabilities         = "capabilities"
	ExecutorCapabilitiesReceived = "capabilities_received"
	ExecutorPing                 = "ping"
	ExecutorPong                 = "pong"
	ExecutorExecute              = "execute"
	ExecutorActionResult         = "action_result"
)

// Controller methods.
const (
	MethodInitialize    = "initialize"
	MethodPing          = "ping"
	MethodToolsList     = "tools/list"
	MethodToolsCall     = "tools/call"
	MethodResourcesList = "resources/list"
	MethodResourcesRead = "resources/read"
)

// DefaultPort is the listening port used when nothing else is configured.
const DefaultPort = 9234
