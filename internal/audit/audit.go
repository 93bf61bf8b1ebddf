package audit

import (
	"context"
	"log/slog"
)

// Event types recorded by the relay.
const (
	EventToolCall  = "tool_call"
	EventToolOK    = "tool_ok"
	EventToolError = "tool_error"
	EventExecutor  = "executor_attached"
	EventDetached  = "executor_detached"
)

// Event represents an audit entry for a tool call or executor change.
type Event struct {
	// Type describes the event kind.
	Type string
	// Tool is the tool name.
	Tool string
	// ConnID identifies the connection involved.
	ConnID string
	// RequestID is the controller request id as raw JSON text.
	RequestID string
	// Arguments are redacted tool arguments.
	Arguments map[string]any
	// Reason provides additional context.
	Reason string
}

// Logger records audit events.
type Logger interface {
	// Record stores an audit event.
	Record(ctx context.Context, event Event)
}

// StdLogger writes audit events to slog.
type StdLogger struct {
	logger *slog.Logger
}

// New returns a StdLogger.
func New(logger *slog.Logger) *StdLogger {
	return &StdLogger{logger: logger}
}

// Record logs an audit event.
func (l *StdLogger) Record(ctx context.Context, event Event) {
	if l == nil || l.logger == nil {
		return
	}
	attrs := []any{
		"type", event.Type,
		"conn_id", event.ConnID,
	}
	if event.Tool != "" {
		attrs = append(attrs, "tool", event.Tool)
	}
	if event.RequestID != "" {
		attrs = append(attrs, "request_id", event.RequestID)
	}
	if event.Arguments != nil {
		attrs = append(attrs, "args", event.Arguments)
	}
	if event.Reason != "" {
		attrs = append(attrs, "reason", event.Reason)
	}
	l.logger.InfoContext(ctx, "audit", attrs...)
}
