package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/codex-k8s/browser-mcp-relay/internal/audit"
	"github.com/codex-k8s/browser-mcp-relay/internal/constants"
	"github.com/codex-k8s/browser-mcp-relay/internal/protocol"
	"github.com/codex-k8s/browser-mcp-relay/internal/resources"
	"github.com/codex-k8s/browser-mcp-relay/internal/security"
	"github.com/codex-k8s/browser-mcp-relay/internal/tools"
)

// mcpProtocolVersion is reported by initialize.
const mcpProtocolVersion = "2024-11-05"

type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type resourceReadParams struct {
	URI string `json:"uri"`
}

type initializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ServerInfo      ServerInfo     `json:"serverInfo"`
}

type toolsListResult struct {
	Tools []tools.Descriptor `json:"tools"`
}

type resourcesListResult struct {
	Resources []resources.Resource `json:"resources"`
}

type resourcesReadResult struct {
	Contents []resources.Contents `json:"contents"`
}

// handleController processes one frame of a controller connection.
func (r *Router) handleController(c *Conn, data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		r.logger.Warn("malformed controller message", "conn_id", c.id, "error", err)
		r.reply(c, protocol.NewError(extractID(data), protocol.ParseError("invalid JSON")))
		return
	}
	if !msg.IsRequest() {
		if msg.IsResponse() {
			r.logger.Debug("controller response ignored", "conn_id", c.id, "id", string(msg.ID))
			return
		}
		r.reply(c, protocol.NewError(msg.ID, protocol.ParseError("unrecognized message format")))
		return
	}

	if msg.Method == constants.MethodToolsCall {
		r.workers.Add(1)
		go func() {
			defer r.workers.Done()
			r.serveRequest(c, msg)
		}()
		return
	}
	r.serveRequest(c, msg)
}

// serveRequest runs one request and writes its response unless it is a notification.
func (r *Router) serveRequest(c *Conn, msg protocol.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("controller handler panic", "conn_id", c.id, "method", msg.Method, "panic", fmt.Sprint(rec))
			if !msg.IsNotification() {
				r.reply(c, protocol.NewError(msg.ID, &protocol.Error{
					Code:    protocol.CodeInternalError,
					Message: fmt.Sprintf("internal error: %v", rec),
				}))
			}
		}
	}()

	result, err := r.dispatch(c, msg)
	if msg.IsNotification() {
		if err != nil {
			r.logger.Debug("notification failed", "conn_id", c.id, "method", msg.Method, "error", err)
		}
		return
	}
	if err != nil {
		r.reply(c, protocol.NewError(msg.ID, protocol.AsError(err)))
		return
	}
	resp, err := protocol.NewResult(msg.ID, result)
	if err != nil {
		r.reply(c, protocol.NewError(msg.ID, protocol.ExecutionError(err)))
		return
	}
	r.reply(c, resp)
}

func (r *Router) dispatch(c *Conn, msg protocol.Message) (any, error) {
	switch msg.Method {
	case constants.MethodInitialize:
		return r.initialize(), nil
	case constants.MethodPing:
		return struct{}{}, nil
	case constants.MethodToolsList:
		return toolsListResult{Tools: r.opts.Registry.List()}, nil
	case constants.MethodToolsCall:
		return r.callTool(c, msg)
	case constants.MethodResourcesList:
		return resourcesListResult{Resources: r.opts.Resources.List()}, nil
	case constants.MethodResourcesRead:
		return r.readResource(msg.Params)
	}
	if msg.IsNotification() && strings.HasPrefix(msg.Method, "notifications/") {
		r.logger.Debug("controller notification", "conn_id", c.id, "method", msg.Method)
		return nil, nil
	}
	return nil, protocol.MethodNotFoundError(msg.Method)
}

func (r *Router) initialize() initializeResult {
	return initializeResult{
		ProtocolVersion: mcpProtocolVersion,
		Capabilities: map[string]any{
			"tools":     map[string]any{},
			"resources": map[string]any{},
		},
		ServerInfo: r.opts.Info,
	}
}

func (r *Router) callTool(c *Conn, msg protocol.Message) (*tools.Result, error) {
	var params toolCallParams
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return nil, protocol.InvalidParamsError("invalid tools/call params: %v", err)
		}
	}
	tool, ok := r.opts.Registry.Lookup(params.Name)
	if !ok {
		return nil, protocol.NotFoundError("Tool", params.Name)
	}

	c.stateMu.Lock()
	limiter := c.limiter
	c.stateMu.Unlock()
	if limiter != nil && !limiter.Allow() {
		r.logger.Warn("tool call rate limited", "conn_id", c.id, "tool", params.Name)
		return nil, &protocol.Error{Code: protocol.CodeInternalError, Message: "rate limit exceeded"}
	}

	event := audit.Event{
		Tool:      params.Name,
		ConnID:    c.id,
		RequestID: string(msg.ID),
		Arguments: security.RedactTypedText(argumentMap(params.Arguments)),
	}
	event.Type = audit.EventToolCall
	r.record(c.ctx, event)

	result, err := tool.Call(c.ctx, r.opts.Exec, params.Arguments)
	if err != nil {
		event.Type = audit.EventToolError
		event.Reason = err.Error()
		r.record(context.WithoutCancel(c.ctx), event)
		r.logger.Warn("tool call failed", "conn_id", c.id, "tool", params.Name, "error", err)
		return nil, err
	}
	event.Type = audit.EventToolOK
	r.record(c.ctx, event)
	return result, nil
}

func (r *Router) readResource(raw json.RawMessage) (resourcesReadResult, error) {
	var params resourceReadParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			return resourcesReadResult{}, protocol.InvalidParamsError("invalid resources/read params: %v", err)
		}
	}
	contents, ok := r.opts.Resources.Read(params.URI)
	if !ok {
		return resourcesReadResult{}, protocol.NotFoundError("Resource", params.URI)
	}
	return resourcesReadResult{Contents: []resources.Contents{contents}}, nil
}

func argumentMap(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var values map[string]any
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil
	}
	return values
}
