package runtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/codex-k8s/browser-mcp-relay/internal/audit"
	"github.com/codex-k8s/browser-mcp-relay/internal/execution"
	"github.com/codex-k8s/browser-mcp-relay/internal/protocol"
	"github.com/codex-k8s/browser-mcp-relay/internal/resources"
	"github.com/codex-k8s/browser-mcp-relay/internal/security"
	"github.com/codex-k8s/browser-mcp-relay/internal/tools"
)

// Builder exposes the browser tools and resources on an MCP SDK server so
// stock MCP clients can reach them over stdio or streamable HTTP.
type Builder struct {
	// Logger is used for structured logging.
	Logger *slog.Logger
	// Audit records tool events.
	Audit audit.Logger
	// Registry holds the tools to register.
	Registry *tools.Registry
	// Resources holds the static resources. Nil means none.
	Resources *resources.Collection
	// Exec forwards actions to the executor.
	Exec execution.Executor
}

// Build creates an MCP server with every tool and resource.
func (b Builder) Build(name, version string) (*mcp.Server, error) {
	if b.Registry == nil {
		return nil, fmt.Errorf("tool registry is nil")
	}
	if b.Exec == nil {
		return nil, fmt.Errorf("executor is nil")
	}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    name,
		Version: version,
	}, nil)

	for _, res := range b.Resources.List() {
		resource := res
		server.AddResource(&mcp.Resource{
			Name:        resource.Name,
			URI:         resource.URI,
			Description: resource.Description,
			MIMEType:    resource.MIMEType,
		}, func(_ context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			contents, ok := b.Resources.Read(resource.URI)
			if !ok {
				return nil, mcp.ResourceNotFoundError(resource.URI)
			}
			return &mcp.ReadResourceResult{
				Contents: []*mcp.ResourceContents{
					{URI: contents.URI, MIMEType: contents.MIMEType, Text: contents.Text},
				},
			}, nil
		})
	}

	for _, tool := range b.Registry.Tools() {
		b.addTool(server, tool)
	}

	return server, nil
}

func (b Builder) addTool(server *mcp.Server, tool tools.Tool) {
	mcpTool := &mcp.Tool{
		Name:        tool.Name(),
		Description: tool.Description(),
		InputSchema: tool.InputSchema(),
	}

	server.AddTool(mcpTool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.Params.Arguments
		event := audit.Event{
			Tool:      tool.Name(),
			ConnID:    sessionID(req),
			Arguments: security.RedactTypedText(decodeArguments(args)),
		}
		if b.Logger != nil {
			b.Logger.Info("mcp tool call", "tool", tool.Name(), "args", event.Arguments)
		}
		b.record(ctx, event, audit.EventToolCall)

		result, err := tool.Call(ctx, b.Exec, args)
		if err != nil {
			event.Reason = err.Error()
			b.record(ctx, event, audit.EventToolError)
			if b.Logger != nil {
				b.Logger.Warn("mcp tool call failed", "tool", tool.Name(), "error", err)
			}
			return errorResult(err), nil
		}

		converted, err := convertResult(result)
		if err != nil {
			event.Reason = err.Error()
			b.record(ctx, event, audit.EventToolError)
			return errorResult(err), nil
		}
		b.record(ctx, event, audit.EventToolOK)
		return converted, nil
	})
}

func (b Builder) record(ctx context.Context, event audit.Event, eventType string) {
	if b.Audit == nil {
		return
	}
	event.Type = eventType
	b.Audit.Record(ctx, event)
}

// convertResult maps a tool result to SDK content blocks.
func convertResult(result *tools.Result) (*mcp.CallToolResult, error) {
	out := &mcp.CallToolResult{IsError: result.IsError}
	for _, block := range result.Content {
		switch block.Type {
		case "image":
			data, err := base64.StdEncoding.DecodeString(block.Data)
			if err != nil {
				return nil, fmt.Errorf("decode image content: %w", err)
			}
			out.Content = append(out.Content, &mcp.ImageContent{Data: data, MIMEType: block.MIMEType})
		default:
			out.Content = append(out.Content, &mcp.TextContent{Text: block.Text})
		}
	}
	return out, nil
}

func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: protocol.AsError(err).Message}},
	}
}

func sessionID(req *mcp.CallToolRequest) string {
	if req == nil || req.Session == nil {
		return ""
	}
	return req.Session.ID()
}

func decodeArguments(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var values map[string]any
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil
	}
	return values
}
