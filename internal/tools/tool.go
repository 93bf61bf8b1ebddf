package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/codex-k8s/browser-mcp-relay/internal/execution"
	"github.com/codex-k8s/browser-mcp-relay/internal/protocol"
)

// Content is one block of a tool result.
type Content struct {
	// Type is "text" or "image".
	Type string `json:"type"`
	// Text is set for text blocks.
	Text string `json:"text,omitempty"`
	// Data is base64 image data for image blocks.
	Data string `json:"data,omitempty"`
	// MIMEType is set for image blocks.
	MIMEType string `json:"mimeType,omitempty"`
}

// Result is the value returned verbatim to controllers.
type Result struct {
	// Content lists result blocks in order.
	Content []Content `json:"content"`
	// IsError marks a result that describes a tool-level failure.
	IsError bool `json:"isError,omitempty"`
}

// TextResult builds a single text block result.
func TextResult(text string) *Result {
	return &Result{Content: []Content{{Type: "text", Text: text}}}
}

// ImageResult builds a single image block result.
func ImageResult(data, mimeType string) *Result {
	return &Result{Content: []Content{{Type: "image", Data: data, MIMEType: mimeType}}}
}

// Descriptor is the listing form of a tool.
type Descriptor struct {
	// Name is the unique tool key.
	Name string `json:"name"`
	// Description explains the tool to the model.
	Description string `json:"description"`
	// InputSchema validates the arguments.
	InputSchema *jsonschema.Schema `json:"inputSchema"`
}

// Handler runs a tool against raw, already validated arguments.
type Handler func(ctx context.Context, exec execution.Executor, args json.RawMessage) (*Result, error)

// Tool is an immutable, schema-validated action.
type Tool struct {
	name        string
	description string
	schema      *jsonschema.Schema
	resolved    *jsonschema.Resolved
	handle      Handler
}

// SchemaOption adjusts a generated input schema before it is resolved.
type SchemaOption func(*jsonschema.Schema)

// Define builds a tool whose schema is inferred from In.
func Define[In any](name, description string, handle func(ctx context.Context, exec execution.Executor, args In) (*Result, error), opts ...SchemaOption) (Tool, error) {
	if name == "" {
		return Tool{}, fmt.Errorf("tool name is required")
	}
	if handle == nil {
		return Tool{}, fmt.Errorf("tool %s: handler is nil", name)
	}
	schema, err := jsonschema.For[In](nil)
	if err != nil {
		return Tool{}, fmt.Errorf("tool %s: infer schema: %w", name, err)
	}
	for _, opt := range opts {
		opt(schema)
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return Tool{}, fmt.Errorf("tool %s: resolve schema: %w", name, err)
	}

	return Tool{
		name:        name,
		description: description,
		schema:      schema,
		resolved:    resolved,
		handle: func(ctx context.Context, exec execution.Executor, raw json.RawMessage) (*Result, error) {
			var args In
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, protocol.InvalidParamsError("Invalid arguments for tool %s: %v", name, err)
			}
			return handle(ctx, exec, args)
		},
	}, nil
}

// Name returns the tool key.
func (t Tool) Name() string { return t.name }

// Description returns the human description.
func (t Tool) Description() string { return t.description }

// InputSchema returns the argument schema.
func (t Tool) InputSchema() *jsonschema.Schema { return t.schema }

// Descriptor returns the listing form.
func (t Tool) Descriptor() Descriptor {
	return Descriptor{Name: t.name, Description: t.description, InputSchema: t.schema}
}

// Call validates args and runs the handler. Validation failures are
// *protocol.Error with CodeInvalidParams and the handler never runs.
func (t Tool) Call(ctx context.Context, exec execution.Executor, args json.RawMessage) (*Result, error) {
	trimmed := bytes.TrimSpace(args)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		trimmed = []byte("{}")
	}

	var instance any
	if err := json.Unmarshal(trimmed, &instance); err != nil {
		return nil, protocol.InvalidParamsError("Invalid arguments for tool %s: %v", t.name, err)
	}
	if err := t.resolved.Validate(instance); err != nil {
		return nil, protocol.InvalidParamsError("Invalid arguments for tool %s: %v", t.name, err)
	}
	return t.handle(ctx, exec, trimmed)
}
