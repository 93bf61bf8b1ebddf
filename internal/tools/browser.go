package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/codex-k8s/browser-mcp-relay/internal/execution"
	"github.com/codex-k8s/browser-mcp-relay/internal/timeutil"
)

// Executor message types for actions handled by the extension.
const (
	ActionNavigate       = "navigate"
	ActionGoBack         = "go_back"
	ActionGoForward      = "go_forward"
	ActionClick          = "click"
	ActionHover          = "hover"
	ActionType           = "type"
	ActionSelectOption   = "select_option"
	ActionSnapshot       = "snapshot"
	ActionScreenshot     = "screenshot"
	ActionGetConsoleLogs = "get_console_logs"
	ActionPressKey       = "press_key"
	ActionWait           = "wait"
)

// NavigateArgs are the arguments of navigate.
type NavigateArgs struct {
	URL string `json:"url" jsonschema:"The URL to navigate to"`
}

// NoArgs is used by tools without parameters.
type NoArgs struct{}

// ElementArgs target one element from the latest snapshot.
type ElementArgs struct {
	Element string `json:"element" jsonschema:"Human-readable element description used to obtain permission to interact with the element"`
	Ref     string `json:"ref" jsonschema:"Exact target element reference from the page snapshot"`
}

// TypeArgs are the arguments of type.
type TypeArgs struct {
	Element string `json:"element" jsonschema:"Human-readable element description used to obtain permission to interact with the element"`
	Ref     string `json:"ref" jsonschema:"Exact target element reference from the page snapshot"`
	Text    string `json:"text" jsonschema:"Text to type into the element"`
	Submit  bool   `json:"submit,omitempty" jsonschema:"Whether to submit entered text (press Enter after)"`
}

// SelectOptionArgs are the arguments of select_option.
type SelectOptionArgs struct {
	Element string   `json:"element" jsonschema:"Human-readable element description used to obtain permission to interact with the element"`
	Ref     string   `json:"ref" jsonschema:"Exact target element reference from the page snapshot"`
	Values  []string `json:"values" jsonschema:"Array of values to select in the dropdown. This can be a single value or multiple values"`
}

// PressKeyArgs are the arguments of press_key.
type PressKeyArgs struct {
	Key string `json:"key" jsonschema:"Name of the key to press or a character to generate, such as ArrowLeft or a"`
}

// WaitArgs are the arguments of wait.
type WaitArgs struct {
	Time float64 `json:"time" jsonschema:"The time to wait in seconds"`
}

// Default returns the fixed browser tool set in listing order.
func Default() (*Registry, error) {
	builders := []func() (Tool, error){
		func() (Tool, error) {
			return Define(ActionNavigate, "Navigate to a URL", func(ctx context.Context, exec execution.Executor, args NavigateArgs) (*Result, error) {
				return actionWithSnapshot(ctx, exec, ActionNavigate, args, fmt.Sprintf("Navigated to %s", args.URL))
			}, requireNonEmpty("url"))
		},
		func() (Tool, error) {
			return Define(ActionGoBack, "Go back to the previous page", func(ctx context.Context, exec execution.Executor, _ NoArgs) (*Result, error) {
				return actionWithSnapshot(ctx, exec, ActionGoBack, nil, "Navigated back")
			})
		},
		func() (Tool, error) {
			return Define(ActionGoForward, "Go forward to the next page", func(ctx context.Context, exec execution.Executor, _ NoArgs) (*Result, error) {
				return actionWithSnapshot(ctx, exec, ActionGoForward, nil, "Navigated forward")
			})
		},
		func() (Tool, error) {
			return Define(ActionClick, "Perform click on a web page", func(ctx context.Context, exec execution.Executor, args ElementArgs) (*Result, error) {
				return actionWithSnapshot(ctx, exec, ActionClick, args, fmt.Sprintf("Clicked %q", args.Element))
			}, requireNonEmpty("ref"))
		},
		func() (Tool, error) {
			return Define(ActionHover, "Hover over element on page", func(ctx context.Context, exec execution.Executor, args ElementArgs) (*Result, error) {
				return actionWithSnapshot(ctx, exec, ActionHover, args, fmt.Sprintf("Hovered over %q", args.Element))
			}, requireNonEmpty("ref"))
		},
		func() (Tool, error) {
			return Define(ActionType, "Type text into editable element", func(ctx context.Context, exec execution.Executor, args TypeArgs) (*Result, error) {
				return actionWithSnapshot(ctx, exec, ActionType, args, fmt.Sprintf("Typed %q into %q", args.Text, args.Element))
			}, requireNonEmpty("ref"))
		},
		func() (Tool, error) {
			return Define(ActionSelectOption, "Select an option in a dropdown", func(ctx context.Context, exec execution.Executor, args SelectOptionArgs) (*Result, error) {
				return actionWithSnapshot(ctx, exec, ActionSelectOption, args, fmt.Sprintf("Selected option in %q", args.Element))
			}, requireNonEmpty("ref"), minItems("values", 1))
		},
		func() (Tool, error) {
			return Define(ActionSnapshot, "Capture accessibility snapshot of the current page. Use this for getting references to elements to interact with", func(ctx context.Context, exec execution.Executor, _ NoArgs) (*Result, error) {
				text, err := captureSnapshot(ctx, exec)
				if err != nil {
					return nil, err
				}
				return TextResult(text), nil
			})
		},
		func() (Tool, error) {
			return Define(ActionScreenshot, "Take a screenshot of the current page", func(ctx context.Context, exec execution.Executor, _ NoArgs) (*Result, error) {
				payload, err := exec.SendToExecutor(ctx, ActionScreenshot, nil)
				if err != nil {
					return nil, err
				}
				data, mimeType, err := decodeScreenshot(payload)
				if err != nil {
					return nil, err
				}
				return ImageResult(data, mimeType), nil
			})
		},
		func() (Tool, error) {
			return Define(ActionGetConsoleLogs, "Get the console logs from the browser", func(ctx context.Context, exec execution.Executor, _ NoArgs) (*Result, error) {
				payload, err := exec.SendToExecutor(ctx, ActionGetConsoleLogs, nil)
				if err != nil {
					return nil, err
				}
				return TextResult(formatConsoleLogs(payload)), nil
			})
		},
		func() (Tool, error) {
			return Define(ActionPressKey, "Press a key on the keyboard", func(ctx context.Context, exec execution.Executor, args PressKeyArgs) (*Result, error) {
				return actionWithSnapshot(ctx, exec, ActionPressKey, args, fmt.Sprintf("Pressed key %s", args.Key))
			}, requireNonEmpty("key"))
		},
		func() (Tool, error) {
			return Define(ActionWait, "Wait for a specified time in seconds", func(ctx context.Context, _ execution.Executor, args WaitArgs) (*Result, error) {
				if err := timeutil.Sleep(ctx, timeutil.Seconds(args.Time)); err != nil {
					return nil, err
				}
				return TextResult(fmt.Sprintf("Waited for %s seconds", timeutil.FormatSeconds(args.Time))), nil
			}, minimum("time", 0))
		},
	}

	items := make([]Tool, 0, len(builders))
	for _, build := range builders {
		tool, err := build()
		if err != nil {
			return nil, err
		}
		items = append(items, tool)
	}
	return NewRegistry(items...)
}

func actionWithSnapshot(ctx context.Context, exec execution.Executor, action string, payload any, status string) (*Result, error) {
	if _, err := exec.SendToExecutor(ctx, action, payload); err != nil {
		return nil, err
	}
	snapshot, err := captureSnapshot(ctx, exec)
	if err != nil {
		return nil, err
	}
	return TextResult(status + "\n\n" + snapshot), nil
}

func captureSnapshot(ctx context.Context, exec execution.Executor) (string, error) {
	payload, err := exec.SendToExecutor(ctx, ActionSnapshot, nil)
	if err != nil {
		return "", err
	}
	return payloadText(payload, "snapshot", "text"), nil
}

// payloadText extracts text from a string payload or from the first string
// field among keys, falling back to the raw JSON.
func payloadText(payload json.RawMessage, keys ...string) string {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(trimmed, &text); err == nil {
		return text
	}
	var object map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &object); err == nil {
		for _, key := range keys {
			raw, ok := object[key]
			if !ok {
				continue
			}
			if err := json.Unmarshal(raw, &text); err == nil {
				return text
			}
		}
	}
	return string(trimmed)
}

func decodeScreenshot(payload json.RawMessage) (string, string, error) {
	const defaultMIME = "image/png"
	var data string
	if err := json.Unmarshal(payload, &data); err == nil {
		return stripDataURL(data, defaultMIME)
	}
	var object struct {
		Data     string `json:"data"`
		MIMEType string `json:"mimeType"`
	}
	if err := json.Unmarshal(payload, &object); err != nil || object.Data == "" {
		return "", "", fmt.Errorf("screenshot: executor returned no image data")
	}
	mimeType := object.MIMEType
	if mimeType == "" {
		mimeType = defaultMIME
	}
	return stripDataURL(object.Data, mimeType)
}

// stripDataURL turns "data:image/png;base64,AAAA" into its payload and mime type.
func stripDataURL(value, mimeType string) (string, string, error) {
	if value == "" {
		return "", "", fmt.Errorf("screenshot: executor returned no image data")
	}
	if !strings.HasPrefix(value, "data:") {
		return value, mimeType, nil
	}
	header, data, ok := strings.Cut(strings.TrimPrefix(value, "data:"), ",")
	if !ok {
		return "", "", fmt.Errorf("screenshot: malformed data url")
	}
	if mediaType, _, _ := strings.Cut(header, ";"); mediaType != "" {
		mimeType = mediaType
	}
	return data, mimeType, nil
}

func formatConsoleLogs(payload json.RawMessage) string {
	var entries []json.RawMessage
	if err := json.Unmarshal(payload, &entries); err != nil {
		return payloadText(payload, "logs")
	}
	if len(entries) == 0 {
		return "No console logs"
	}
	lines := make([]string, 0, len(entries))
	for _, entry := range entries {
		var buf bytes.Buffer
		if err := json.Compact(&buf, entry); err != nil {
			lines = append(lines, string(entry))
			continue
		}
		lines = append(lines, buf.String())
	}
	return strings.Join(lines, "\n")
}

func property(schema *jsonschema.Schema, name string) *jsonschema.Schema {
	if schema == nil || schema.Properties == nil {
		return nil
	}
	return schema.Properties[name]
}

func requireNonEmpty(name string) SchemaOption {
	return func(schema *jsonschema.Schema) {
		if prop := property(schema, name); prop != nil {
			prop.MinLength = intPtr(1)
		}
	}
}

func minItems(name string, n int) SchemaOption {
	return func(schema *jsonschema.Schema) {
		if prop := property(schema, name); prop != nil {
			prop.MinItems = intPtr(n)
		}
	}
}

func minimum(name string, n float64) SchemaOption {
	return func(schema *jsonschema.Schema) {
		if prop := property(schema, name); prop != nil {
			prop.Minimum = &n
		}
	}
}

func intPtr(v int) *int {
	return &v
}
