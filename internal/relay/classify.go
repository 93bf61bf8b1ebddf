package relay

import (
	"bytes"
	"encoding/json"

	"github.com/codex-k8s/browser-mcp-relay/internal/constants"
	"github.com/codex-k8s/browser-mcp-relay/internal/protocol"
)

// executorKeywords are the first-message types that mark an executor.
var executorKeywords = map[string]struct{}{
	constants.ExecutorAuth:         {},
	constants.ExecutorCapabilities: {},
	constants.ExecutorPing:         {},
}

// Classify decides the role of a connection from its first message.
// Unusable frames return a *protocol.Error with CodeParseError.
func Classify(data []byte) (string, error) {
	var object map[string]json.RawMessage
	if err := json.Unmarshal(data, &object); err != nil || object == nil {
		return constants.RoleUnclassified, protocol.ParseError("invalid JSON")
	}

	if raw, ok := object["type"]; ok {
		var msgType string
		if json.Unmarshal(raw, &msgType) == nil {
			if _, ok := executorKeywords[msgType]; ok {
				return constants.RoleExecutor, nil
			}
		}
	}

	msg, err := protocol.ParseMessage(data)
	if err == nil && (msg.IsRequest() || msg.IsResponse()) {
		return constants.RoleController, nil
	}
	return constants.RoleUnclassified, protocol.ParseError("unrecognized message format")
}

// extractID returns the id of a frame when it has a usable one.
func extractID(data []byte) json.RawMessage {
	var object map[string]json.RawMessage
	if err := json.Unmarshal(data, &object); err != nil {
		return nil
	}
	raw, ok := object["id"]
	if !ok {
		return nil
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	switch raw[0] {
	case '"', '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		return append(json.RawMessage(nil), raw...)
	default:
		return nil
	}
}
