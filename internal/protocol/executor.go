package protocol

import (
	"bytes"
	"encoding/json"
)

// ExecutorMessage is the executor envelope. Control messages use Type and
// their own fields; forwarded actions use ID, Type and Payload; responses
// use ID with Payload or Error.
type ExecutorMessage struct {
	// ID correlates a forwarded action with its response.
	ID string `json:"id,omitempty"`
	// Type names the control message or action.
	Type string `json:"type,omitempty"`
	// Payload carries action arguments or results.
	Payload json.RawMessage `json:"payload,omitempty"`
	// Token is the shared secret of an auth message.
	Token string `json:"token,omitempty"`
	// Data is the capability set of a capabilities message.
	Data json.RawMessage `json:"data,omitempty"`
	// Timestamp is the unix millisecond time of a pong.
	Timestamp int64 `json:"timestamp,omitempty"`
	// Error is a failure message reported by the executor.
	Error ExecutorError `json:"error,omitempty"`
}

// ExecutorError is the error text of an executor response. Extensions send
// either a plain string or an object with a message field.
type ExecutorError string

// UnmarshalJSON accepts a string, an object with "message", null, or any
// other JSON value, which is kept as its raw text.
func (e *ExecutorError) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*e = ""
		return nil
	}
	var text string
	if err := json.Unmarshal(trimmed, &text); err == nil {
		*e = ExecutorError(text)
		return nil
	}
	var object struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(trimmed, &object); err == nil && object.Message != "" {
		*e = ExecutorError(object.Message)
		return nil
	}
	*e = ExecutorError(trimmed)
	return nil
}

// ParseExecutorMessage decodes an executor envelope.
func ParseExecutorMessage(data []byte) (ExecutorMessage, error) {
	var msg ExecutorMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ExecutorMessage{}, err
	}
	return msg, nil
}
