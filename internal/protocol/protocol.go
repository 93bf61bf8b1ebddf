package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Version is the fixed envelope version written on every controller message.
const Version = "2.0"

// Message is the controller envelope. Presence of result/error keys is tracked
// separately because a null result still makes a message response-shaped.
type Message struct {
	// ProtocolVersion is always Version on outbound messages.
	ProtocolVersion string `json:"protocolVersion"`
	// ID correlates a request with its response. Kept raw so numbers and strings echo as sent.
	ID json.RawMessage `json:"id,omitempty"`
	// Method names the request.
	Method string `json:"method,omitempty"`
	// Params are the request parameters.
	Params json.RawMessage `json:"params,omitempty"`
	// Result is the success payload.
	Result json.RawMessage `json:"result,omitempty"`
	// Error is the failure payload.
	Error *Error `json:"error,omitempty"`

	hasResult bool
	hasError  bool
}

// UnmarshalJSON decodes the envelope and records which keys were present.
func (m *Message) UnmarshalJSON(data []byte) error {
	var object map[string]json.RawMessage
	if err := json.Unmarshal(data, &object); err != nil {
		return err
	}
	if object == nil {
		return fmt.Errorf("message is not an object")
	}

	*m = Message{}
	if raw, ok := object["protocolVersion"]; ok {
		if err := json.Unmarshal(raw, &m.ProtocolVersion); err != nil {
			return fmt.Errorf("protocolVersion: %w", err)
		}
	} else if raw, ok := object["jsonrpc"]; ok {
		if err := json.Unmarshal(raw, &m.ProtocolVersion); err != nil {
			return fmt.Errorf("jsonrpc: %w", err)
		}
	}
	if raw, ok := object["id"]; ok && !isNull(raw) {
		m.ID = append(json.RawMessage(nil), bytes.TrimSpace(raw)...)
	}
	if raw, ok := object["method"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &m.Method); err != nil {
			return fmt.Errorf("method: %w", err)
		}
	}
	if raw, ok := object["params"]; ok && !isNull(raw) {
		m.Params = append(json.RawMessage(nil), raw...)
	}
	if raw, ok := object["result"]; ok {
		m.hasResult = true
		m.Result = append(json.RawMessage(nil), raw...)
	}
	if raw, ok := object["error"]; ok {
		m.hasError = true
		if !isNull(raw) {
			var rpcErr Error
			if err := json.Unmarshal(raw, &rpcErr); err != nil {
				return fmt.Errorf("error: %w", err)
			}
			m.Error = &rpcErr
		}
	}
	return nil
}

// MarshalJSON writes the envelope. A result or error key that was present
// as null on input is written back as null.
func (m Message) MarshalJSON() ([]byte, error) {
	type wire struct {
		ProtocolVersion string          `json:"protocolVersion"`
		ID              json.RawMessage `json:"id,omitempty"`
		Method          string          `json:"method,omitempty"`
		Params          json.RawMessage `json:"params,omitempty"`
		Result          json.RawMessage `json:"result,omitempty"`
		Error           json.RawMessage `json:"error,omitempty"`
	}
	out := wire{
		ProtocolVersion: m.ProtocolVersion,
		ID:              m.ID,
		Method:          m.Method,
		Params:          m.Params,
		Result:          m.Result,
	}
	if len(out.Result) == 0 && m.hasResult {
		out.Result = json.RawMessage("null")
	}
	switch {
	case m.Error != nil:
		raw, err := json.Marshal(m.Error)
		if err != nil {
			return nil, fmt.Errorf("encode error: %w", err)
		}
		out.Error = raw
	case m.hasError:
		out.Error = json.RawMessage("null")
	}
	return json.Marshal(out)
}

// IsRequest reports whether the message carries a method.
func (m Message) IsRequest() bool {
	return m.Method != ""
}

// IsResponse reports whether the message carries a result or error key.
func (m Message) IsResponse() bool {
	return m.hasResult || m.hasError || len(m.Result) > 0 || m.Error != nil
}

// IsNotification reports a request that expects no response.
func (m Message) IsNotification() bool {
	return m.IsRequest() && len(m.ID) == 0
}

// ParseMessage decodes a controller envelope.
func ParseMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// NewResult builds a success response for id.
func NewResult(id json.RawMessage, result any) (Message, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return Message{}, fmt.Errorf("encode result: %w", err)
	}
	return Message{ProtocolVersion: Version, ID: id, Result: raw, hasResult: true}, nil
}

// NewError builds an error response for id. A nil id is omitted on the wire.
func NewError(id json.RawMessage, rpcErr *Error) Message {
	return Message{ProtocolVersion: Version, ID: id, Error: rpcErr, hasError: true}
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
