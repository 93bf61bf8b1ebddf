package protocol

import (
	"errors"
	"fmt"
)

// Reserved controller error codes.
const (
	CodeParseError     = -32700
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Error is the error object of a controller envelope. It doubles as a Go error
// so handlers can return it directly and keep the code.
type Error struct {
	// Code is one of the reserved codes.
	Code int `json:"code"`
	// Message is a human-readable description.
	Message string `json:"message"`
	// Data carries optional structured details.
	Data any `json:"data,omitempty"`
}

// Error implements error.
func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// ParseError reports a malformed frame.
func ParseError(detail string) *Error {
	msg := "Parse error"
	if detail != "" {
		msg = fmt.Sprintf("Parse error: %s", detail)
	}
	return &Error{Code: CodeParseError, Message: msg}
}

// MethodNotFoundError reports an unknown controller method.
func MethodNotFoundError(method string) *Error {
	return &Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("Method not found: %s", method)}
}

// NotFoundError reports an unknown tool or resource by name.
func NotFoundError(kind, name string) *Error {
	return &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("%s not found: %s", kind, name)}
}

// InvalidParamsError reports parameters that failed validation.
func InvalidParamsError(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidParams, Message: fmt.Sprintf(format, args...)}
}

// ExecutionError wraps a handler failure.
func ExecutionError(err error) *Error {
	msg := "execution failed"
	if err != nil {
		msg = err.Error()
	}
	return &Error{Code: CodeInternalError, Message: msg}
}

// AsError converts any error to an envelope error, keeping the code of a
// wrapped *Error and mapping everything else to CodeInternalError.
func AsError(err error) *Error {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return ExecutionError(err)
}
