package execution

import (
	"errors"
	"fmt"
)

// ErrNoExecutor is returned when an action is requested with no live executor channel.
var ErrNoExecutor = errors.New("No connected tab. Click the extension icon in the browser toolbar and press Connect to attach a tab")

// ErrTimeout is returned when the executor does not answer before the deadline.
var ErrTimeout = errors.New("executor response timeout")

// ErrClosed is returned for requests still pending when the context is closed.
var ErrClosed = errors.New("execution context closed")

// ConnectionError wraps a transport failure while talking to the executor.
type ConnectionError struct {
	// Op is the failed operation.
	Op string
	// Err is the transport error.
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("executor connection %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// RemoteError is a failure reported by the executor itself.
type RemoteError struct {
	// Type is the action that failed.
	Type string
	// Message is the executor's description.
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Type, e.Message)
}
