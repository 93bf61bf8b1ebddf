package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codex-k8s/browser-mcp-relay/internal/protocol"
)

// DefaultTimeout bounds an executor round trip when no per-call timeout is given.
const DefaultTimeout = 30 * time.Second

// Channel is a live executor connection.
type Channel interface {
	// ID identifies the channel in logs.
	ID() string
	// Send writes one executor message.
	Send(ctx context.Context, msg protocol.ExecutorMessage) error
	// Close terminates the channel with a reason.
	Close(reason string) error
}

// Executor is the part of the Context tools depend on.
type Executor interface {
	// SendToExecutor forwards an action and waits for its response payload.
	SendToExecutor(ctx context.Context, msgType string, payload any, opts ...SendOption) (json.RawMessage, error)
}

// Options configures a Context.
type Options struct {
	// Timeout is the default round-trip deadline.
	Timeout time.Duration
	// Logger is used for structured logging.
	Logger *slog.Logger
	// NewID generates correlation ids.
	NewID func() string
}

// Context owns the single current executor channel and the pending table.
type Context struct {
	mu      sync.Mutex
	channel Channel
	closed  bool

	pending *PendingStore
	timeout time.Duration
	logger  *slog.Logger
	newID   func() string
}

// New creates a Context with no executor attached.
func New(opts Options) *Context {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Context{
		pending: NewPendingStore(),
		timeout: timeout,
		logger:  logger,
		newID:   newID,
	}
}

type sendOptions struct {
	timeout time.Duration
}

// SendOption adjusts a single SendToExecutor call.
type SendOption func(*sendOptions)

// WithTimeout overrides the round-trip deadline for one call.
func WithTimeout(timeout time.Duration) SendOption {
	return func(o *sendOptions) {
		if timeout > 0 {
			o.timeout = timeout
		}
	}
}

// Attach installs ch as the current executor channel. A different previous
// channel is closed after the swap.
func (c *Context) Attach(ch Channel) {
	c.mu.Lock()
	previous := c.channel
	c.channel = ch
	c.mu.Unlock()

	if previous == nil || previous == ch {
		return
	}
	c.logger.Info("executor channel replaced", "previous", previous.ID(), "current", ch.ID())
	if err := previous.Close("replaced by a newer executor connection"); err != nil {
		c.logger.Warn("close previous executor failed", "conn_id", previous.ID(), "error", err)
	}
}

// Detach clears the current channel only if it is still ch.
func (c *Context) Detach(ch Channel) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel == nil || c.channel != ch {
		return false
	}
	c.channel = nil
	return true
}

// Current returns the current channel or nil.
func (c *Context) Current() Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channel
}

// HasExecutor reports whether a channel is attached.
func (c *Context) HasExecutor() bool {
	return c.Current() != nil
}

// Pending returns the number of outstanding round trips.
func (c *Context) Pending() int {
	return c.pending.Len()
}

// SendToExecutor writes {id,type,payload} to the current channel and waits for
// the matching response, the deadline, or ctx cancellation.
func (c *Context) SendToExecutor(ctx context.Context, msgType string, payload any, opts ...SendOption) (json.RawMessage, error) {
	cfg := sendOptions{timeout: c.timeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	c.mu.Lock()
	ch := c.channel
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	if ch == nil {
		return nil, ErrNoExecutor
	}

	raw, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}

	id := c.newID()
	respCh, err := c.pending.Register(id, msgType)
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(cfg.timeout)
	defer timer.Stop()

	if err := ch.Send(ctx, protocol.ExecutorMessage{ID: id, Type: msgType, Payload: raw}); err != nil {
		c.pending.Cancel(id)
		return nil, &ConnectionError{Op: "send", Err: err}
	}

	select {
	case resp := <-respCh:
		if resp.err != nil {
			return nil, resp.err
		}
		return resp.payload, nil
	case <-timer.C:
		if c.pending.Cancel(id) {
			c.logger.Warn("executor request timed out", "id", id, "type", msgType, "timeout", cfg.timeout.String())
			return nil, fmt.Errorf("%s: %w after %s", msgType, ErrTimeout, cfg.timeout)
		}
		// Resolved concurrently with the timer firing.
		resp := <-respCh
		if resp.err != nil {
			return nil, resp.err
		}
		return resp.payload, nil
	case <-ctx.Done():
		if c.pending.Cancel(id) {
			return nil, ctx.Err()
		}
		resp := <-respCh
		if resp.err != nil {
			return nil, resp.err
		}
		return resp.payload, nil
	}
}

// Resolve completes the pending request id. Unknown ids are ignored.
func (c *Context) Resolve(id string, payload json.RawMessage, remoteErr string) bool {
	return c.pending.Resolve(id, payload, remoteErr)
}

// Close detaches and closes the current channel and fails pending requests.
func (c *Context) Close() error {
	c.mu.Lock()
	ch := c.channel
	c.channel = nil
	c.closed = true
	c.mu.Unlock()

	if failed := c.pending.FailAll(ErrClosed); failed > 0 {
		c.logger.Info("pending executor requests aborted", "count", failed)
	}
	if ch == nil {
		return nil
	}
	return ch.Close("server shutting down")
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch typed := payload.(type) {
	case nil:
		return json.RawMessage(`{}`), nil
	case json.RawMessage:
		if len(typed) == 0 {
			return json.RawMessage(`{}`), nil
		}
		return typed, nil
	default:
		raw, err := json.Marshal(typed)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		return raw, nil
	}
}
