package relay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/time/rate"

	"github.com/codex-k8s/browser-mcp-relay/internal/constants"
	"github.com/codex-k8s/browser-mcp-relay/internal/protocol"
)

const inboxSize = 64

// Conn is one websocket connection. Once classified as an executor it is
// also the execution.Channel installed in the Execution Context.
type Conn struct {
	id           string
	ws           *websocket.Conn
	writeTimeout time.Duration
	ctx          context.Context
	cancel       context.CancelFunc

	writeMu   sync.Mutex
	closeOnce sync.Once

	stateMu      sync.Mutex
	role         string
	capabilities json.RawMessage
	limiter      *rate.Limiter
	inbox        chan []byte
}

func newConn(parent context.Context, id string, ws *websocket.Conn, writeTimeout time.Duration) *Conn {
	ctx, cancel := context.WithCancel(parent)
	return &Conn{
		id:           id,
		ws:           ws,
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
		role:         constants.RoleUnclassified,
	}
}

// ID returns the connection id.
func (c *Conn) ID() string {
	return c.id
}

// Role returns the connection role.
func (c *Conn) Role() string {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.role
}

// Capabilities returns the feature set announced by an executor.
func (c *Conn) Capabilities() json.RawMessage {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.capabilities
}

func (c *Conn) setCapabilities(data json.RawMessage) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.capabilities = append(json.RawMessage(nil), data...)
}

// classify fixes the role. It returns false when the role was already set.
func (c *Conn) classify(role string) bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.role != constants.RoleUnclassified {
		return false
	}
	c.role = role
	return true
}

// Send writes one executor message.
func (c *Conn) Send(ctx context.Context, msg protocol.ExecutorMessage) error {
	return c.write(ctx, msg)
}

// Close terminates the connection with a policy close frame. The close
// handshake runs in the background so callers holding other locks do not wait on the peer.
func (c *Conn) Close(reason string) error {
	c.closeOnce.Do(func() {
		go func() {
			_ = c.ws.Close(websocket.StatusPolicyViolation, reason)
		}()
	})
	return nil
}

func (c *Conn) closeWith(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		_ = c.ws.Close(code, reason)
	})
}

func (c *Conn) write(ctx context.Context, v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	writeCtx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, c.ws, v)
}
