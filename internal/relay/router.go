package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/codex-k8s/browser-mcp-relay/internal/audit"
	"github.com/codex-k8s/browser-mcp-relay/internal/constants"
	"github.com/codex-k8s/browser-mcp-relay/internal/execution"
	"github.com/codex-k8s/browser-mcp-relay/internal/maputil"
	"github.com/codex-k8s/browser-mcp-relay/internal/protocol"
	"github.com/codex-k8s/browser-mcp-relay/internal/resources"
	"github.com/codex-k8s/browser-mcp-relay/internal/tools"
)

const defaultWriteTimeout = 10 * time.Second

// ServerInfo identifies the relay to controllers.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Options configures a Router.
type Options struct {
	// Exec is the shared Execution Context.
	Exec *execution.Context
	// Registry holds the tools offered to controllers.
	Registry *tools.Registry
	// Resources holds the static resources. Nil means none.
	Resources *resources.Collection
	// Info is reported by initialize.
	Info ServerInfo
	// Logger is used for structured logging.
	Logger *slog.Logger
	// Audit records tool calls and executor changes.
	Audit audit.Logger
	// Auth checks executor auth tokens. Nil accepts every token.
	Auth AuthHook
	// AllowedOrigins are websocket Origin patterns for cross-origin clients.
	AllowedOrigins []string
	// ReadLimit caps a single frame in bytes. Zero keeps the library default.
	ReadLimit int64
	// ToolCallsPerMinute limits tools/call per controller connection. Zero disables it.
	ToolCallsPerMinute int
	// WriteTimeout bounds a single frame write.
	WriteTimeout time.Duration
	// Now is the clock used for pong timestamps.
	Now func() time.Time
}

// Stats is a snapshot of live connections.
type Stats struct {
	Controllers       int  `json:"controllers"`
	Executors         int  `json:"executors"`
	Pending           int  `json:"pending"`
	ExecutorConnected bool `json:"executor_connected"`
}

// Router classifies websocket connections and dispatches their messages.
type Router struct {
	opts   Options
	logger *slog.Logger

	mu          sync.Mutex
	conns       map[*Conn]struct{}
	controllers map[*Conn]struct{}
	executors   map[*Conn]struct{}

	workers sync.WaitGroup
}

// New validates options and returns a Router.
func New(opts Options) (*Router, error) {
	if opts.Exec == nil {
		return nil, fmt.Errorf("execution context is nil")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("tool registry is nil")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Router{
		opts:        opts,
		logger:      opts.Logger,
		conns:       make(map[*Conn]struct{}),
		controllers: make(map[*Conn]struct{}),
		executors:   make(map[*Conn]struct{}),
	}, nil
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	ws, err := websocket.Accept(w, req, &websocket.AcceptOptions{
		OriginPatterns: r.opts.AllowedOrigins,
	})
	if err != nil {
		r.logger.Warn("websocket accept failed", "remote", req.RemoteAddr, "error", err)
		return
	}
	if r.opts.ReadLimit > 0 {
		ws.SetReadLimit(r.opts.ReadLimit)
	}

	c := newConn(req.Context(), uuid.NewString(), ws, r.opts.WriteTimeout)
	r.mu.Lock()
	r.conns[c] = struct{}{}
	r.mu.Unlock()
	r.logger.Info("connection opened", "conn_id", c.id, "remote", req.RemoteAddr)

	defer r.disconnect(c)
	r.readLoop(c)
}

func (r *Router) readLoop(c *Conn) {
	for {
		_, data, err := c.ws.Read(c.ctx)
		if err != nil {
			r.logReadError(c, err)
			return
		}
		r.handleFrame(c, data)
	}
}

func (r *Router) handleFrame(c *Conn, data []byte) {
	switch c.Role() {
	case constants.RoleController:
		r.enqueueController(c, data)
	case constants.RoleExecutor:
		r.handleExecutor(c, data)
	default:
		r.classify(c, data)
	}
}

func (r *Router) classify(c *Conn, data []byte) {
	role, err := Classify(data)
	if err != nil {
		r.logger.Warn("unclassified message rejected", "conn_id", c.id, "error", err)
		r.reply(c, protocol.NewError(extractID(data), protocol.AsError(err)))
		return
	}
	if !c.classify(role) {
		r.handleFrame(c, data)
		return
	}

	switch role {
	case constants.RoleExecutor:
		r.mu.Lock()
		r.executors[c] = struct{}{}
		r.mu.Unlock()
		r.opts.Exec.Attach(c)
		r.logger.Info("executor connected", "conn_id", c.id)
		r.record(c.ctx, audit.Event{Type: audit.EventExecutor, ConnID: c.id})
		r.handleExecutor(c, data)
	case constants.RoleController:
		r.startController(c)
		r.logger.Info("controller connected", "conn_id", c.id)
		r.enqueueController(c, data)
	}
}

func (r *Router) startController(c *Conn) {
	c.stateMu.Lock()
	c.inbox = make(chan []byte, inboxSize)
	if r.opts.ToolCallsPerMinute > 0 {
		perMinute := r.opts.ToolCallsPerMinute
		c.limiter = rate.NewLimiter(rate.Limit(float64(perMinute)/60), perMinute)
	}
	inbox := c.inbox
	c.stateMu.Unlock()

	r.mu.Lock()
	r.controllers[c] = struct{}{}
	r.mu.Unlock()

	r.workers.Add(1)
	go func() {
		defer r.workers.Done()
		for data := range inbox {
			r.handleController(c, data)
		}
	}()
}

func (r *Router) enqueueController(c *Conn, data []byte) {
	c.stateMu.Lock()
	inbox := c.inbox
	c.stateMu.Unlock()
	select {
	case inbox <- data:
	case <-c.ctx.Done():
	}
}

func (r *Router) disconnect(c *Conn) {
	c.cancel()

	r.mu.Lock()
	delete(r.conns, c)
	delete(r.controllers, c)
	delete(r.executors, c)
	r.mu.Unlock()

	c.stateMu.Lock()
	if c.inbox != nil {
		close(c.inbox)
	}
	role := c.role
	c.stateMu.Unlock()

	if r.opts.Exec.Detach(c) {
		r.logger.Info("executor detached", "conn_id", c.id)
		r.record(context.Background(), audit.Event{Type: audit.EventDetached, ConnID: c.id})
	}
	c.closeWith(websocket.StatusNormalClosure, "")
	r.logger.Info("connection closed", "conn_id", c.id, "role", role)
}

func (r *Router) logReadError(c *Conn, err error) {
	status := websocket.CloseStatus(err)
	switch {
	case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
		r.logger.Debug("connection closed by peer", "conn_id", c.id, "status", status.String())
	case errors.Is(err, context.Canceled):
		r.logger.Debug("connection read cancelled", "conn_id", c.id)
	default:
		r.logger.Warn("connection read failed", "conn_id", c.id, "error", err)
	}
}

// reply writes v on c and logs write failures.
func (r *Router) reply(c *Conn, v any) {
	if err := c.write(c.ctx, v); err != nil {
		r.logger.Warn("write failed", "conn_id", c.id, "error", err)
	}
}

func (r *Router) record(ctx context.Context, event audit.Event) {
	if r.opts.Audit != nil {
		r.opts.Audit.Record(ctx, event)
	}
}

// Stats returns the current connection counts.
func (r *Router) Stats() Stats {
	r.mu.Lock()
	stats := Stats{Controllers: len(r.controllers), Executors: len(r.executors)}
	r.mu.Unlock()
	stats.Pending = r.opts.Exec.Pending()
	stats.ExecutorConnected = r.opts.Exec.HasExecutor()
	return stats
}

// ReportStats logs Stats every interval until ctx is done.
func (r *Router) ReportStats(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := r.Stats()
			r.logger.Info("connection stats",
				"controllers", stats.Controllers,
				"executors", stats.Executors,
				"pending", stats.Pending,
				"executor_connected", stats.ExecutorConnected,
			)
		}
	}
}

// Shutdown closes every connection and waits for controller workers.
func (r *Router) Shutdown(ctx context.Context) error {
	// Closing makes each read loop return, which cancels in-flight calls.
	for _, c := range maputil.Keys(&r.mu, r.conns) {
		go c.closeWith(websocket.StatusGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		r.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
