package relay

import (
	"context"
	"crypto/subtle"
	"errors"

	"github.com/codex-k8s/browser-mcp-relay/internal/constants"
	"github.com/codex-k8s/browser-mcp-relay/internal/protocol"
)

// ErrAuthFailed is returned by SharedSecret for a mismatched token.
var ErrAuthFailed = errors.New("invalid auth token")

// AuthHook checks the token of an executor auth message.
type AuthHook func(ctx context.Context, token string) error

// SharedSecret accepts only token == secret. An empty secret accepts everything.
func SharedSecret(secret string) AuthHook {
	if secret == "" {
		return nil
	}
	return func(_ context.Context, token string) error {
		if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			return ErrAuthFailed
		}
		return nil
	}
}

// handleExecutor processes one frame of the executor connection.
func (r *Router) handleExecutor(c *Conn, data []byte) {
	msg, err := protocol.ParseExecutorMessage(data)
	if err != nil {
		r.logger.Warn("malformed executor message", "conn_id", c.id, "error", err)
		r.reply(c, protocol.NewError(extractID(data), protocol.ParseError("invalid JSON")))
		return
	}

	if msg.ID != "" {
		if r.opts.Exec.Resolve(msg.ID, msg.Payload, string(msg.Error)) {
			return
		}
		r.logger.Debug("executor response without pending request", "conn_id", c.id, "id", msg.ID, "type", msg.Type)
	}

	switch msg.Type {
	case constants.ExecutorAuth:
		r.authenticate(c, msg)
	case constants.ExecutorCapabilities:
		c.setCapabilities(msg.Data)
		r.logger.Info("executor capabilities received", "conn_id", c.id)
		r.reply(c, protocol.ExecutorMessage{Type: constants.ExecutorCapabilitiesReceived})
	case constants.ExecutorPing:
		r.reply(c, protocol.ExecutorMessage{Type: constants.ExecutorPong, Timestamp: r.opts.Now().UnixMilli()})
	case constants.ExecutorExecute, constants.ExecutorActionResult:
		r.logger.Debug("uncorrelated executor message ignored", "conn_id", c.id, "type", msg.Type)
	default:
		r.logger.Debug("executor message ignored", "conn_id", c.id, "type", msg.Type)
	}
}

func (r *Router) authenticate(c *Conn, msg protocol.ExecutorMessage) {
	if r.opts.Auth != nil {
		if err := r.opts.Auth(c.ctx, msg.Token); err != nil {
			r.logger.Warn("executor auth rejected", "conn_id", c.id, "error", err)
			r.reply(c, protocol.ExecutorMessage{Type: constants.ExecutorAuthFailed, Error: protocol.ExecutorError(err.Error())})
			return
		}
	}
	r.logger.Info("executor authenticated", "conn_id", c.id)
	r.reply(c, protocol.ExecutorMessage{Type: constants.ExecutorAuthSuccess})
}
