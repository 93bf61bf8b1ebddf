package execution

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codex-k8s/browser-mcp-relay/internal/log"
	"github.com/codex-k8s/browser-mcp-relay/internal/protocol"
)

type fakeChannel struct {
	id      string
	mu      sync.Mutex
	sent    []protocol.ExecutorMessage
	closed  bool
	sendErr error
	onSend  func(protocol.ExecutorMessage)
}

func (f *fakeChannel) ID() string { return f.id }

func (f *fakeChannel) Send(_ context.Context, msg protocol.ExecutorMessage) error {
	f.mu.Lock()
	if f.sendErr != nil {
		f.mu.Unlock()
		return f.sendErr
	}
	f.sent = append(f.sent, msg)
	hook := f.onSend
	f.mu.Unlock()
	if hook != nil {
		hook(msg)
	}
	return nil
}

func (f *fakeChannel) Close(string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeChannel) messages() []protocol.ExecutorMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.ExecutorMessage(nil), f.sent...)
}

func (f *fakeChannel) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func newTestContext(timeout time.Duration) *Context {
	return New(Options{Timeout: timeout, Logger: log.Discard()})
}

func TestSendWithoutExecutorFailsImmediately(t *testing.T) {
	execCtx := newTestContext(time.Hour)

	started := time.Now()
	_, err := execCtx.SendToExecutor(context.Background(), "click", map[string]any{"ref": "s1"})
	require.ErrorIs(t, err, ErrNoExecutor)
	assert.Less(t, time.Since(started), time.Second)
	assert.Zero(t, execCtx.Pending())
	assert.Contains(t, err.Error(), "No connected tab")
}

func TestSendResolvesWithMatchingResponse(t *testing.T) {
	execCtx := newTestContext(time.Second)
	ch := &fakeChannel{id: "tab-1"}
	ch.onSend = func(msg protocol.ExecutorMessage) {
		go execCtx.Resolve(msg.ID, json.RawMessage(`{"ok":true}`), "")
	}
	execCtx.Attach(ch)

	payload, err := execCtx.SendToExecutor(context.Background(), "navigate", map[string]string{"url": "https://example.com"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(payload))

	sent := ch.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "navigate", sent[0].Type)
	assert.NotEmpty(t, sent[0].ID)
	assert.JSONEq(t, `{"url":"https://example.com"}`, string(sent[0].Payload))
	assert.Zero(t, execCtx.Pending())
}

func TestSendPropagatesRemoteError(t *testing.T) {
	execCtx := newTestContext(time.Second)
	ch := &fakeChannel{id: "tab-1"}
	ch.onSend = func(msg protocol.ExecutorMessage) {
		go execCtx.Resolve(msg.ID, nil, "element not found")
	}
	execCtx.Attach(ch)

	_, err := execCtx.SendToExecutor(context.Background(), "click", nil)
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "click", remote.Type)
	assert.Contains(t, err.Error(), "element not found")
}

func TestSendTimesOutAndDropsEntry(t *testing.T) {
	execCtx := newTestContext(time.Hour)
	ch := &fakeChannel{id: "tab-1"}
	execCtx.Attach(ch)

	timeout := 50 * time.Millisecond
	started := time.Now()
	_, err := execCtx.SendToExecutor(context.Background(), "snapshot", nil, WithTimeout(timeout))
	elapsed := time.Since(started)

	require.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Zero(t, execCtx.Pending())

	sent := ch.messages()
	require.Len(t, sent, 1)
	assert.False(t, execCtx.Resolve(sent[0].ID, json.RawMessage(`{}`), ""), "late response must be a no-op")
}

func TestSendHonoursCallerCancellation(t *testing.T) {
	execCtx := newTestContext(time.Hour)
	execCtx.Attach(&fakeChannel{id: "tab-1"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := execCtx.SendToExecutor(ctx, "snapshot", nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, execCtx.Pending())
}

func TestSendReportsConnectionError(t *testing.T) {
	execCtx := newTestContext(time.Second)
	execCtx.Attach(&fakeChannel{id: "tab-1", sendErr: errors.New("broken pipe")})

	_, err := execCtx.SendToExecutor(context.Background(), "click", nil)
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "send", connErr.Op)
	assert.Zero(t, execCtx.Pending())
}

func TestAttachReplacesAndClosesPrevious(t *testing.T) {
	execCtx := newTestContext(time.Second)
	first := &fakeChannel{id: "first"}
	second := &fakeChannel{id: "second"}
	second.onSend = func(msg protocol.ExecutorMessage) {
		go execCtx.Resolve(msg.ID, json.RawMessage(`"done"`), "")
	}

	execCtx.Attach(first)
	execCtx.Attach(second)

	assert.True(t, first.isClosed())
	assert.False(t, second.isClosed())
	assert.Same(t, second, execCtx.Current())

	_, err := execCtx.SendToExecutor(context.Background(), "click", nil)
	require.NoError(t, err)
	assert.Empty(t, first.messages())
	assert.Len(t, second.messages(), 1)
}

func TestDetachComparesBeforeClearing(t *testing.T) {
	execCtx := newTestContext(time.Second)
	first := &fakeChannel{id: "first"}
	second := &fakeChannel{id: "second"}

	execCtx.Attach(first)
	execCtx.Attach(second)

	assert.False(t, execCtx.Detach(first), "stale channel must not clear the slot")
	assert.True(t, execCtx.HasExecutor())
	assert.True(t, execCtx.Detach(second))
	assert.False(t, execCtx.HasExecutor())
	assert.False(t, execCtx.Detach(second))
}

func TestCloseFailsPendingAndRejectsNewCalls(t *testing.T) {
	execCtx := newTestContext(time.Hour)
	ch := &fakeChannel{id: "tab-1"}
	execCtx.Attach(ch)

	errCh := make(chan error, 1)
	go func() {
		_, err := execCtx.SendToExecutor(context.Background(), "snapshot", nil)
		errCh <- err
	}()
	require.Eventually(t, func() bool { return execCtx.Pending() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, execCtx.Close())
	assert.ErrorIs(t, <-errCh, ErrClosed)
	assert.True(t, ch.isClosed())

	_, err := execCtx.SendToExecutor(context.Background(), "snapshot", nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPendingStoreExactlyOnce(t *testing.T) {
	store := NewPendingStore()
	ch, err := store.Register("a", "click")
	require.NoError(t, err)

	_, err = store.Register("a", "click")
	require.Error(t, err)

	assert.True(t, store.Resolve("a", json.RawMessage(`1`), ""))
	assert.False(t, store.Resolve("a", json.RawMessage(`2`), ""))
	assert.False(t, store.Cancel("a"))

	resp := <-ch
	assert.JSONEq(t, `1`, string(resp.payload))
	assert.Zero(t, store.Len())
}
