package relay

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codex-k8s/browser-mcp-relay/internal/execution"
	"github.com/codex-k8s/browser-mcp-relay/internal/log"
	"github.com/codex-k8s/browser-mcp-relay/internal/protocol"
	"github.com/codex-k8s/browser-mcp-relay/internal/resources"
	"github.com/codex-k8s/browser-mcp-relay/internal/tools"
)

var fixedNow = time.UnixMilli(1_700_000_000_000)

type testRelay struct {
	router *Router
	exec   *execution.Context
	url    string
}

func newTestRelay(t *testing.T, configure ...func(*Options)) *testRelay {
	t.Helper()

	exec := execution.New(execution.Options{Timeout: 2 * time.Second, Logger: log.Discard()})
	registry, err := tools.Default()
	require.NoError(t, err)
	collection, err := resources.NewCollection(resources.Resource{
		URI:         "browser://usage",
		Name:        "usage",
		Description: "How to connect",
		Text:        "open the extension",
	})
	require.NoError(t, err)

	opts := Options{
		Exec:           exec,
		Registry:       registry,
		Resources:      collection,
		Info:           ServerInfo{Name: "browser-mcp-relay", Version: "test"},
		Logger:         log.Discard(),
		AllowedOrigins: []string{"*"},
		Now:            func() time.Time { return fixedNow },
	}
	for _, fn := range configure {
		fn(&opts)
	}
	router, err := New(opts)
	require.NoError(t, err)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = router.Shutdown(ctx)
	})

	return &testRelay{router: router, exec: exec, url: "ws" + strings.TrimPrefix(srv.URL, "http")}
}

func (r *testRelay) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, r.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, conn, v))
}

func sendRaw(t *testing.T, conn *websocket.Conn, data string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(data)))
}

func recv(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var msg map[string]any
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	return msg
}

func request(id any, method string, params any) map[string]any {
	msg := map[string]any{"protocolVersion": protocol.Version, "id": id, "method": method}
	if params != nil {
		msg["params"] = params
	}
	return msg
}

func errorOf(t *testing.T, msg map[string]any) (float64, string) {
	t.Helper()
	rpcErr, ok := msg["error"].(map[string]any)
	require.True(t, ok, "expected error envelope, got %v", msg)
	return rpcErr["code"].(float64), rpcErr["message"].(string)
}

func resultOf(t *testing.T, msg map[string]any) map[string]any {
	t.Helper()
	require.NotContains(t, msg, "error")
	result, ok := msg["result"].(map[string]any)
	require.True(t, ok, "expected result envelope, got %v", msg)
	return result
}

func connectExecutor(t *testing.T, relay *testRelay) *websocket.Conn {
	t.Helper()
	conn := relay.dial(t)
	send(t, conn, map[string]any{"type": "auth", "token": "any"})
	assert.Equal(t, "auth_success", recv(t, conn)["type"])
	return conn
}

func TestToolsListWithoutExecutor(t *testing.T) {
	relay := newTestRelay(t)
	conn := relay.dial(t)

	send(t, conn, request(1, "tools/list", nil))
	msg := recv(t, conn)
	assert.Equal(t, protocol.Version, msg["protocolVersion"])
	assert.Equal(t, float64(1), msg["id"])

	list := resultOf(t, msg)["tools"].([]any)
	require.Len(t, list, 12)
	names := make([]string, 0, len(list))
	for _, item := range list {
		descriptor := item.(map[string]any)
		names = append(names, descriptor["name"].(string))
		assert.NotEmpty(t, descriptor["description"])
		assert.NotNil(t, descriptor["inputSchema"])
	}
	assert.Equal(t, "navigate", names[0])
	assert.Contains(t, names, "snapshot")
	assert.Equal(t, "wait", names[len(names)-1])
}

func TestToolsCallWithoutExecutor(t *testing.T) {
	relay := newTestRelay(t)
	conn := relay.dial(t)

	send(t, conn, request(2, "tools/call", map[string]any{
		"name":      "click",
		"arguments": map[string]any{"element": "Submit button", "ref": "e12"},
	}))
	msg := recv(t, conn)
	assert.Equal(t, float64(2), msg["id"])
	code, message := errorOf(t, msg)
	assert.Equal(t, float64(protocol.CodeInternalError), code)
	assert.Contains(t, message, "No connected tab")
	assert.Zero(t, relay.exec.Pending())
}

func TestToolsCallUnknownTool(t *testing.T) {
	relay := newTestRelay(t)
	conn := relay.dial(t)

	send(t, conn, request("abc", "tools/call", map[string]any{"name": "nope"}))
	msg := recv(t, conn)
	assert.Equal(t, "abc", msg["id"])
	code, message := errorOf(t, msg)
	assert.Equal(t, float64(protocol.CodeInvalidParams), code)
	assert.Equal(t, "Tool not found: nope", message)
}

func TestToolsCallInvalidArguments(t *testing.T) {
	relay := newTestRelay(t)
	exec := connectExecutor(t, relay)
	conn := relay.dial(t)

	send(t, conn, request(3, "tools/call", map[string]any{
		"name":      "click",
		"arguments": map[string]any{"element": "Submit button"},
	}))
	code, message := errorOf(t, recv(t, conn))
	assert.Equal(t, float64(protocol.CodeInvalidParams), code)
	assert.True(t, strings.HasPrefix(message, "Invalid arguments for tool click"), message)

	// Nothing was forwarded; the executor still answers its own ping first.
	send(t, exec, map[string]any{"type": "ping"})
	assert.Equal(t, "pong", recv(t, exec)["type"])
}

func TestExecutorPing(t *testing.T) {
	relay := newTestRelay(t)
	conn := relay.dial(t)

	send(t, conn, map[string]any{"type": "ping"})
	msg := recv(t, conn)
	assert.Equal(t, "pong", msg["type"])
	assert.Equal(t, float64(fixedNow.UnixMilli()), msg["timestamp"])
	assert.True(t, relay.exec.HasExecutor())
}

func TestMalformedFirstMessageKeepsConnection(t *testing.T) {
	relay := newTestRelay(t)
	conn := relay.dial(t)

	sendRaw(t, conn, "not json")
	code, _ := errorOf(t, recv(t, conn))
	assert.Equal(t, float64(protocol.CodeParseError), code)

	send(t, conn, request(5, "tools/list", nil))
	msg := recv(t, conn)
	assert.Equal(t, float64(5), msg["id"])
	assert.Len(t, resultOf(t, msg)["tools"], 12)
}

func TestUnrecognizedFirstMessageEchoesID(t *testing.T) {
	relay := newTestRelay(t)
	conn := relay.dial(t)

	send(t, conn, map[string]any{"id": 9, "hello": "world"})
	msg := recv(t, conn)
	assert.Equal(t, float64(9), msg["id"])
	code, _ := errorOf(t, msg)
	assert.Equal(t, float64(protocol.CodeParseError), code)
}

func TestToolCallRoundTrip(t *testing.T) {
	relay := newTestRelay(t)
	exec := connectExecutor(t, relay)
	conn := relay.dial(t)

	send(t, conn, request(7, "tools/call", map[string]any{
		"name":      "click",
		"arguments": map[string]any{"element": "Submit button", "ref": "e12"},
	}))

	action := recv(t, exec)
	assert.Equal(t, "click", action["type"])
	assert.NotEmpty(t, action["id"])
	assert.Equal(t, "e12", action["payload"].(map[string]any)["ref"])
	send(t, exec, map[string]any{"id": action["id"], "payload": map[string]any{"ok": true}})

	snapshot := recv(t, exec)
	assert.Equal(t, "snapshot", snapshot["type"])
	send(t, exec, map[string]any{"id": snapshot["id"], "payload": "- button \"Submit\" [ref=e12]"})

	msg := recv(t, conn)
	assert.Equal(t, float64(7), msg["id"])
	content := resultOf(t, msg)["content"].([]any)
	require.Len(t, content, 1)
	block := content[0].(map[string]any)
	assert.Equal(t, "text", block["type"])
	assert.Equal(t, "Clicked \"Submit button\"\n\n- button \"Submit\" [ref=e12]", block["text"])
	assert.Zero(t, relay.exec.Pending())
}

func TestExecutorErrorBecomesInternalError(t *testing.T) {
	relay := newTestRelay(t)
	exec := connectExecutor(t, relay)
	conn := relay.dial(t)

	send(t, conn, request(8, "tools/call", map[string]any{"name": "snapshot"}))
	action := recv(t, exec)
	send(t, exec, map[string]any{"id": action["id"], "error": "tab crashed"})

	code, message := errorOf(t, recv(t, conn))
	assert.Equal(t, float64(protocol.CodeInternalError), code)
	assert.Contains(t, message, "tab crashed")
}

func TestNewerExecutorReplacesPrevious(t *testing.T) {
	relay := newTestRelay(t)
	first := connectExecutor(t, relay)
	second := connectExecutor(t, relay)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := first.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))

	conn := relay.dial(t)
	send(t, conn, request(1, "tools/call", map[string]any{"name": "snapshot"}))
	action := recv(t, second)
	assert.Equal(t, "snapshot", action["type"])
	send(t, second, map[string]any{"id": action["id"], "payload": "page"})

	content := resultOf(t, recv(t, conn))["content"].([]any)
	assert.Equal(t, "page", content[0].(map[string]any)["text"])

	require.Eventually(t, func() bool {
		return relay.router.Stats().Executors == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestExecutorDisconnectDetaches(t *testing.T) {
	relay := newTestRelay(t)
	exec := connectExecutor(t, relay)
	assert.True(t, relay.exec.HasExecutor())

	require.NoError(t, exec.Close(websocket.StatusNormalClosure, ""))
	require.Eventually(t, func() bool {
		stats := relay.router.Stats()
		return !stats.ExecutorConnected && stats.Executors == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSharedSecretAuth(t *testing.T) {
	relay := newTestRelay(t, func(o *Options) { o.Auth = SharedSecret("s3cret") })
	conn := relay.dial(t)

	send(t, conn, map[string]any{"type": "auth", "token": "wrong"})
	msg := recv(t, conn)
	assert.Equal(t, "auth_failed", msg["type"])
	assert.NotEmpty(t, msg["error"])

	send(t, conn, map[string]any{"type": "auth", "token": "s3cret"})
	assert.Equal(t, "auth_success", recv(t, conn)["type"])
}

func TestCapabilitiesRecorded(t *testing.T) {
	relay := newTestRelay(t)
	conn := relay.dial(t)

	send(t, conn, map[string]any{"type": "capabilities", "data": map[string]any{"screenshot": true}})
	assert.Equal(t, "capabilities_received", recv(t, conn)["type"])

	current, ok := relay.exec.Current().(*Conn)
	require.True(t, ok)
	var caps map[string]bool
	require.NoError(t, json.Unmarshal(current.Capabilities(), &caps))
	assert.True(t, caps["screenshot"])
}

func TestResources(t *testing.T) {
	relay := newTestRelay(t)
	conn := relay.dial(t)

	send(t, conn, request(1, "resources/list", nil))
	list := resultOf(t, recv(t, conn))["resources"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, "browser://usage", list[0].(map[string]any)["uri"])
	assert.NotContains(t, list[0].(map[string]any), "text")

	send(t, conn, request(2, "resources/read", map[string]any{"uri": "browser://usage"}))
	contents := resultOf(t, recv(t, conn))["contents"].([]any)
	require.Len(t, contents, 1)
	assert.Equal(t, "open the extension", contents[0].(map[string]any)["text"])
	assert.Equal(t, "text/plain", contents[0].(map[string]any)["mimeType"])

	send(t, conn, request(3, "resources/read", map[string]any{"uri": "browser://missing"}))
	code, message := errorOf(t, recv(t, conn))
	assert.Equal(t, float64(protocol.CodeInvalidParams), code)
	assert.Equal(t, "Resource not found: browser://missing", message)
}

func TestMethodNotFound(t *testing.T) {
	relay := newTestRelay(t)
	conn := relay.dial(t)

	send(t, conn, request(4, "prompts/list", nil))
	msg := recv(t, conn)
	assert.Equal(t, float64(4), msg["id"])
	code, message := errorOf(t, msg)
	assert.Equal(t, float64(protocol.CodeMethodNotFound), code)
	assert.Equal(t, "Method not found: prompts/list", message)
}

func TestInitializeAndNotifications(t *testing.T) {
	relay := newTestRelay(t)
	conn := relay.dial(t)

	send(t, conn, map[string]any{"jsonrpc": "2.0", "id": 1, "method": "initialize", "params": map[string]any{}})
	result := resultOf(t, recv(t, conn))
	assert.Equal(t, "browser-mcp-relay", result["serverInfo"].(map[string]any)["name"])
	assert.Contains(t, result["capabilities"], "tools")

	// Notifications are never answered, so the next frame belongs to ping.
	send(t, conn, map[string]any{"protocolVersion": protocol.Version, "method": "notifications/initialized"})
	send(t, conn, request(2, "ping", nil))
	msg := recv(t, conn)
	assert.Equal(t, float64(2), msg["id"])
	assert.Empty(t, resultOf(t, msg))
}

func TestToolCallRateLimit(t *testing.T) {
	relay := newTestRelay(t, func(o *Options) { o.ToolCallsPerMinute = 1 })
	conn := relay.dial(t)

	call := map[string]any{"name": "wait", "arguments": map[string]any{"time": 0}}
	send(t, conn, request(1, "tools/call", call))
	send(t, conn, request(2, "tools/call", call))

	var ok, limited int
	for range 2 {
		msg := recv(t, conn)
		if _, failed := msg["error"]; failed {
			_, message := errorOf(t, msg)
			assert.Equal(t, "rate limit exceeded", message)
			limited++
			continue
		}
		ok++
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, limited)
}

func TestStats(t *testing.T) {
	relay := newTestRelay(t)
	_ = connectExecutor(t, relay)
	conn := relay.dial(t)
	send(t, conn, request(1, "ping", nil))
	_ = recv(t, conn)

	stats := relay.router.Stats()
	assert.Equal(t, Stats{Controllers: 1, Executors: 1, ExecutorConnected: true}, stats)
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)

	_, err = New(Options{Exec: execution.New(execution.Options{})})
	require.Error(t, err)
}

func TestMalformedFrameOnClassifiedConnections(t *testing.T) {
	relay := newTestRelay(t)

	t.Run("controller", func(t *testing.T) {
		conn := relay.dial(t)
		send(t, conn, request(1, "tools/list", nil))
		assert.Len(t, resultOf(t, recv(t, conn))["tools"], 12)

		sendRaw(t, conn, "not json")
		code, _ := errorOf(t, recv(t, conn))
		assert.Equal(t, float64(protocol.CodeParseError), code)

		send(t, conn, request(2, "ping", nil))
		msg := recv(t, conn)
		assert.Equal(t, float64(2), msg["id"])
		assert.Empty(t, resultOf(t, msg))
	})

	t.Run("executor", func(t *testing.T) {
		conn := connectExecutor(t, relay)

		sendRaw(t, conn, "not json")
		code, _ := errorOf(t, recv(t, conn))
		assert.Equal(t, float64(protocol.CodeParseError), code)

		send(t, conn, map[string]any{"type": "ping"})
		assert.Equal(t, "pong", recv(t, conn)["type"])
	})
}

func TestExecutorObjectErrorResolvesPending(t *testing.T) {
	relay := newTestRelay(t)
	exec := connectExecutor(t, relay)
	conn := relay.dial(t)

	send(t, conn, request(9, "tools/call", map[string]any{"name": "snapshot"}))
	action := recv(t, exec)
	send(t, exec, map[string]any{"id": action["id"], "error": map[string]any{"message": "no such element", "code": 4}})

	msg := recv(t, conn)
	assert.Equal(t, float64(9), msg["id"])
	code, message := errorOf(t, msg)
	assert.Equal(t, float64(protocol.CodeInternalError), code)
	assert.Contains(t, message, "no such element")
	assert.NotContains(t, message, "timeout")
	assert.Zero(t, relay.exec.Pending())
}
