// File: internal/mcp/server_test.go
package mcp

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/labcore/internal/bridge"
	"github.com/xkilldash9x/labcore/internal/config"
)

// stubBridge answers "echo" with its arguments and "broken" with an error payload.
type stubBridge struct {
	mu    sync.Mutex
	calls []string
}

func (s *stubBridge) Tools() []bridge.Tool {
	return []bridge.Tool{{Name: "echo", Description: "Echo."}, {Name: "broken", Description: "Fails."}}
}

func (s *stubBridge) Has(name string) bool { return name == "echo" || name == "broken" }

func (s *stubBridge) Call(_ context.Context, name string, args []byte) interface{} {
	s.mu.Lock()
	s.calls = append(s.calls, name+" "+string(args))
	s.mu.Unlock()
	if name == "broken" {
		return bridge.ErrorPayload{Error: "order not found", Code: "navigation_error"}
	}
	var v map[string]interface{}
	_ = json.Unmarshal(args, &v)
	return map[string]interface{}{"echo": v}
}

func newTestServer(t *testing.T) (*httptest.Server, *stubBridge) {
	t.Helper()
	b := &stubBridge{}
	s := NewServer(config.ServerConfig{RequestTimeout: 5 * time.Second}, b, zaptest.NewLogger(t))
	ts := httptest.NewServer(s.Router())
	t.Cleanup(func() {
		s.cancelBase()
		ts.Close()
	})
	return ts, b
}

func doJSON(t *testing.T, method, url, body string) (int, CommandResponse) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out CommandResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestHealthCheck(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestListTools(t *testing.T) {
	ts, _ := newTestServer(t)
	code, out := doJSON(t, http.MethodGet, ts.URL+"/api/v1/tools", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "success", out.Status)
	assert.Len(t, out.Data, 2)
}

func TestCallTool(t *testing.T) {
	ts, b := newTestServer(t)

	t.Run("success", func(t *testing.T) {
		code, out := doJSON(t, http.MethodPost, ts.URL+"/api/v1/tools/echo", `{"order_numbers": ["000123"]}`)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "success", out.Status)
		assert.Equal(t, map[string]interface{}{"echo": map[string]interface{}{"order_numbers": []interface{}{"000123"}}}, out.Data)
	})

	t.Run("tool failure is still a served call", func(t *testing.T) {
		code, out := doJSON(t, http.MethodPost, ts.URL+"/api/v1/tools/broken", ``)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "error", out.Status)
		assert.Equal(t, "order not found", out.Error)
	})

	t.Run("unknown tool", func(t *testing.T) {
		code, out := doJSON(t, http.MethodPost, ts.URL+"/api/v1/tools/drop_tables", `{}`)
		assert.Equal(t, http.StatusNotFound, code)
		assert.Contains(t, out.Error, "drop_tables")
	})

	b.mu.Lock()
	defer b.mu.Unlock()
	assert.Len(t, b.calls, 2)
}

func TestHandleCommand(t *testing.T) {
	ts, _ := newTestServer(t)

	code, out := doJSON(t, http.MethodPost, ts.URL+"/api/v1/command", `{"command": "ping"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]interface{}{"message": "pong"}, out.Data)

	_, out = doJSON(t, http.MethodPost, ts.URL+"/api/v1/command", `{"command": "echo", "params": {"query": "garcia"}}`)
	assert.Equal(t, "success", out.Status)

	_, out = doJSON(t, http.MethodPost, ts.URL+"/api/v1/command", `{"command": "list_tools"}`)
	assert.Len(t, out.Data, 2)

	code, out = doJSON(t, http.MethodPost, ts.URL+"/api/v1/command", `{"command": "format_disk"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "error", out.Status)

	code, _ = doJSON(t, http.MethodPost, ts.URL+"/api/v1/command", `{not json`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func dialTools(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/v1/tools"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, want MessageType) WSMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg WSMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == want {
			return msg
		}
	}
}

func TestWebSocketToolCall(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dialTools(t, ts)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(WSMessage{
		Type:      MsgTypeToolCall,
		RequestID: "req-1",
		Data:      map[string]interface{}{"tool": "echo", "args": map[string]interface{}{"query": "maria"}},
	}))
	msg := readUntil(t, conn, MsgTypeToolResult)
	assert.Equal(t, "req-1", msg.RequestID)
	assert.Equal(t, "echo", msg.Data["tool"])
	assert.Equal(t, map[string]interface{}{"echo": map[string]interface{}{"query": "maria"}}, msg.Data["result"])

	require.NoError(t, conn.WriteJSON(WSMessage{Type: MsgTypeToolCall, Data: map[string]interface{}{}}))
	msg = readUntil(t, conn, MsgTypeSystemError)
	assert.NotEmpty(t, msg.RequestID, "a missing request id is assigned")

	require.NoError(t, conn.WriteJSON(WSMessage{Type: "Shout", RequestID: "req-3"}))
	msg = readUntil(t, conn, MsgTypeSystemError)
	assert.Equal(t, "req-3", msg.RequestID)

	require.NoError(t, conn.WriteJSON(WSMessage{Type: MsgTypeListTools, RequestID: "req-4"}))
	msg = readUntil(t, conn, MsgTypeToolList)
	assert.Len(t, msg.Data["tools"], 2)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
}

func TestServe_StopsOnCancel(t *testing.T) {
	s := NewServer(config.ServerConfig{}, &stubBridge{}, zaptest.NewLogger(t))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	http.DefaultClient.CloseIdleConnections()
}

func newBufferedClient(t *testing.T, size int) *wsClient {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return &wsClient{
		server: &Server{logger: zaptest.NewLogger(t)},
		send:   make(chan WSMessage, size),
		ctx:    ctx,
		cancel: cancel,
	}
}

func TestSendMessage_WaitsForRoomInsteadOfDropping(t *testing.T) {
	c := newBufferedClient(t, 1)
	require.True(t, c.sendMessage(MsgTypeStatusUpdate, "r1", nil))

	delivered := make(chan bool)
	go func() { delivered <- c.sendMessage(MsgTypeToolResult, "r2", map[string]interface{}{"tool": "echo"}) }()

	select {
	case <-delivered:
		t.Fatal("send returned while the buffer was full")
	case <-time.After(50 * time.Millisecond):
	}

	assert.Equal(t, "r1", (<-c.send).RequestID)
	assert.True(t, <-delivered)
	msg := <-c.send
	assert.Equal(t, "r2", msg.RequestID)
	assert.Equal(t, MsgTypeToolResult, msg.Type)
}

func TestSendMessage_GivesUpWhenConnectionCloses(t *testing.T) {
	c := newBufferedClient(t, 1)
	require.True(t, c.sendMessage(MsgTypeStatusUpdate, "r1", nil))

	delivered := make(chan bool)
	go func() { delivered <- c.sendMessage(MsgTypeToolResult, "r2", nil) }()
	c.cancel()

	select {
	case ok := <-delivered:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("send stayed blocked after the connection closed")
	}
	assert.Len(t, c.send, 1)
}
