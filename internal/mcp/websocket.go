// File: internal/mcp/websocket.go
package mcp

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// The bridge listens on loopback by default and the agent host is not a
// browser, so the origin check is left open like the HTTP CORS policy.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Constants for WebSocket timeouts and limits (based on Gorilla WebSocket examples).
const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Batch fills carry many items; leave room for them.
	maxMessageSize = 256 * 1024
	// Send buffer size
	sendChannelSize = 256
)

// wsClient is one websocket connection. Tool calls run concurrently; the tab
// registry serializes work on the same order.
type wsClient struct {
	server *Server
	conn   *websocket.Conn
	send   chan WSMessage

	ctx     context.Context
	cancel  context.CancelFunc
	pending sync.WaitGroup
}

// handleTools upgrades the connection and runs its pumps until the peer leaves.
func (s *Server) handleTools() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Error("Failed to upgrade connection to WebSocket", zap.Error(err))
			return
		}
		s.logger.Info("WebSocket connection established (/ws/v1/tools).", zap.String("remoteAddr", r.RemoteAddr))

		ctx, cancel := context.WithCancel(s.baseCtx)
		c := &wsClient{
			server: s,
			conn:   conn,
			send:   make(chan WSMessage, sendChannelSize),
			ctx:    ctx,
			cancel: cancel,
		}

		done := make(chan struct{})
		go func() {
			c.writePump()
			close(done)
		}()
		// Shutdown does not track hijacked connections; close ours on cancel.
		go func() {
			<-ctx.Done()
			_ = conn.Close()
		}()
		c.readPump()

		// No sender is left once in-flight calls return.
		c.cancel()
		c.pending.Wait()
		close(c.send)
		<-done
		s.logger.Debug("WebSocket handler finished.", zap.String("remoteAddr", r.RemoteAddr))
	}
}

func (c *wsClient) readPump() {
	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.server.logger.Error("Failed to set initial read deadline", zap.Error(err))
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.logger.Warn("WebSocket closed unexpectedly", zap.Error(err))
			} else {
				c.server.logger.Info("WebSocket connection closed.")
			}
			return
		}
		c.processMessage(msg)
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.drain()
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				c.server.logger.Warn("Error writing JSON message to WebSocket", zap.Error(err))
				c.drain()
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.drain()
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.drain()
				return
			}
		}
	}
}

// drain discards queued messages after a write failure so senders never block.
func (c *wsClient) drain() {
	_ = c.conn.Close()
	c.cancel()
	for range c.send {
	}
}

func (c *wsClient) processMessage(msg WSMessage) {
	if msg.RequestID == "" {
		msg.RequestID = uuid.NewString()
	}
	switch msg.Type {
	case MsgTypeListTools:
		c.sendMessage(MsgTypeToolList, msg.RequestID, map[string]interface{}{"tools": c.server.bridge.Tools()})

	case MsgTypeToolCall:
		name, _ := msg.Data["tool"].(string)
		name = strings.TrimSpace(name)
		if name == "" {
			c.sendError(msg.RequestID, "ToolCall message requires a 'tool' field.")
			return
		}
		args := []byte("{}")
		if raw, ok := msg.Data["args"]; ok && raw != nil {
			b, err := json.Marshal(raw)
			if err != nil {
				c.sendError(msg.RequestID, fmt.Sprintf("Invalid 'args': %v", err))
				return
			}
			args = b
		}
		c.sendStatus(msg.RequestID, fmt.Sprintf("Running %s.", name))

		c.pending.Add(1)
		go func() {
			defer c.pending.Done()
			out := c.server.bridge.Call(c.ctx, name, args)
			c.sendMessage(MsgTypeToolResult, msg.RequestID, map[string]interface{}{
				"tool":   name,
				"result": out,
			})
		}()

	default:
		c.server.logger.Warn("Received unknown message type from client", zap.String("type", string(msg.Type)))
		c.sendError(msg.RequestID, fmt.Sprintf("Unknown or unsupported message type: %s", msg.Type))
	}
}

// sendMessage queues a message for the writePump, waiting for room when the
// buffer is full. It gives up only once the connection is going away.
func (c *wsClient) sendMessage(msgType MessageType, requestID string, data map[string]interface{}) bool {
	msg := WSMessage{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RequestID: requestID,
	}
	select {
	case c.send <- msg:
		return true
	case <-c.ctx.Done():
		c.server.logger.Warn("WebSocket closing, message not delivered.",
			zap.String("requestID", requestID), zap.String("type", string(msgType)))
		return false
	}
}

func (c *wsClient) sendError(requestID string, errorMessage string) {
	c.sendMessage(MsgTypeSystemError, requestID, map[string]interface{}{"error": errorMessage})
}

func (c *wsClient) sendStatus(requestID string, statusMessage string) {
	c.sendMessage(MsgTypeStatusUpdate, requestID, map[string]interface{}{"status": statusMessage})
}
