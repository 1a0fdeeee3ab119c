// File: internal/mcp/types.go
package mcp

import (
	"context"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/labcore/internal/bridge"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ToolBridge is the part of the bridge the server exposes.
type ToolBridge interface {
	Tools() []bridge.Tool
	Has(name string) bool
	Call(ctx context.Context, name string, args []byte) interface{}
}

// CommandRequest is the envelope accepted by /api/v1/command. Command is a
// tool name, or one of the built-ins "ping" and "list_tools".
type CommandRequest struct {
	Command string              `json:"command"`
	Params  jsoniter.RawMessage `json:"params"`
}

// CommandResponse is the envelope of every HTTP answer.
type CommandResponse struct {
	Status string      `json:"status"` // "success" or "error"
	Data   interface{} `json:"data,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// MessageType tags websocket messages.
type MessageType string

const (
	MsgTypeToolCall     MessageType = "ToolCall"
	MsgTypeToolResult   MessageType = "ToolResult"
	MsgTypeListTools    MessageType = "ListTools"
	MsgTypeToolList     MessageType = "ToolList"
	MsgTypeStatusUpdate MessageType = "StatusUpdate"
	MsgTypeSystemError  MessageType = "SystemError"
)

// WSMessage is the websocket frame. A ToolCall carries {"tool", "args"} in
// Data; its ToolResult echoes the RequestID.
type WSMessage struct {
	Type      MessageType            `json:"type"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp string                 `json:"timestamp"`
	RequestID string                 `json:"request_id,omitempty"`
}
