// File: internal/mcp/handlers.go
package mcp

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xkilldash9x/labcore/internal/bridge"
)

// maxBodySize bounds tool arguments read from a request body.
const maxBodySize = 1 << 20

// Handlers serves the tool bridge over plain HTTP.
type Handlers struct {
	log    *zap.Logger
	bridge ToolBridge
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(logger *zap.Logger, b ToolBridge) *Handlers {
	return &Handlers{
		log:    logger.Named("mcp_handlers"),
		bridge: b,
	}
}

// RegisterRoutes sets up the HTTP routes. Websocket routes are registered by
// the Server outside the timeout and logging middleware.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.HandleHealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/tools", h.HandleListTools)
		r.Post("/tools/{name}", h.HandleCallTool)
		r.Post("/command", h.HandleCommand)
	})
}

// HandleHealthCheck is a simple handler to confirm the server is responsive.
func (h *Handlers) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// HandleListTools returns every tool with its parameter schema.
func (h *Handlers) HandleListTools(w http.ResponseWriter, r *http.Request) {
	h.respondWithSuccess(w, http.StatusOK, h.bridge.Tools())
}

// HandleCallTool runs the tool named in the path; the body is its arguments.
func (h *Handlers) HandleCallTool(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !h.bridge.Has(name) {
		h.respondWithError(w, http.StatusNotFound, fmt.Sprintf("Unknown tool: %s", name))
		return
	}
	args, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Failed to read request body: %v", err))
		return
	}
	if len(args) > maxBodySize {
		h.respondWithError(w, http.StatusRequestEntityTooLarge, "Request body too large.")
		return
	}
	h.callTool(w, r, name, args)
}

// HandleCommand accepts {"command", "params"} envelopes.
func (h *Handlers) HandleCommand(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	h.log.Info("Received command", zap.String("command", req.Command))

	switch cmd := strings.TrimSpace(req.Command); {
	case cmd == "ping":
		h.respondWithSuccess(w, http.StatusOK, map[string]string{"message": "pong"})
	case cmd == "list_tools":
		h.respondWithSuccess(w, http.StatusOK, h.bridge.Tools())
	case h.bridge.Has(cmd):
		h.callTool(w, r, cmd, req.Params)
	default:
		h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Unknown command: %s", req.Command))
	}
}

// callTool runs a tool. Tool failures are answered with 200 and status
// "error": the call itself was served.
func (h *Handlers) callTool(w http.ResponseWriter, r *http.Request, name string, args []byte) {
	out := h.bridge.Call(r.Context(), name, bytes.TrimSpace(args))
	if p, ok := out.(bridge.ErrorPayload); ok {
		h.writeJSON(w, http.StatusOK, CommandResponse{Status: "error", Error: p.Error, Data: p})
		return
	}
	h.respondWithSuccess(w, http.StatusOK, out)
}

// respondWithError sends a standardized JSON error response.
func (h *Handlers) respondWithError(w http.ResponseWriter, statusCode int, message string) {
	h.writeJSON(w, statusCode, CommandResponse{Status: "error", Error: message})
}

// respondWithSuccess sends a standardized JSON success response.
func (h *Handlers) respondWithSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	h.writeJSON(w, statusCode, CommandResponse{Status: "success", Data: data})
}

func (h *Handlers) writeJSON(w http.ResponseWriter, statusCode int, resp CommandResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.Error("Failed to encode response", zap.Error(err))
	}
}
