package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/Saga6569/agui-demo/internal/log"
	"github.com/Saga6569/agui-demo/internal/protocol"
	"github.com/Saga6569/agui-demo/internal/run"
	"github.com/Saga6569/agui-demo/internal/sse"
	"github.com/Saga6569/agui-demo/internal/tools"
)

// chatChunkSize is the delta size of the simplified streaming endpoint.
const chatChunkSize = 48

// mockWarning is the default warning text when the model backend is simply
// not configured (no recorded error to show instead).
const mockWarning = "Использован мок вместо настоящей модели."

// toolRequest is an explicit tool invocation attached to a chat request.
type toolRequest struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// chatRequest is the POST /api/chat/stream payload.
type chatRequest struct {
	Message  string       `json:"message"`
	Tool     *toolRequest `json:"tool,omitempty"`
	ClientID string       `json:"client_id,omitempty"`
}

// chatHandler serves the simplified SSE endpoint, which uses plain named
// events instead of the typed AG-UI envelope.
type chatHandler struct {
	registry  *tools.Registry
	catalogs  *tools.ClientCatalogs
	generator run.Generator
	logger    log.Logger
}

// stream handles POST /api/chat/stream.
//
// Event order: session_started, client_tools_known (when the client has a
// registered catalog), optional tool_call + tool_result (or error, which
// ends the stream), warning (when the response is mocked), message_delta*,
// message_completed.
func (h *chatHandler) stream(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "request body is not a valid chat payload", h.logger)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message_required", "message must not be empty", h.logger)
		return
	}

	writer, err := sse.NewWriter(w)
	if err != nil {
		h.logger.Error("starting event stream", "error", err)
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer does not support streaming", h.logger)
		return
	}

	ctx := r.Context()
	sessionID := uuid.NewString()

	if err := writer.Emit(ctx, protocol.EventSessionStarted, map[string]string{"session_id": sessionID}); err != nil {
		return
	}

	if req.ClientID != "" {
		if catalog, ok := h.catalogs.Lookup(req.ClientID); ok {
			payload := map[string]any{"tools": catalog}
			if err := writer.Emit(ctx, protocol.EventClientToolsKnown, payload); err != nil {
				return
			}
		}
	}

	var toolResult string
	if req.Tool != nil {
		args := req.Tool.Args
		if args == nil {
			args = map[string]any{}
		}
		call := map[string]any{"name": req.Tool.Name, "args": args}
		if err := writer.Emit(ctx, protocol.EventToolCall, call); err != nil {
			return
		}

		result, invokeErr := h.registry.Invoke(ctx, req.Tool.Name, args)
		if invokeErr != nil {
			h.logger.Warn("chat tool failed", "tool", req.Tool.Name, "error", invokeErr)
			_ = writer.Emit(ctx, protocol.EventError, map[string]string{"message": invokeErr.Error()})
			return
		}
		toolResult = result

		done := map[string]string{"name": req.Tool.Name, "result": result}
		if err := writer.Emit(ctx, protocol.EventToolResult, done); err != nil {
			return
		}
	}

	resp := h.generator.GenerateText(ctx, req.Message, toolResult)

	if resp.UsedFallback {
		message := resp.Err
		if message == "" {
			message = mockWarning
		}
		if err := writer.Emit(ctx, protocol.EventWarning, map[string]string{"message": message}); err != nil {
			return
		}
	}

	for _, chunk := range run.ChunkText(resp.Text, chatChunkSize) {
		if err := writer.Emit(ctx, protocol.EventMessageDelta, map[string]string{"delta": chunk}); err != nil {
			return
		}
	}

	completed := map[string]any{"message": resp.Text, "mock": resp.UsedFallback}
	if err := writer.Emit(ctx, protocol.EventMessageCompleted, completed); err != nil {
		h.logger.Debug("chat stream aborted", "error", err)
	}
}
