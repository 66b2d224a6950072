package api

import (
	"encoding/json"
	"net/http"

	"github.com/Saga6569/agui-demo/internal/log"
	"github.com/Saga6569/agui-demo/internal/run"
	"github.com/Saga6569/agui-demo/internal/sse"
)

// maxBodyBytes bounds request bodies on the JSON endpoints.
const maxBodyBytes = 1 << 20 // 1 MiB

// agentHandler serves the AG-UI streaming endpoint.
type agentHandler struct {
	orchestrator *run.Orchestrator
	logger       log.Logger
}

// runAgent handles POST /api/agent: decode the run payload, switch the
// response to SSE and let the orchestrator drive the event stream.
// Decoding failures are reported as plain JSON errors; once streaming has
// begun, failures surface inside the stream as RUN_ERROR frames instead.
func (h *agentHandler) runAgent(w http.ResponseWriter, r *http.Request) {
	var in run.Input
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "request body is not a valid run payload", h.logger)
		return
	}

	writer, err := sse.NewWriter(w)
	if err != nil {
		h.logger.Error("starting event stream", "error", err)
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer does not support streaming", h.logger)
		return
	}

	ctx := r.Context()
	emitter := run.EmitterFunc(func(event string, payload any) error {
		return writer.Emit(ctx, event, payload)
	})

	if err := h.orchestrator.Run(ctx, &in, emitter); err != nil {
		// The client is gone or the connection broke mid-stream; nothing
		// more can be delivered.
		h.logger.Debug("run stream aborted", "error", err)
	}
}
