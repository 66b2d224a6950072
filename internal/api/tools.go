package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/Saga6569/agui-demo/internal/log"
	"github.com/Saga6569/agui-demo/internal/tools"
)

// toolsHandler serves the server tool catalog and client registrations.
type toolsHandler struct {
	registry *tools.Registry
	catalogs *tools.ClientCatalogs
	logger   log.Logger
}

// list handles GET /api/tools.
func (h *toolsHandler) list(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tools": h.registry.List()}, h.logger)
}

// registerRequest is the POST /api/client/register payload.
type registerRequest struct {
	ClientID string             `json:"client_id"`
	Tools    []tools.Descriptor `json:"tools"`
}

// register handles POST /api/client/register: stores the client's tool
// catalog, replacing any previous registration for the same client_id.
func (h *toolsHandler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "request body is not a valid registration", h.logger)
		return
	}
	if strings.TrimSpace(req.ClientID) == "" {
		writeError(w, http.StatusBadRequest, "client_id_required", "client_id must not be empty", h.logger)
		return
	}

	catalog := req.Tools
	if catalog == nil {
		catalog = []tools.Descriptor{}
	}
	h.catalogs.Replace(req.ClientID, catalog)

	h.logger.Debug("client tools registered", "client_id", req.ClientID, "tools", len(catalog))
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "tools_count": len(catalog)}, h.logger)
}
