package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Saga6569/agui-demo/internal/agent"
	"github.com/Saga6569/agui-demo/internal/log"
	"github.com/Saga6569/agui-demo/internal/run"
	"github.com/Saga6569/agui-demo/internal/tools"
)

// newTestServer builds the full handler stack with an offline (mocked)
// model gateway.
func newTestServer(t *testing.T, cfg ServerConfig) http.Handler {
	t.Helper()

	logger := log.NewNop()

	registry, err := tools.NewRegistry(logger)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	catalogs := tools.NewClientCatalogs()

	gateway := agent.NewGateway(context.Background(), agent.Config{
		ModelName: "gemini-2.5-flash",
		Timeout:   time.Second,
		Logger:    logger,
	})
	selector := agent.NewSelector(gateway, logger)

	orchestrator, err := run.New(run.Config{
		Registry:  registry,
		Selector:  selector,
		Generator: gateway,
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("run.New() error = %v", err)
	}

	cfg.Logger = logger
	cfg.Orchestrator = orchestrator
	cfg.Generator = gateway
	cfg.Registry = registry
	cfg.Catalogs = catalogs

	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	return srv.Handler()
}

// frame is one parsed SSE frame.
type frame struct {
	event string
	data  map[string]any
}

// parseSSE splits an SSE body into frames.
func parseSSE(t *testing.T, body string) []frame {
	t.Helper()

	var frames []frame
	for _, block := range strings.Split(strings.TrimSpace(body), "\n\n") {
		var f frame
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				f.event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				raw := strings.TrimPrefix(line, "data: ")
				if err := json.Unmarshal([]byte(raw), &f.data); err != nil {
					t.Fatalf("frame data %q is not JSON: %v", raw, err)
				}
			}
		}
		frames = append(frames, f)
	}
	return frames
}

func postJSON(t *testing.T, handler http.Handler, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshaling payload: %v", err)
	}
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	handler.ServeHTTP(w, r)
	return w
}

func decodeErrorEnvelope(t *testing.T, w *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()
	var envelope errorEnvelope
	if err := json.NewDecoder(w.Body).Decode(&envelope); err != nil {
		t.Fatalf("decoding error envelope: %v", err)
	}
	return envelope
}

func TestHealth(t *testing.T) {
	handler := newTestServer(t, ServerConfig{})

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want ok", body["status"])
	}
}

func TestToolsList(t *testing.T) {
	handler := newTestServer(t, ServerConfig{})

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tools", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("tools status = %d, want %d", w.Code, http.StatusOK)
	}

	var body struct {
		Tools []tools.Descriptor `json:"tools"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if len(body.Tools) == 0 || body.Tools[0].Name != tools.GetTimeName {
		t.Errorf("tools = %+v, want get_time first", body.Tools)
	}
}

func TestClientRegister(t *testing.T) {
	handler := newTestServer(t, ServerConfig{})

	w := postJSON(t, handler, "/api/client/register", map[string]any{
		"client_id": "web-1",
		"tools":     []map[string]any{{"name": "adjustCounter"}},
	})

	if w.Code != http.StatusOK {
		t.Fatalf("register status = %d, want %d", w.Code, http.StatusOK)
	}
	var body struct {
		Status     string `json:"status"`
		ToolsCount int    `json:"tools_count"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.Status != "ok" || body.ToolsCount != 1 {
		t.Errorf("body = %+v, want status=ok tools_count=1", body)
	}
}

func TestClientRegister_MissingID(t *testing.T) {
	handler := newTestServer(t, ServerConfig{})

	w := postJSON(t, handler, "/api/client/register", map[string]any{
		"tools": []map[string]any{},
	})

	if w.Code != http.StatusBadRequest {
		t.Fatalf("register status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if envelope := decodeErrorEnvelope(t, w); envelope.Code != "client_id_required" {
		t.Errorf("code = %q, want client_id_required", envelope.Code)
	}
}

func TestAgent_StreamsRun(t *testing.T) {
	handler := newTestServer(t, ServerConfig{})

	w := postJSON(t, handler, "/api/agent", map[string]any{
		"threadId": "t-1",
		"runId":    "r-1",
		"messages": []map[string]any{{"role": "user", "content": "привет, как дела?"}},
	})

	if w.Code != http.StatusOK {
		t.Fatalf("agent status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	frames := parseSSE(t, w.Body.String())
	if len(frames) < 3 {
		t.Fatalf("got %d frames, want at least RUN_STARTED, text events and RUN_FINISHED", len(frames))
	}
	for _, f := range frames {
		if f.event != "message" {
			t.Errorf("event name = %q, want message", f.event)
		}
	}

	if frames[0].data["type"] != "RUN_STARTED" {
		t.Errorf("first type = %v, want RUN_STARTED", frames[0].data["type"])
	}
	last := frames[len(frames)-1]
	if last.data["type"] != "RUN_FINISHED" {
		t.Fatalf("last type = %v, want RUN_FINISHED", last.data["type"])
	}

	result, ok := last.data["result"].(map[string]any)
	if !ok {
		t.Fatalf("result = %T", last.data["result"])
	}
	// Offline gateway always mocks.
	if result["mock"] != true {
		t.Errorf("result.mock = %v, want true", result["mock"])
	}

	var text strings.Builder
	for _, f := range frames {
		if f.data["type"] == "TEXT_MESSAGE_CONTENT" {
			text.WriteString(f.data["delta"].(string))
		}
	}
	if !strings.Contains(text.String(), "привет, как дела?") {
		t.Errorf("streamed text %q does not contain the user message", text.String())
	}
}

func TestAgent_InvalidPayload(t *testing.T) {
	handler := newTestServer(t, ServerConfig{})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/agent", strings.NewReader("{not json"))
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("agent status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if envelope := decodeErrorEnvelope(t, w); envelope.Code != "invalid_payload" {
		t.Errorf("code = %q, want invalid_payload", envelope.Code)
	}
}

func TestAgent_ClientToolDeferral(t *testing.T) {
	handler := newTestServer(t, ServerConfig{})

	w := postJSON(t, handler, "/api/agent", map[string]any{
		"messages": []map[string]any{{"role": "user", "content": "увеличь счётчик на 3"}},
		"tools":    []map[string]any{{"name": "adjustCounter"}},
	})

	frames := parseSSE(t, w.Body.String())
	var sawToolCall bool
	for _, f := range frames {
		if f.data["type"] == "TOOL_CALL_START" {
			sawToolCall = true
			if f.data["toolCallName"] != "adjustCounter" {
				t.Errorf("toolCallName = %v", f.data["toolCallName"])
			}
		}
		if f.data["type"] == "TEXT_MESSAGE_START" {
			t.Error("text message emitted during a client-tool deferral")
		}
	}
	if !sawToolCall {
		t.Fatal("no TOOL_CALL_START frame emitted")
	}

	last := frames[len(frames)-1]
	result := last.data["result"].(map[string]any)
	if result["awaiting_tool"] != true {
		t.Errorf("result = %v, want awaiting_tool=true", result)
	}
}

func TestChatStream_HappyPath(t *testing.T) {
	handler := newTestServer(t, ServerConfig{})

	w := postJSON(t, handler, "/api/chat/stream", map[string]any{"message": "расскажи анекдот"})

	if w.Code != http.StatusOK {
		t.Fatalf("chat status = %d, want %d", w.Code, http.StatusOK)
	}

	frames := parseSSE(t, w.Body.String())
	if frames[0].event != "session_started" {
		t.Errorf("first event = %q, want session_started", frames[0].event)
	}
	if frames[0].data["session_id"] == "" {
		t.Error("session_started without session_id")
	}

	// The offline gateway mocks, so a warning precedes the deltas.
	var sawWarning bool
	var text strings.Builder
	for _, f := range frames {
		switch f.event {
		case "warning":
			sawWarning = true
		case "message_delta":
			text.WriteString(f.data["delta"].(string))
		}
	}
	if !sawWarning {
		t.Error("no warning event for the mocked response")
	}

	last := frames[len(frames)-1]
	if last.event != "message_completed" {
		t.Fatalf("last event = %q, want message_completed", last.event)
	}
	if last.data["mock"] != true {
		t.Errorf("mock = %v, want true", last.data["mock"])
	}
	if last.data["message"] != text.String() {
		t.Errorf("deltas %q do not reassemble the completed message %q", text.String(), last.data["message"])
	}
}

func TestChatStream_MessageRequired(t *testing.T) {
	handler := newTestServer(t, ServerConfig{})

	w := postJSON(t, handler, "/api/chat/stream", map[string]any{"message": "   "})

	if w.Code != http.StatusBadRequest {
		t.Fatalf("chat status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if envelope := decodeErrorEnvelope(t, w); envelope.Code != "message_required" {
		t.Errorf("code = %q, want message_required", envelope.Code)
	}
}

func TestChatStream_ExplicitTool(t *testing.T) {
	handler := newTestServer(t, ServerConfig{})

	w := postJSON(t, handler, "/api/chat/stream", map[string]any{
		"message": "который час?",
		"tool":    map[string]any{"name": "get_time"},
	})

	frames := parseSSE(t, w.Body.String())
	var sawCall, sawResult bool
	for _, f := range frames {
		switch f.event {
		case "tool_call":
			sawCall = true
			if f.data["name"] != "get_time" {
				t.Errorf("tool_call name = %v", f.data["name"])
			}
		case "tool_result":
			sawResult = true
			if f.data["result"] == "" {
				t.Error("tool_result without result")
			}
		}
	}
	if !sawCall || !sawResult {
		t.Errorf("tool_call/tool_result = %v/%v, want both", sawCall, sawResult)
	}
}

func TestChatStream_UnknownToolEndsStream(t *testing.T) {
	handler := newTestServer(t, ServerConfig{})

	w := postJSON(t, handler, "/api/chat/stream", map[string]any{
		"message": "go",
		"tool":    map[string]any{"name": "teleport"},
	})

	frames := parseSSE(t, w.Body.String())
	last := frames[len(frames)-1]
	if last.event != "error" {
		t.Fatalf("last event = %q, want error", last.event)
	}
	if msg, _ := last.data["message"].(string); !strings.Contains(msg, "teleport") {
		t.Errorf("error message = %v, want the tool name in it", last.data["message"])
	}
	for _, f := range frames {
		if f.event == "message_completed" {
			t.Error("message_completed emitted after a tool error")
		}
	}
}

func TestChatStream_ReplaysRegisteredCatalog(t *testing.T) {
	handler := newTestServer(t, ServerConfig{})

	reg := postJSON(t, handler, "/api/client/register", map[string]any{
		"client_id": "web-7",
		"tools":     []map[string]any{{"name": "adjustCounter", "description": "Adjust the counter."}},
	})
	if reg.Code != http.StatusOK {
		t.Fatalf("register status = %d", reg.Code)
	}

	w := postJSON(t, handler, "/api/chat/stream", map[string]any{
		"message":   "привет",
		"client_id": "web-7",
	})

	frames := parseSSE(t, w.Body.String())
	var known *frame
	for i := range frames {
		if frames[i].event == "client_tools_known" {
			known = &frames[i]
		}
	}
	if known == nil {
		t.Fatal("no client_tools_known event for a registered client")
	}
	declared, ok := known.data["tools"].([]any)
	if !ok || len(declared) != 1 {
		t.Errorf("tools = %v, want the registered catalog", known.data["tools"])
	}
}
