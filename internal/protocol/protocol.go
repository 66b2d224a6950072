// Package protocol defines the typed event payloads of the AG-UI streaming
// protocol spoken over /api/agent.
//
// Every frame on that endpoint uses the SSE event name "message"; the
// payload carries a "type" discriminator from the closed set below. Ordering
// is significant: a run starts with RUN_STARTED and terminates with exactly
// one of RUN_FINISHED or RUN_ERROR, tool-call events form a
// START → ARGS → END triple sharing one toolCallId, and text-message events
// form START → CONTENT* → END sharing one messageId.
package protocol

// Envelope is the SSE event name carrying every typed payload.
const Envelope = "message"

// Payload type discriminators.
const (
	TypeRunStarted         = "RUN_STARTED"
	TypeRunFinished        = "RUN_FINISHED"
	TypeRunError           = "RUN_ERROR"
	TypeTextMessageStart   = "TEXT_MESSAGE_START"
	TypeTextMessageContent = "TEXT_MESSAGE_CONTENT"
	TypeTextMessageEnd     = "TEXT_MESSAGE_END"
	TypeToolCallStart      = "TOOL_CALL_START"
	TypeToolCallArgs       = "TOOL_CALL_ARGS"
	TypeToolCallEnd        = "TOOL_CALL_END"
	TypeCustom             = "CUSTOM"
)

// RunStarted is always the first event of a run. Input echoes the request
// payload so the client can reconcile its local state.
type RunStarted struct {
	Type        string `json:"type"`
	ThreadID    string `json:"threadId"`
	RunID       string `json:"runId"`
	ParentRunID string `json:"parentRunId,omitempty"`
	Input       any    `json:"input"`
}

// RunFinished terminates a successful run. Result carries observability
// metadata (fallback/error/selection source) or the awaiting-tool marker.
type RunFinished struct {
	Type     string `json:"type"`
	ThreadID string `json:"threadId"`
	RunID    string `json:"runId"`
	Result   any    `json:"result"`
}

// RunError terminates a failed run. Message is a curated string, never raw
// internal error text from a panic.
type RunError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// TextMessageStart opens an assistant text message.
type TextMessageStart struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
	Role      string `json:"role"`
}

// TextMessageContent carries one chunk of the message text. Concatenating
// deltas in emission order reconstructs the full text exactly.
type TextMessageContent struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
	Delta     string `json:"delta"`
}

// TextMessageEnd closes an assistant text message.
type TextMessageEnd struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
}

// ToolCallStart opens a tool-call announcement to the client.
type ToolCallStart struct {
	Type         string `json:"type"`
	ToolCallID   string `json:"toolCallId"`
	ToolCallName string `json:"toolCallName"`
}

// ToolCallArgs carries the call arguments as a JSON-encoded string delta.
type ToolCallArgs struct {
	Type       string `json:"type"`
	ToolCallID string `json:"toolCallId"`
	Delta      string `json:"delta"`
}

// ToolCallEnd closes a tool-call announcement.
type ToolCallEnd struct {
	Type       string `json:"type"`
	ToolCallID string `json:"toolCallId"`
}

// Custom is an informational side-channel event (e.g. the MockFallback
// notice emitted when the model gateway substituted a mock response).
type Custom struct {
	Type  string `json:"type"`
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// Event names of the simplified /api/chat/stream endpoint, which does not
// use the typed envelope above.
const (
	EventSessionStarted   = "session_started"
	EventClientToolsKnown = "client_tools_known"
	EventToolCall         = "tool_call"
	EventToolResult       = "tool_result"
	EventMessageDelta     = "message_delta"
	EventMessageCompleted = "message_completed"
	EventWarning          = "warning"
	EventError            = "error"
)
