// Package run implements the per-request orchestrator of the agent endpoint:
// it parses the incoming run payload, drives tool selection, invokes server
// tools or defers to the client, asks the model gateway for the final text,
// and emits the resulting AG-UI event sequence in order.
//
// A run always emits RUN_STARTED first and always terminates in exactly one
// of RUN_FINISHED or RUN_ERROR. Failures after RUN_STARTED, including
// panics, are converted into a terminal RUN_ERROR frame so the stream
// closes well-formed.
package run

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/Saga6569/agui-demo/internal/agent"
	"github.com/Saga6569/agui-demo/internal/log"
	"github.com/Saga6569/agui-demo/internal/protocol"
	"github.com/Saga6569/agui-demo/internal/tools"
)

// Message is one entry of the conversation history sent by the client.
type Message struct {
	ID         string `json:"id,omitempty"`
	Role       string `json:"role"`
	Content    string `json:"content"`
	ToolCallID string `json:"toolCallId,omitempty"`
}

// Input is the run payload posted to /api/agent. State, Context and
// ForwardedProps are opaque to the orchestrator and echoed back verbatim in
// the RUN_STARTED input; Messages and Tools are the fields it acts on.
type Input struct {
	ThreadID       string             `json:"threadId,omitempty"`
	RunID          string             `json:"runId,omitempty"`
	ParentRunID    string             `json:"parentRunId,omitempty"`
	State          json.RawMessage    `json:"state,omitempty"`
	Messages       []Message          `json:"messages"`
	Tools          []tools.Descriptor `json:"tools"`
	Context        json.RawMessage    `json:"context,omitempty"`
	ForwardedProps json.RawMessage    `json:"forwardedProps,omitempty"`
}

// Emitter consumes the ordered event stream of one run. Implementations
// must deliver events in call order without buffering across events.
type Emitter interface {
	Emit(event string, payload any) error
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(event string, payload any) error

// Emit calls f.
func (f EmitterFunc) Emit(event string, payload any) error {
	return f(event, payload)
}

// Generator is the text-generation capability of the model gateway.
type Generator interface {
	GenerateText(ctx context.Context, userMessage, toolResult string) agent.Response
}

// DefaultChunkSize is the text streaming chunk size in runes.
const DefaultChunkSize = 72

// defaultUserPrompt substitutes for history without a user message.
const defaultUserPrompt = "Compose a response for the user."

// Error codes carried by terminal RUN_ERROR frames.
const (
	CodeToolError          = "tool_error"
	CodeMalformedDirective = "malformed_directive"
	CodeInternalError      = "internal_error"
)

// Config contains required parameters for the Orchestrator.
type Config struct {
	Registry  *tools.Registry
	Selector  *agent.Selector
	Generator Generator
	ChunkSize int // runes per TEXT_MESSAGE_CONTENT delta; 0 uses DefaultChunkSize
	Logger    log.Logger
}

// Orchestrator executes runs. Stateless across requests; safe for
// concurrent use.
type Orchestrator struct {
	registry  *tools.Registry
	selector  *agent.Selector
	generator Generator
	chunkSize int
	logger    log.Logger
}

// New creates an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Registry == nil {
		return nil, errors.New("tool registry is required")
	}
	if cfg.Selector == nil {
		return nil, errors.New("tool selector is required")
	}
	if cfg.Generator == nil {
		return nil, errors.New("text generator is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger is required")
	}

	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	return &Orchestrator{
		registry:  cfg.Registry,
		selector:  cfg.Selector,
		generator: cfg.Generator,
		chunkSize: chunkSize,
		logger:    cfg.Logger,
	}, nil
}

// runResult is the RUN_FINISHED result payload of a completed text turn.
type runResult struct {
	Mock            bool         `json:"mock"`
	Error           *string      `json:"error"`
	SelectionSource agent.Source `json:"selection_source"`
}

// awaitingResult is the RUN_FINISHED result payload of a client-tool
// deferral: the client executes the tool and resubmits with the result.
type awaitingResult struct {
	AwaitingTool    bool         `json:"awaiting_tool"`
	ToolCallID      string       `json:"toolCallId"`
	ToolCallName    string       `json:"toolCallName"`
	SelectionSource agent.Source `json:"selection_source"`
}

// startedInput echoes the request payload inside RUN_STARTED.
type startedInput struct {
	ThreadID       string             `json:"threadId"`
	RunID          string             `json:"runId"`
	ParentRunID    string             `json:"parentRunId,omitempty"`
	State          json.RawMessage    `json:"state"`
	Messages       []Message          `json:"messages"`
	Tools          []tools.Descriptor `json:"tools"`
	Context        json.RawMessage    `json:"context"`
	ForwardedProps json.RawMessage    `json:"forwardedProps"`
}

// Run executes one request and emits its event sequence. The returned error
// reports transport failures only (client gone); protocol-level failures
// terminate the stream with RUN_ERROR and return nil.
func (o *Orchestrator) Run(ctx context.Context, in *Input, em Emitter) (err error) {
	threadID := orNewID(in.ThreadID)
	runID := orNewID(in.RunID)

	started := protocol.RunStarted{
		Type:        protocol.TypeRunStarted,
		ThreadID:    threadID,
		RunID:       runID,
		ParentRunID: in.ParentRunID,
		Input: startedInput{
			ThreadID:       threadID,
			RunID:          runID,
			ParentRunID:    in.ParentRunID,
			State:          orRaw(in.State, "{}"),
			Messages:       messagesOrEmpty(in.Messages),
			Tools:          toolsOrEmpty(in.Tools),
			Context:        orRaw(in.Context, "[]"),
			ForwardedProps: orRaw(in.ForwardedProps, "{}"),
		},
	}
	if err := em.Emit(protocol.Envelope, started); err != nil {
		return fmt.Errorf("emitting RUN_STARTED: %w", err)
	}

	// After RUN_STARTED the stream must terminate well-formed even if the
	// body panics: convert into RUN_ERROR with a curated message.
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("run panicked", "panic", r, "runId", runID)
			err = em.Emit(protocol.Envelope, protocol.RunError{
				Type:    protocol.TypeRunError,
				Message: "internal error",
				Code:    CodeInternalError,
			})
		}
	}()

	return o.stream(ctx, in, em, threadID, runID)
}

func (o *Orchestrator) stream(ctx context.Context, in *Input, em Emitter, threadID, runID string) error {
	toolResult, haveToolResult := latestContent(in.Messages, "tool")
	userMessage, haveUser := latestContent(in.Messages, "user")
	if !haveUser || userMessage == "" {
		userMessage = defaultUserPrompt
	}

	outcome := o.selector.Select(ctx, userMessage, in.Tools, o.registry.List(), haveToolResult)

	var toolErr error
	toolErrCode := CodeToolError
	if outcome.DirectiveErr != nil {
		toolErr = outcome.DirectiveErr
		toolErrCode = CodeMalformedDirective
	}

	var freshResult string
	if sel := outcome.Selection; sel != nil && toolErr == nil {
		switch sel.Kind {
		case agent.KindFrontend:
			return o.deferToClient(em, threadID, runID, sel, outcome.Source)
		case agent.KindBackend:
			result, invokeErr := o.registry.Invoke(ctx, sel.Name, sel.Args)
			if invokeErr != nil {
				o.logger.Warn("server tool failed", "tool", sel.Name, "error", invokeErr)
				toolErr = invokeErr
			} else {
				freshResult = result
			}
		}
	}

	// Exactly one of: direct response from an attached tool result, or a
	// gateway call (with any fresh tool result as context).
	var resp agent.Response
	if haveToolResult {
		resp = agent.Response{Text: fmt.Sprintf("Tool result: %s", toolResult)}
	} else {
		resp = o.generator.GenerateText(ctx, outcome.Cleaned, freshResult)
	}

	if err := o.streamText(em, resp.Text); err != nil {
		return err
	}

	if toolErr != nil {
		return em.Emit(protocol.Envelope, protocol.RunError{
			Type:    protocol.TypeRunError,
			Message: toolErr.Error(),
			Code:    toolErrCode,
		})
	}

	if resp.UsedFallback && resp.Err != "" {
		custom := protocol.Custom{
			Type:  protocol.TypeCustom,
			Name:  "MockFallback",
			Value: map[string]string{"error": resp.Err},
		}
		if err := em.Emit(protocol.Envelope, custom); err != nil {
			return err
		}
	}

	result := runResult{Mock: resp.UsedFallback, SelectionSource: outcome.Source}
	if resp.Err != "" {
		result.Error = &resp.Err
	}

	o.logger.Debug("run finished",
		"runId", runID,
		"threadId", threadID,
		"mock", resp.UsedFallback,
		"selection_source", outcome.Source,
	)

	return em.Emit(protocol.Envelope, protocol.RunFinished{
		Type:     protocol.TypeRunFinished,
		ThreadID: threadID,
		RunID:    runID,
		Result:   result,
	})
}

// deferToClient announces a frontend tool call and finishes the run without
// a text response; the client executes the tool and resubmits.
func (o *Orchestrator) deferToClient(em Emitter, threadID, runID string, sel *agent.Selection, source agent.Source) error {
	toolCallID := uuid.NewString()

	argsJSON, err := json.Marshal(sel.Args)
	if err != nil {
		argsJSON = []byte("{}")
	}

	events := []any{
		protocol.ToolCallStart{Type: protocol.TypeToolCallStart, ToolCallID: toolCallID, ToolCallName: sel.Name},
		protocol.ToolCallArgs{Type: protocol.TypeToolCallArgs, ToolCallID: toolCallID, Delta: string(argsJSON)},
		protocol.ToolCallEnd{Type: protocol.TypeToolCallEnd, ToolCallID: toolCallID},
		protocol.RunFinished{
			Type:     protocol.TypeRunFinished,
			ThreadID: threadID,
			RunID:    runID,
			Result: awaitingResult{
				AwaitingTool:    true,
				ToolCallID:      toolCallID,
				ToolCallName:    sel.Name,
				SelectionSource: source,
			},
		},
	}

	o.logger.Debug("deferring to client tool", "tool", sel.Name, "toolCallId", toolCallID, "runId", runID)

	for _, payload := range events {
		if err := em.Emit(protocol.Envelope, payload); err != nil {
			return err
		}
	}
	return nil
}

// streamText emits the assistant message as a START / CONTENT* / END
// sequence, chunked so the transport can deliver it incrementally.
func (o *Orchestrator) streamText(em Emitter, text string) error {
	messageID := uuid.NewString()

	start := protocol.TextMessageStart{Type: protocol.TypeTextMessageStart, MessageID: messageID, Role: "assistant"}
	if err := em.Emit(protocol.Envelope, start); err != nil {
		return err
	}

	for _, chunk := range ChunkText(text, o.chunkSize) {
		content := protocol.TextMessageContent{Type: protocol.TypeTextMessageContent, MessageID: messageID, Delta: chunk}
		if err := em.Emit(protocol.Envelope, content); err != nil {
			return err
		}
	}

	return em.Emit(protocol.Envelope, protocol.TextMessageEnd{Type: protocol.TypeTextMessageEnd, MessageID: messageID})
}

// ChunkText splits text into fixed-size rune chunks whose in-order
// concatenation reproduces the input exactly.
func ChunkText(text string, size int) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	chunks := make([]string, 0, (len(runes)+size-1)/size)
	for start := 0; start < len(runes); start += size {
		end := min(start+size, len(runes))
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

// latestContent scans the history in reverse for the most recent message
// with the given role.
func latestContent(messages []Message, role string) (string, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == role {
			return messages[i].Content, true
		}
	}
	return "", false
}

func orNewID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

func orRaw(raw json.RawMessage, fallback string) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(fallback)
	}
	return raw
}

func messagesOrEmpty(ms []Message) []Message {
	if ms == nil {
		return []Message{}
	}
	return ms
}

func toolsOrEmpty(ts []tools.Descriptor) []tools.Descriptor {
	if ts == nil {
		return []tools.Descriptor{}
	}
	return ts
}
