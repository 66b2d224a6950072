// Package agent bridges the chat backend to the language model and decides,
// per request, whether a tool should run instead of (or before) plain text
// generation.
//
// The Gateway wraps genkit with the Google AI plugin. It is constructed
// without a genkit instance when no credential is configured; in that mode
// every call degrades to a deterministic, clearly labeled mock response.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"

	"github.com/Saga6569/agui-demo/internal/log"
	"github.com/Saga6569/agui-demo/internal/tools"
)

// Sentinel errors of the model gateway.
var (
	// ErrUnavailable indicates no model credential/backend is configured.
	ErrUnavailable = errors.New("model backend unavailable")

	// ErrTimeout indicates the model call exceeded its deadline.
	ErrTimeout = errors.New("model call timed out")

	// ErrProvider indicates the underlying model call failed.
	ErrProvider = errors.New("model provider error")
)

const (
	systemPrompt = "You are a demo assistant. Answer briefly and to the point. " +
		"If the context contains a tool result, use it."

	selectorSystemPrompt = "You choose a tool for the user's task. " +
		"Return only JSON, no explanations."
)

// Response is the outcome of one text generation request. Err carries the
// recorded underlying error string when the fallback was used because of a
// detected failure (empty when the backend simply is not configured).
type Response struct {
	Text         string
	UsedFallback bool
	Err          string
}

// Config contains required parameters for the Gateway.
type Config struct {
	ModelName     string        // unqualified model name, e.g. "gemini-2.5-flash"
	Timeout       time.Duration // model call deadline; 0 uses DefaultTimeout
	HasCredential bool          // false disables the backend entirely
	Logger        log.Logger
}

// DefaultTimeout bounds a model call when Config.Timeout is zero.
const DefaultTimeout = 45 * time.Second

// Gateway wraps the "produce text" and "produce a tool choice" capabilities
// of the model. Safe for concurrent use: read-only after construction.
type Gateway struct {
	g         *genkit.Genkit // nil = no credential configured
	modelName string
	timeout   time.Duration
	logger    log.Logger
}

// NewGateway creates a gateway. When cfg.HasCredential is false the genkit
// instance is not initialized and all calls take the fallback path.
func NewGateway(ctx context.Context, cfg Config) *Gateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	modelName := cfg.ModelName
	if !strings.Contains(modelName, "/") {
		modelName = "googleai/" + modelName
	}

	var g *genkit.Genkit
	if cfg.HasCredential {
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		cfg.Logger.Info("model gateway initialized", "model", modelName)
	} else {
		cfg.Logger.Warn("no model credential configured, responses will be mocked")
	}

	return &Gateway{
		g:         g,
		modelName: modelName,
		timeout:   timeout,
		logger:    cfg.Logger,
	}
}

// generate performs one bounded model call.
func (gw *Gateway) generate(ctx context.Context, system, prompt string) (string, error) {
	if gw.g == nil {
		return "", ErrUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, gw.timeout)
	defer cancel()

	resp, err := genkit.Generate(ctx, gw.g,
		ai.WithModelName(gw.modelName),
		ai.WithSystem(system),
		// The prompt embeds user text; "%s" keeps stray verbs from being
		// interpreted as format directives.
		ai.WithPrompt("%s", prompt),
	)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", ErrTimeout
		}
		return "", fmt.Errorf("%w: %v", ErrProvider, err)
	}

	return resp.Text(), nil
}

// GenerateText produces the final natural-language answer. Unavailable,
// timeout and provider failures are always recovered locally into a mock
// response; this method never fails.
func (gw *Gateway) GenerateText(ctx context.Context, userMessage, toolResult string) Response {
	text, err := gw.generate(ctx, systemPrompt, buildPrompt(userMessage, toolResult))

	switch {
	case err == nil:
		return Response{Text: text}
	case errors.Is(err, ErrUnavailable):
		return Response{Text: mockText(userMessage, toolResult), UsedFallback: true}
	case errors.Is(err, ErrTimeout):
		gw.logger.Warn("model call timed out", "timeout", gw.timeout)
		return Response{Text: mockText(userMessage, toolResult), UsedFallback: true, Err: "timeout"}
	default:
		gw.logger.Warn("model call failed, using mock response", "error", err)
		return Response{Text: mockText(userMessage, toolResult), UsedFallback: true, Err: err.Error()}
	}
}

// SelectTool asks the model to choose a tool from the two catalogs. Returns
// nil when the backend is unconfigured, the call fails, or the response does
// not parse into a valid selection; callers fall through to the heuristic.
func (gw *Gateway) SelectTool(ctx context.Context, userMessage string, clientTools, serverTools []tools.Descriptor) *Selection {
	if gw.g == nil {
		return nil
	}

	prompt, err := buildSelectorPrompt(userMessage, clientTools, serverTools)
	if err != nil {
		gw.logger.Warn("building tool selection prompt", "error", err)
		return nil
	}

	raw, err := gw.generate(ctx, selectorSystemPrompt, prompt)
	if err != nil {
		gw.logger.Debug("tool selection call failed", "error", err)
		return nil
	}

	sel := parseSelection(raw)
	if sel == nil {
		gw.logger.Debug("model returned no usable tool selection")
	}
	return sel
}

func buildPrompt(userMessage, toolResult string) string {
	if toolResult != "" {
		return fmt.Sprintf("Tool result: %s\n\nUser message: %s", toolResult, userMessage)
	}
	return userMessage
}

func buildSelectorPrompt(userMessage string, clientTools, serverTools []tools.Descriptor) (string, error) {
	frontend, err := json.Marshal(descriptorsOrEmpty(clientTools))
	if err != nil {
		return "", fmt.Errorf("marshaling client catalog: %w", err)
	}
	backend, err := json.Marshal(descriptorsOrEmpty(serverTools))
	if err != nil {
		return "", fmt.Errorf("marshaling server catalog: %w", err)
	}

	return fmt.Sprintf(
		"Available tools:\nfrontend: %s\nbackend: %s\n\nUser message:\n%s\n\n"+
			`Return JSON strictly of the form: {"type":"frontend|backend|null","name":string|null,"args":object}`+"\n"+
			`If no tool is needed, return {"type":"null","name":null,"args":{}}`,
		frontend, backend, userMessage), nil
}

func descriptorsOrEmpty(ds []tools.Descriptor) []tools.Descriptor {
	if ds == nil {
		return []tools.Descriptor{}
	}
	return ds
}

// mockText builds the deterministic fallback response.
func mockText(userMessage, toolResult string) string {
	if toolResult != "" {
		return fmt.Sprintf("MOCK: Using the tool result. Here is what I got: %s. The user asked: %s",
			toolResult, userMessage)
	}
	return fmt.Sprintf("MOCK: Response to the user message: %s", userMessage)
}

// parseSelection extracts a tool selection from the raw model output. The
// JSON object is located by scanning for the first '{' and the last '}'.
// Anything that does not match the expected shape yields nil; malformed
// args degrade to an empty object instead of failing.
func parseSelection(raw string) *Selection {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end <= start {
		return nil
	}

	var choice struct {
		Type string          `json:"type"`
		Name string          `json:"name"`
		Args json.RawMessage `json:"args"`
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &choice); err != nil {
		return nil
	}

	var kind Kind
	switch choice.Type {
	case string(KindFrontend):
		kind = KindFrontend
	case string(KindBackend):
		kind = KindBackend
	default:
		return nil
	}
	if choice.Name == "" {
		return nil
	}

	args := map[string]any{}
	if len(choice.Args) > 0 {
		if err := json.Unmarshal(choice.Args, &args); err != nil {
			args = map[string]any{}
		}
	}

	return &Selection{Kind: kind, Name: choice.Name, Args: args}
}
