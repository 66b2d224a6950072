package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Saga6569/agui-demo/internal/log"
	"github.com/Saga6569/agui-demo/internal/tools"
)

// ErrMalformedDirective indicates an inline directive line was present but
// could not be parsed. The cleaned message is still usable; the error is
// carried alongside it and surfaced later in the event stream.
var ErrMalformedDirective = errors.New("malformed server tool directive")

// DirectiveMarker is the reserved token that opens an inline directive line:
//
//	[server_tool] <name> args=<json>
const DirectiveMarker = "[server_tool]"

// Kind says where a selected tool runs.
type Kind string

const (
	// KindFrontend marks a tool the client executes in its own environment.
	KindFrontend Kind = "frontend"

	// KindBackend marks a tool executed on the server via the registry.
	KindBackend Kind = "backend"
)

// Selection names a tool to invoke and its arguments.
type Selection struct {
	Kind Kind
	Name string
	Args map[string]any
}

// Source records which strategy produced the selection. Reported in the
// terminal result payload for observability.
type Source string

const (
	SourceNone       Source = "none"
	SourceServerTool Source = "server_tool"
	SourceModel      Source = "model"
	SourceHeuristic  Source = "heuristic"
)

// ModelChooser is the model-driven selection capability. Implemented by
// Gateway; nil or a nil-returning implementation means "no model selection"
// and lets the keyword heuristic run.
type ModelChooser interface {
	SelectTool(ctx context.Context, userMessage string, clientTools, serverTools []tools.Descriptor) *Selection
}

// Selector decides which tool (if any) should run for a user message.
// Strategies apply in strict priority order: inline directive, model-driven
// selection, keyword heuristic. First match wins.
type Selector struct {
	model  ModelChooser
	logger log.Logger
}

// NewSelector creates a selector. model may be nil.
func NewSelector(model ModelChooser, logger log.Logger) *Selector {
	return &Selector{model: model, logger: logger}
}

// Outcome is the result of one selection pass.
type Outcome struct {
	// Cleaned is the user message with any directive line removed.
	Cleaned string

	// Selection is the chosen tool, nil when the message proceeds to plain
	// text generation.
	Selection *Selection

	// Source records the winning strategy.
	Source Source

	// DirectiveErr is set when a directive line was present but malformed.
	// Selection is skipped in that case.
	DirectiveErr error
}

// Select runs the three strategies against the raw user message.
// haveToolResult marks a tool result already attached to the incoming
// message: the directive line is still stripped, but no new tool is
// selected. The existing result is consumed directly.
func (s *Selector) Select(ctx context.Context, message string, clientTools, serverTools []tools.Descriptor, haveToolResult bool) Outcome {
	cleaned, directive, err := ParseDirective(message)
	out := Outcome{Cleaned: cleaned, Source: SourceNone}

	if err != nil {
		s.logger.Warn("malformed inline directive", "error", err)
		out.DirectiveErr = err
		return out
	}
	if haveToolResult {
		return out
	}

	if directive != nil {
		out.Selection = directive
		out.Source = SourceServerTool
		return out
	}

	if s.model != nil {
		if sel := s.model.SelectTool(ctx, cleaned, clientTools, serverTools); sel != nil {
			out.Selection = sel
			out.Source = SourceModel
			return out
		}
	}

	if sel := heuristicSelect(cleaned, clientTools); sel != nil {
		out.Selection = sel
		out.Source = SourceHeuristic
	}
	return out
}

// defaultCleanedMessage substitutes for a message that consisted only of the
// directive line.
const defaultCleanedMessage = "Use the tool result."

// ParseDirective scans the message line by line for an inline directive,
// removes it, and parses the tool name and optional args=<json> from it.
// A parse failure returns ErrMalformedDirective together with the cleaned
// message; cleaning always succeeds.
func ParseDirective(message string) (cleaned string, sel *Selection, err error) {
	var directiveLine string
	kept := make([]string, 0, 4)

	for _, line := range strings.Split(message, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), DirectiveMarker) {
			directiveLine = strings.TrimSpace(line)
		} else {
			kept = append(kept, line)
		}
	}

	cleaned = strings.TrimSpace(strings.Join(kept, "\n"))
	if cleaned == "" {
		cleaned = defaultCleanedMessage
	}
	if directiveLine == "" {
		return cleaned, nil, nil
	}

	rest := strings.TrimSpace(strings.TrimPrefix(directiveLine, DirectiveMarker))

	namePart, argsPart, found := strings.Cut(rest, " args=")
	if !found {
		argsPart = "{}"
	}

	fields := strings.Fields(namePart)
	if len(fields) == 0 {
		return cleaned, nil, fmt.Errorf("%w: missing tool name", ErrMalformedDirective)
	}
	name := fields[0]

	args := map[string]any{}
	if strings.TrimSpace(argsPart) != "" {
		if jsonErr := json.Unmarshal([]byte(argsPart), &args); jsonErr != nil {
			return cleaned, nil, fmt.Errorf("%w: %v", ErrMalformedDirective, jsonErr)
		}
	}

	return cleaned, &Selection{Kind: KindBackend, Name: name, Args: args}, nil
}

// firstIntPattern matches the first integer-looking substring of a message,
// used as the counter adjustment magnitude.
var firstIntPattern = regexp.MustCompile(`-?\d+`)

// counterToolName is the client tool the increase/decrease heuristic targets.
const counterToolName = "adjustCounter"

// Keyword lists for the fixed heuristic. Russian stems cover the inflected
// forms the demo frontend produces.
var (
	timeKeywords     = []string{"время", "сколько времени", "time"}
	increaseKeywords = []string{"увелич", "increase"}
	decreaseKeywords = []string{"уменьш", "сниз", "убав", "decrease"}
)

// heuristicSelect applies fixed keyword matching against the lower-cased
// message. Time wording selects the server clock tool; increase/decrease
// wording selects the client counter tool when the client declared one.
func heuristicSelect(message string, clientTools []tools.Descriptor) *Selection {
	lowered := strings.ToLower(message)

	if containsAny(lowered, timeKeywords) {
		return &Selection{Kind: KindBackend, Name: tools.GetTimeName, Args: map[string]any{}}
	}

	if !declaresTool(clientTools, counterToolName) {
		return nil
	}

	switch {
	case containsAny(lowered, increaseKeywords):
		return &Selection{Kind: KindFrontend, Name: counterToolName,
			Args: map[string]any{"delta": firstInt(lowered)}}
	case containsAny(lowered, decreaseKeywords):
		return &Selection{Kind: KindFrontend, Name: counterToolName,
			Args: map[string]any{"delta": -firstInt(lowered)}}
	}

	return nil
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

func declaresTool(catalog []tools.Descriptor, name string) bool {
	for _, d := range catalog {
		if d.Name == name {
			return true
		}
	}
	return false
}

// firstInt extracts the magnitude of the first integer in the message,
// defaulting to 1. Sign is decided by the caller from the wording.
func firstInt(s string) int {
	match := firstIntPattern.FindString(s)
	if match == "" {
		return 1
	}
	n, err := strconv.Atoi(match)
	if err != nil {
		return 1
	}
	if n < 0 {
		return -n
	}
	return n
}
