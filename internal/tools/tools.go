// Package tools provides the server-side tool registry and the per-client
// catalog of frontend-declared tools.
//
// The registry is process-wide and read-only after startup: tools are
// registered at construction time and there is no mutation API. Client
// catalogs are a mutex-guarded map with single-key replace semantics
// (last registration wins).
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/Saga6569/agui-demo/internal/log"
)

// ErrUnknownTool indicates an invocation with a name that is not registered.
var ErrUnknownTool = errors.New("unknown tool")

// GetTimeName is the name of the built-in clock tool.
const GetTimeName = "get_time"

// Descriptor describes a tool to the frontend and to the model's tool
// selection prompt. Immutable once declared.
type Descriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// Handler executes a tool with already-decoded JSON arguments and returns a
// plain-text result for the model (or the client) to consume.
type Handler func(ctx context.Context, args map[string]any) (string, error)

type tool struct {
	desc Descriptor
	run  Handler
}

// Registry holds the server-side tool catalog.
// Safe for concurrent use: read-only after NewRegistry returns.
type Registry struct {
	order  []string
	byName map[string]tool
	logger log.Logger
}

// GetTimeInput defines input for the get_time tool (none needed).
type GetTimeInput struct{}

// NewRegistry creates the process-wide registry with all built-in tools.
func NewRegistry(logger log.Logger) (*Registry, error) {
	r := &Registry{
		byName: make(map[string]tool),
		logger: logger,
	}

	timeSchema, err := schemaFor[GetTimeInput]()
	if err != nil {
		return nil, fmt.Errorf("schema for %s: %w", GetTimeName, err)
	}
	r.register(Descriptor{
		Name:        GetTimeName,
		Description: "Return the current time in UTC.",
		InputSchema: timeSchema,
	}, func(_ context.Context, _ map[string]any) (string, error) {
		return time.Now().UTC().Format(time.RFC3339), nil
	})

	logger.Debug("tool registry initialized", "tools", len(r.order))
	return r, nil
}

// register adds a tool. Only called during construction.
func (r *Registry) register(desc Descriptor, run Handler) {
	r.order = append(r.order, desc.Name)
	r.byName[desc.Name] = tool{desc: desc, run: run}
}

// List returns all registered tool descriptors in registration order.
func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name].desc)
	}
	return out
}

// Invoke runs the named tool. Returns ErrUnknownTool when the name is not
// registered; any other error comes from the tool itself.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	t, ok := r.byName[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}

	result, err := t.run(ctx, args)
	if err != nil {
		return "", fmt.Errorf("tool %s: %w", name, err)
	}

	r.logger.Debug("tool invoked", "tool", name)
	return result, nil
}

// schemaFor generates a JSON schema for the tool input type and returns it
// as raw JSON suitable for a Descriptor.
func schemaFor[In any]() (json.RawMessage, error) {
	schema, err := jsonschema.For[In](nil)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshaling schema: %w", err)
	}
	return raw, nil
}

// ClientCatalogs stores tool catalogs declared by frontend clients, keyed by
// client identifier. Writes are whole-key replacements, so a plain RWMutex
// suffices; per-request reads see a consistent snapshot.
type ClientCatalogs struct {
	mu       sync.RWMutex
	byClient map[string][]Descriptor
}

// NewClientCatalogs creates an empty catalog store.
func NewClientCatalogs() *ClientCatalogs {
	return &ClientCatalogs{byClient: make(map[string][]Descriptor)}
}

// Replace stores the catalog for a client, replacing any previous one.
func (c *ClientCatalogs) Replace(clientID string, catalog []Descriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byClient[clientID] = catalog
}

// Lookup returns the catalog registered for a client, if any.
func (c *ClientCatalogs) Lookup(clientID string) ([]Descriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	catalog, ok := c.byClient[clientID]
	return catalog, ok
}
