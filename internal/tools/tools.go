package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// Tool represents a callable operation exposed to the model.
type Tool struct {
	Name        string                                                                    `json:"name"`
	Description string                                                                    `json:"description"`
	Parameters  map[string]any                                                            `json:"parameters"`
	Handler     func(ctx context.Context, userID string, args json.RawMessage) (any, error) `json:"-"`
}

// Registry is the fixed catalog of task-management tools. Handlers
// receive the invoking user's id from Execute; the model neither
// supplies nor controls it; that binding is the primary security
// boundary of this subsystem.
type Registry struct {
	tools map[string]*Tool
}

// NewRegistry creates the task tool registry over the given task store.
func NewRegistry(tasks TaskAPI) *Registry {
	r := &Registry{tools: make(map[string]*Tool)}
	registerTaskTools(r, tasks)
	return r
}

// register adds a tool to the registry.
func (r *Registry) register(t *Tool) {
	r.tools[t.Name] = t
}

// Get retrieves a tool by name, or nil.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// Schemas returns all tool schemas in the shape the chat-completions
// protocol expects, in stable name order.
func (r *Registry) Schemas() []map[string]any {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	result := make([]map[string]any, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return result
}

// Execute runs a tool by name with the caller's user id bound in.
// The raw argument payload is validated by the tool before anything
// touches the task store. The returned payload is the JSON result for
// the model; err carries the taxonomy from errors.go.
func (r *Registry) Execute(ctx context.Context, userID, name string, args json.RawMessage) (json.RawMessage, error) {
	tool := r.tools[name]
	if tool == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}

	out, err := tool.Handler(ctx, userID, args)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal %s result: %w", name, err)
	}
	return data, nil
}
