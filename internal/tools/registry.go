// Package tools implements the tool registry and dispatcher agents act
// through. Every capability an agent has is a registered Tool with a declared
// parameter schema, a side-effect classification, and the workflow gate rule
// (if any) that must allow it. Schemas are checked at registration, parameters
// at dispatch; a failing tool is contained, never a panic.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/fieldworkhq/fieldwork/internal/workflow"
)

// SideEffect classifies what a tool does to the world under audit.
type SideEffect string

const (
	ReadOnly SideEffect = "read_only"
	Mutating SideEffect = "mutating"
)

// ParamSpec declares one parameter: its wire type and whether it is required.
type ParamSpec struct {
	Type        string // "string", "number" or "bool"
	Required    bool
	Description string
}

// ParamSchema maps parameter names to their specs.
type ParamSchema map[string]ParamSpec

// Tool is a single agent capability. RequiredGate returns the workflow rule
// that must allow the call; the zero value means the tool is ungated.
type Tool interface {
	Name() string
	Description() string
	Schema() ParamSchema
	Effect() SideEffect
	RequiredGate() workflow.GateRule
	Execute(ctx context.Context, params map[string]any) (any, error)
}

// Registry holds an agent's tool set and dispatches calls against it.
type Registry struct {
	logger *zap.Logger

	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger: logger.Named("tools"),
		tools:  make(map[string]Tool),
	}
}

// Register adds a tool. Duplicate names and malformed schemas are rejected
// here so dispatch never has to re-validate the registration.
func (r *Registry) Register(tool Tool) error {
	name := tool.Name()
	if name == "" {
		return fmt.Errorf("tool has no name")
	}
	for param, spec := range tool.Schema() {
		switch spec.Type {
		case "string", "number", "bool":
		default:
			return fmt.Errorf("tool %s: parameter %s has unsupported type %q", name, param, spec.Type)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool already registered: %s", name)
	}
	r.tools[name] = tool
	r.logger.Debug("Tool registered", zap.String("tool", name), zap.String("effect", string(tool.Effect())))
	return nil
}

// Get returns a registered tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns the registered tools sorted by name, for prompt assembly.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		out = append(out, tool)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Validate checks a call against the tool's schema without executing it.
func (r *Registry) Validate(name string, params map[string]any) error {
	tool, ok := r.Get(name)
	if !ok {
		return &ToolNotFoundError{Tool: name}
	}

	schema := tool.Schema()
	for param, spec := range schema {
		value, present := params[param]
		if !present {
			if spec.Required {
				return &InvalidParametersError{Tool: name, Param: param, Reason: "required parameter missing"}
			}
			continue
		}
		if !typeMatches(spec.Type, value) {
			return &InvalidParametersError{
				Tool:   name,
				Param:  param,
				Reason: fmt.Sprintf("expected %s, got %T", spec.Type, value),
			}
		}
	}
	for param := range params {
		if _, known := schema[param]; !known {
			return &InvalidParametersError{Tool: name, Param: param, Reason: "unknown parameter"}
		}
	}
	return nil
}

// Execute validates and runs a tool call. Any failure, including a panic in
// the tool itself, comes back as a ToolExecutionError.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any) (result any, err error) {
	tool, ok := r.Get(name)
	if !ok {
		return nil, &ToolNotFoundError{Tool: name}
	}
	if err := r.Validate(name, params); err != nil {
		return nil, err
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Tool panicked", zap.String("tool", name), zap.Any("panic", rec))
			result = nil
			err = &ToolExecutionError{Tool: name, Cause: fmt.Errorf("panic: %v", rec)}
		}
	}()

	result, err = tool.Execute(ctx, params)
	if err != nil {
		return nil, &ToolExecutionError{Tool: name, Cause: err}
	}
	return result, nil
}

// typeMatches accepts the JSON decodings a parameter type can arrive as.
func typeMatches(declared string, value any) bool {
	switch declared {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		switch value.(type) {
		case float64, float32, int, int64:
			return true
		}
		return false
	case "bool":
		_, ok := value.(bool)
		return ok
	}
	return false
}

// StringParam extracts an optional string parameter.
func StringParam(params map[string]any, name string) string {
	if v, ok := params[name].(string); ok {
		return v
	}
	return ""
}

// BoolParam extracts an optional bool parameter.
func BoolParam(params map[string]any, name string) bool {
	v, _ := params[name].(bool)
	return v
}

// funcTool adapts a function into a Tool. All builtins use it.
type funcTool struct {
	name   string
	desc   string
	schema ParamSchema
	effect SideEffect
	gate   workflow.GateRule
	run    func(ctx context.Context, params map[string]any) (any, error)
}

func (t *funcTool) Name() string                    { return t.name }
func (t *funcTool) Description() string             { return t.desc }
func (t *funcTool) Schema() ParamSchema             { return t.schema }
func (t *funcTool) Effect() SideEffect              { return t.effect }
func (t *funcTool) RequiredGate() workflow.GateRule { return t.gate }
func (t *funcTool) Execute(ctx context.Context, params map[string]any) (any, error) {
	return t.run(ctx, params)
}
