// Package tools executes resolved tool calls: registry lookup,
// repetition guarding, output truncation, and the conversion of every
// outcome (success, failure, or intervention) into a tool-result
// message so a single tool failure can never crash the loop.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/yushui2022/easy-coding-agents/llm"
)

// Func is the execution signature for a tool. Tools are external
// collaborators; everything behind this seam is out of the core.
type Func func(ctx context.Context, args json.RawMessage) (string, error)

// Definition describes a tool. Interactive tools solicit a human
// decision and get a different repetition intervention.
type Definition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
	Interactive bool                   `json:"interactive,omitempty"`
}

// Registered pairs a definition with its executor.
type Registered struct {
	Definition Definition
	Func       Func
}

// Registry manages tool registration and lookup.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Registered
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Registered)}
}

// Register adds or replaces a tool.
func (r *Registry) Register(def Definition, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[def.Name] = &Registered{Definition: def, Func: fn}
}

// Get returns a registered tool by name, or nil.
func (r *Registry) Get(name string) *Registered {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Definitions returns llm definitions for every registered tool.
func (r *Registry) Definitions() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]llm.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, llm.ToolDefinition{
			Name:        t.Definition.Name,
			Description: t.Definition.Description,
			Parameters:  t.Definition.Parameters,
		})
	}
	return defs
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// ParseArgs unmarshals tool call arguments into a map.
func ParseArgs(raw json.RawMessage) (map[string]interface{}, error) {
	var args map[string]interface{}
	if len(raw) == 0 {
		return map[string]interface{}{}, nil
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid tool arguments: %w", err)
	}
	return args, nil
}

// StringArg extracts a string argument.
func StringArg(args map[string]interface{}, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// StringSliceArg extracts a list-of-strings argument.
func StringSliceArg(args map[string]interface{}, key string) ([]string, bool) {
	v, ok := args[key]
	if !ok {
		return nil, false
	}
	items, ok := v.([]interface{})
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		s, ok := it.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}
