// Package tools implements the registry of data operations the
// analysis agent may dispatch. Every handler is a pure function of
// (frame, validated parameters); handlers perform no I/O and never
// call the LLM.
package tools

import (
	"fmt"

	"github.com/datalens-dev/datalens/pkg/dataset"
)

// Result is the outcome of one tool application. Frame is nil for
// read-only tools; Summary carries counts and computed values, never
// raw rows.
type Result struct {
	Frame   *dataset.Frame
	Summary map[string]any
}

// Mutating reports whether the tool produced a new working frame.
func (r *Result) Mutating() bool { return r.Frame != nil }

// Handler is one registered tool.
type Handler interface {
	// Name is the tool identifier exposed to the LLM.
	Name() string
	// Description tells the LLM what the tool does.
	Description() string
	// Schema is the JSON Schema for the tool's parameters.
	Schema() map[string]any
	// Apply executes the tool against a frame.
	Apply(f *dataset.Frame, params map[string]any) (*Result, error)
}

// Definition is the provider-facing function definition of a tool.
type Definition struct {
	Name        string
	Description string
	Schema      map[string]any
}

// Registry maps tool names to handlers. The set of tools is closed at
// construction; the LLM can only select from what was registered.
type Registry struct {
	order    []string
	handlers map[string]Handler
}

// NewRegistry creates a registry with the built-in tool set.
func NewRegistry() *Registry {
	r := &Registry{handlers: make(map[string]Handler)}
	for _, h := range []Handler{
		&filterTool{},
		&rangeFilterTool{},
		&aggregateTool{},
		&pivotTool{},
		&transformTool{},
		&calcColumnTool{},
		&describeTool{},
		&valueCountsTool{},
		&summarizeTool{},
	} {
		r.register(h)
	}
	return r
}

func (r *Registry) register(h Handler) {
	if _, exists := r.handlers[h.Name()]; !exists {
		r.order = append(r.order, h.Name())
	}
	r.handlers[h.Name()] = h
}

// Get returns a handler by name.
func (r *Registry) Get(name string) (Handler, error) {
	h, ok := r.handlers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	return h, nil
}

// Definitions lists all tools in registration order, for building the
// provider request.
func (r *Registry) Definitions() []Definition {
	defs := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		h := r.handlers[name]
		defs = append(defs, Definition{
			Name:        h.Name(),
			Description: h.Description(),
			Schema:      h.Schema(),
		})
	}
	return defs
}

// Dispatch validates parameters against the tool's schema and applies
// the handler. The input frame is never modified.
func (r *Registry) Dispatch(f *dataset.Frame, name string, params map[string]any) (*Result, error) {
	h, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	if err := validateParams(h.Schema(), params); err != nil {
		return nil, err
	}
	return h.Apply(f, params)
}
