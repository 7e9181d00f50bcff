// Package tools holds the name to handler registry the relay executes
// tools/call requests against.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
)

const logPrefix = "tools:registry"

// ErrUnknownTool is returned by Invoke for a name with no registered handler.
var ErrUnknownTool = errors.New("unknown tool")

// Handler executes one tool with its decoded arguments.
type Handler func(ctx context.Context, arguments map[string]interface{}) (interface{}, error)

// Info describes a registered tool as reported by tools/list.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// PanicError is returned by Invoke when a handler panics.
type PanicError struct {
	Tool  string
	Value interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("tool %s panicked: %v", e.Tool, e.Value)
}

type entry struct {
	info    Info
	handler Handler
}

// Registry is a concurrency-safe set of named tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]entry
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]entry)}
}

// Register adds a tool. Names must be unique and non-empty.
func (r *Registry) Register(name, description string, handler Handler) error {
	if name == "" {
		return fmt.Errorf("%s - tool name is required", logPrefix)
	}
	if handler == nil {
		return fmt.Errorf("%s - tool %s has no handler", logPrefix, name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("%s - tool %s already registered", logPrefix, name)
	}
	r.tools[name] = entry{info: Info{Name: name, Description: description}, handler: handler}
	return nil
}

// Unregister removes a tool if present.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Describe replaces the description of a registered tool.
func (r *Registry) Describe(name, description string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.tools[name]
	if !ok {
		return false
	}
	e.info.Description = description
	r.tools[name] = e
	return true
}

// Has reports whether a tool is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Invoke runs the named tool. A panicking handler is reported as *PanicError.
func (r *Registry) Invoke(ctx context.Context, name string, arguments map[string]interface{}) (result interface{}, err error) {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if arguments == nil {
		arguments = map[string]interface{}{}
	}

	defer func() {
		if v := recover(); v != nil {
			slog.Error(fmt.Sprintf("%s - Tool %s panicked: %v\n%s", logPrefix, name, v, debug.Stack()))
			result, err = nil, &PanicError{Tool: name, Value: v}
		}
	}()
	return e.handler(ctx, arguments)
}

// List returns the registered tools sorted by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.tools))
	for _, e := range r.tools {
		out = append(out, e.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
