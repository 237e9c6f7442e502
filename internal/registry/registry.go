// Package registry resolves capability names to handlers.
// The registry is an explicit object passed by reference; there is no
// ambient process-wide handler state.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// HandlerNotFoundError indicates no handler is registered for a capability.
type HandlerNotFoundError struct {
	Capability string
}

func (e *HandlerNotFoundError) Error() string {
	return fmt.Sprintf("no handler registered for capability %q", e.Capability)
}

// Handler executes a task's payload. Implementations are opaque to the
// engine: it only ever sees the capability name and the input/output
// payloads. Handlers must honor context cancellation; they are assumed not
// to share memory with the engine's own state.
type Handler interface {
	// Name returns the capability name this handler serves.
	Name() string
	// Execute runs the handler with the given input payload.
	Execute(ctx context.Context, input map[string]any) (map[string]any, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc struct {
	name string
	fn   func(ctx context.Context, input map[string]any) (map[string]any, error)
}

// Func creates a Handler from a function.
func Func(name string, fn func(ctx context.Context, input map[string]any) (map[string]any, error)) *HandlerFunc {
	return &HandlerFunc{name: name, fn: fn}
}

// Name returns the capability name.
func (h *HandlerFunc) Name() string { return h.name }

// Execute invokes the wrapped function.
func (h *HandlerFunc) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	return h.fn(ctx, input)
}

// Registry provides thread-safe registration and lookup of handlers by
// capability name.
type Registry struct {
	// handlers maps capability name to handler.
	handlers map[string]Handler
	// mu protects handlers.
	mu sync.RWMutex
}

// New creates a new empty Registry.
func New() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler under its capability name.
// Registering the same name twice replaces the previous handler.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Name()] = h
}

// Lookup returns the handler for a capability name.
// Fails with HandlerNotFoundError if none is registered.
func (r *Registry) Lookup(capability string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[capability]
	if !ok {
		return nil, &HandlerNotFoundError{Capability: capability}
	}
	return h, nil
}

// Capabilities returns the sorted names of all registered handlers.
func (r *Registry) Capabilities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered handlers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}
