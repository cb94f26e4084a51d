package bridge

import (
	"context"
	"sync"
)

// Handler performs the real backend call for one logical command.
type Handler func(ctx context.Context, params map[string]any) (any, error)

// Registry is the keyed table of real implementations. Commands without
// an entry go through the generic transport path instead.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds or replaces the handler for a logical command name.
func (r *Registry) Register(command string, handler Handler) {
	r.mu.Lock()
	r.handlers[command] = handler
	r.mu.Unlock()
}

// Has reports whether a real handler exists for command.
func (r *Registry) Has(command string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[command]
	return ok
}

// Lookup returns the handler for command, if any.
func (r *Registry) Lookup(command string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[command]
	return handler, ok
}
