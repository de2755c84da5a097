package engine

import (
	"fmt"

	"github.com/ponderengine/core/internal/event"
)

// Handler is user indexing code bound to one Source name. It receives a
// borrowed Context and the Event it's reacting to.
type Handler func(c *Context, ev event.Event) error

// Registry dispatches events to handlers by interned name: one handler per
// declared Source name.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a handler to a Source/handler name. Registering the same
// name twice is a programming error.
func (r *Registry) Register(name string, h Handler) error {
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("engine: handler %q already registered", name)
	}
	r.handlers[name] = h
	return nil
}

func (r *Registry) lookup(name string) (Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}
