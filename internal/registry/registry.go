// Package registry holds the set of available domain handlers and their
// routing metadata. Registration happens once at process start; the
// registry is read-only thereafter, so no lock is needed on the read
// path.
package registry

import (
	"context"
	"fmt"

	"github.com/corale/relay/internal/domain"
)

// Handler is the executable behind a capability. It owns the prompt,
// output schema and bounded tool set for one domain.
type Handler interface {
	Execute(ctx context.Context, req domain.Request) (*domain.HandlerResult, error)
}

// Registry maps capability names to handlers, preserving registration
// order for deterministic routing tie-breaks.
type Registry struct {
	order    []string
	caps     map[string]domain.Capability
	handlers map[string]Handler
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		caps:     make(map[string]domain.Capability),
		handlers: make(map[string]Handler),
	}
}

// Register adds a capability and its handler. Disabled capabilities are
// silently skipped. Registering a name twice is a startup error.
func (r *Registry) Register(cap domain.Capability, h Handler) error {
	if cap.Name == "" {
		return fmt.Errorf("capability name is required")
	}
	if h == nil {
		return fmt.Errorf("handler is required for %s", cap.Name)
	}
	if !cap.Enabled {
		return nil
	}
	if _, exists := r.caps[cap.Name]; exists {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateCapability, cap.Name)
	}
	r.order = append(r.order, cap.Name)
	r.caps[cap.Name] = cap
	r.handlers[cap.Name] = h
	return nil
}

// Get returns the handler for a capability name.
func (r *Registry) Get(name string) (Handler, error) {
	h, ok := r.handlers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownCapability, name)
	}
	return h, nil
}

// Has reports whether a capability is registered (and therefore enabled).
func (r *Registry) Has(name string) bool {
	_, ok := r.caps[name]
	return ok
}

// All returns the registered capabilities in registration order.
func (r *Registry) All() []domain.Capability {
	caps := make([]domain.Capability, 0, len(r.order))
	for _, name := range r.order {
		caps = append(caps, r.caps[name])
	}
	return caps
}
