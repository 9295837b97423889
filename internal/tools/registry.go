// Package tools provides the server-side tool executor registry.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// ExecutorFunc defines a server-side tool executor.
type ExecutorFunc func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

// Registry stores tool executors keyed by tool name. Registration happens
// at process start; execution is read-only.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]ExecutorFunc
}

// NewRegistry creates an empty tool executor registry.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[string]ExecutorFunc),
	}
}

// Register adds a new executor for a tool name.
func (r *Registry) Register(toolName string, exec ExecutorFunc) error {
	if toolName == "" {
		return fmt.Errorf("tool name is required")
	}
	if exec == nil {
		return fmt.Errorf("executor is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.executors[toolName]; exists {
		return fmt.Errorf("executor already registered for %s", toolName)
	}
	r.executors[toolName] = exec
	return nil
}

// MustRegister adds an executor or panics. Intended for startup wiring.
func (r *Registry) MustRegister(toolName string, exec ExecutorFunc) {
	if err := r.Register(toolName, exec); err != nil {
		panic(err)
	}
}

// Has reports whether an executor is registered for the tool name.
func (r *Registry) Has(toolName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.executors[toolName]
	return ok
}

// Scope returns a view of the registry restricted to the given tool names.
// Every name must already be registered; an undeclared tool is a startup
// error.
func (r *Registry) Scope(allowed []string) (*Scoped, error) {
	set := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		if !r.Has(name) {
			return nil, fmt.Errorf("tool %s is not registered", name)
		}
		set[name] = true
	}
	return &Scoped{registry: r, allowed: set}, nil
}

func (r *Registry) execute(ctx context.Context, toolName string, args json.RawMessage) (json.RawMessage, error) {
	if toolName == "" {
		return nil, fmt.Errorf("tool name is required")
	}
	r.mu.RLock()
	exec := r.executors[toolName]
	r.mu.RUnlock()
	if exec == nil {
		return nil, fmt.Errorf("no executor registered for %s", toolName)
	}
	return exec(ctx, args)
}

// Scoped is a handler-facing view limited to its declared tool set.
type Scoped struct {
	registry *Registry
	allowed  map[string]bool
}

// Execute runs the executor for the tool name if it is within scope.
func (s *Scoped) Execute(ctx context.Context, toolName string, args json.RawMessage) (json.RawMessage, error) {
	if !s.allowed[toolName] {
		return nil, fmt.Errorf("tool %s is not allowed for this handler", toolName)
	}
	return s.registry.execute(ctx, toolName, args)
}

// Names returns the tool names within scope.
func (s *Scoped) Names() []string {
	names := make([]string, 0, len(s.allowed))
	for name := range s.allowed {
		names = append(names, name)
	}
	return names
}
