package node

import (
	"fmt"
	"sync"

	"github.com/xraph/journey"
	"github.com/xraph/journey/provider"
	"github.com/xraph/journey/workflow"
)

// Factory constructs a fresh handler instance for one node step.
type Factory func() Handler

// Registry maps node type tags to handler factories. It is the explicit
// registration table populated once at startup. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory for the given type tag. Registering a tag
// twice is a programming error and is rejected.
func (r *Registry) Register(typeTag string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[typeTag]; exists {
		return fmt.Errorf("node: type %q already registered", typeTag)
	}
	r.factories[typeTag] = f
	return nil
}

// New constructs a fresh handler for the given type tag.
func (r *Registry) New(typeTag string) (Handler, error) {
	r.mu.RLock()
	f, ok := r.factories[typeTag]
	r.mu.RUnlock()
	if !ok {
		return nil, &journey.NotFoundError{Kind: "node type", ID: typeTag}
	}
	return f(), nil
}

// Types returns all registered type tags.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	return types
}

// Has reports whether the type tag is registered.
func (r *Registry) Has(typeTag string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[typeTag]
	return ok
}

// DefaultRegistry returns a registry with the built-in handler kinds:
// trigger, action (bound to the given provider registry), delay, and
// condition.
func DefaultRegistry(providers *provider.Registry) *Registry {
	r := NewRegistry()
	// Registering built-ins into a fresh registry cannot collide.
	_ = r.Register(workflow.NodeTypeTrigger, func() Handler { return NewTrigger() })
	_ = r.Register(workflow.NodeTypeAction, func() Handler { return NewAction(providers) })
	_ = r.Register(workflow.NodeTypeDelay, func() Handler { return NewDelay() })
	_ = r.Register(workflow.NodeTypeCondition, func() Handler { return NewCondition() })
	return r
}
