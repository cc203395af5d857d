package provider

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/journey"
)

// checkConcurrency bounds how many TestConnection calls CheckAll runs
// in parallel.
const checkConcurrency = 4

// Registry maps provider codes to registered providers. It is the
// explicit registration table populated once at startup. Safe for
// concurrent use.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider under the given code. Registering a code
// twice is rejected.
func (r *Registry) Register(code string, p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[code]; exists {
		return fmt.Errorf("provider: code %q already registered", code)
	}
	r.providers[code] = p
	return nil
}

// Get returns the provider registered under code.
func (r *Registry) Get(code string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[code]
	if !ok {
		return nil, &journey.NotFoundError{Kind: "provider", ID: code}
	}
	return p, nil
}

// Codes returns all registered provider codes.
func (r *Registry) Codes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	codes := make([]string, 0, len(r.providers))
	for code := range r.providers {
		codes = append(codes, code)
	}
	return codes
}

// CheckAll runs TestConnection for every registered provider with
// bounded parallelism and returns the failures keyed by provider code.
// An empty map means every provider is healthy.
func (r *Registry) CheckAll(ctx context.Context) map[string]error {
	r.mu.RLock()
	snapshot := make(map[string]Provider, len(r.providers))
	for code, p := range r.providers {
		snapshot[code] = p
	}
	r.mu.RUnlock()

	var mu sync.Mutex
	failures := make(map[string]error)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(checkConcurrency)

	for code, p := range snapshot {
		g.Go(func() error {
			if err := p.TestConnection(gctx); err != nil {
				mu.Lock()
				failures[code] = err
				mu.Unlock()
			}
			return nil // health failures are collected, never abort the sweep
		})
	}
	_ = g.Wait() // goroutines only return nil

	return failures
}
