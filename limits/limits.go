// Package limits provides per-customer admission control for workflow
// executions: a concurrency cap plus an optional token-bucket rate
// limit. The engine acquires a slot when an execution enters an active
// state and releases it when the execution reaches a terminal state.
package limits

import (
	"sync"

	"golang.org/x/time/rate"
)

// Config defines the admission limits applied to a single customer.
type Config struct {
	// MaxConcurrent limits how many executions a customer may have in
	// an active (scheduled or running) state at once. Zero means no
	// concurrency limit.
	MaxConcurrent int

	// RateLimit is the maximum sustained execution starts per second.
	// Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// customerState tracks runtime admission state for one customer.
type customerState struct {
	config  Config
	limiter *rate.Limiter
	active  int
}

// Manager controls per-customer execution admission. It is safe for
// concurrent use.
type Manager struct {
	mu        sync.Mutex
	defaults  Config
	customers map[string]*customerState
}

// NewManager creates a Manager applying the given default limits to
// every customer. Per-customer overrides are set with SetCustomerConfig.
func NewManager(defaults Config) *Manager {
	return &Manager{
		defaults:  defaults,
		customers: make(map[string]*customerState),
	}
}

func newCustomerState(cfg Config) *customerState {
	cs := &customerState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		cs.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return cs
}

// Acquire checks the rate and concurrency limits for the customer. If
// admission is granted it increments the active counter and returns
// true. The caller MUST call Release when the execution reaches a
// terminal state.
func (m *Manager) Acquire(customerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	cs := m.state(customerID)
	if cs.limiter != nil && !cs.limiter.Allow() {
		return false
	}
	if cs.config.MaxConcurrent > 0 && cs.active >= cs.config.MaxConcurrent {
		return false
	}
	cs.active++
	return true
}

// Release decrements the customer's active execution count.
func (m *Manager) Release(customerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cs := m.customers[customerID]; cs != nil && cs.active > 0 {
		cs.active--
	}
}

// SetCustomerConfig overrides the default limits for one customer. The
// current active count is preserved when reconfiguring.
func (m *Manager) SetCustomerConfig(customerID string, cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cs := newCustomerState(cfg)
	if existing := m.customers[customerID]; existing != nil {
		cs.active = existing.active
	}
	m.customers[customerID] = cs
}

// ActiveCount returns the customer's current active execution count.
func (m *Manager) ActiveCount(customerID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cs := m.customers[customerID]; cs != nil {
		return cs.active
	}
	return 0
}

// MaxConcurrent returns the concurrency cap in effect for the customer.
func (m *Manager) MaxConcurrent(customerID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state(customerID).config.MaxConcurrent
}

// state returns the customer's admission state, creating it from the
// defaults on first use. Callers must hold mu.
func (m *Manager) state(customerID string) *customerState {
	cs := m.customers[customerID]
	if cs == nil {
		cs = newCustomerState(m.defaults)
		m.customers[customerID] = cs
	}
	return cs
}
