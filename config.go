package journey

import "time"

// Config holds tunables for the workflow engine and event queue.
type Config struct {
	// MaxNodesPerWorkflow caps how many nodes a workflow definition may
	// contain.
	MaxNodesPerWorkflow int

	// MaxConcurrentPerCustomer caps how many executions (running or
	// scheduled) a single customer may have at once.
	MaxConcurrentPerCustomer int

	// ExecutionTimeout is the wall-clock budget for a single execution.
	// The check is cooperative, evaluated once per node step.
	ExecutionTimeout time.Duration

	// SweepBatchSize bounds how many due scheduled executions one sweep
	// promotes.
	SweepBatchSize int

	// QueueMaxAttempts is how many delivery attempts a queue entry gets
	// before it is dead-lettered.
	QueueMaxAttempts int

	// QueueInitialBackoff is the base delay for the queue's exponential
	// retry backoff (doubles each attempt).
	QueueInitialBackoff time.Duration

	// QueueRetention is how long processed and dead-lettered entries are
	// kept before Purge removes them.
	QueueRetention time.Duration

	// CacheTTL is how long workflow definitions stay in the cache.
	CacheTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxNodesPerWorkflow:      50,
		MaxConcurrentPerCustomer: 10,
		ExecutionTimeout:         300 * time.Second,
		SweepBatchSize:           100,
		QueueMaxAttempts:         5,
		QueueInitialBackoff:      30 * time.Second,
		QueueRetention:           7 * 24 * time.Hour,
		CacheTTL:                 5 * time.Minute,
	}
}
