// Package store defines the aggregate persistence interface. Each
// subsystem (workflow, queue) defines its own store interface; the
// composite Store composes them all, so a single backend implements
// every persistence contract. Backends: Postgres and Memory.
package store

import (
	"context"

	"github.com/xraph/journey/queue"
	"github.com/xraph/journey/workflow"
)

// Store is the aggregate persistence interface. A single backend
// (postgres, memory) implements all subsystem contracts.
type Store interface {
	workflow.Store
	workflow.ExecutionStore
	queue.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
