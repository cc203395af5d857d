package node

import (
	"context"
	"time"

	"github.com/xraph/journey/workflow"
)

// Outcome is what a handler's execution body produces. The lifecycle
// driver normalizes it into a [workflow.NodeResult].
type Outcome struct {
	// Success reports whether the node did its work. A false Success
	// stops traversal and fails the execution.
	Success bool

	// Output is merged into the execution context on success. Branching
	// handlers communicate their chosen successor through the
	// workflow.OutputKeySelectedNext key.
	Output map[string]any

	// Error carries the failure message when Success is false.
	Error string

	// Meta carries diagnostic detail that is recorded but not merged
	// into the execution context.
	Meta map[string]any

	// Suspend asks the engine to park traversal for the given duration
	// before the next node. Delay handlers set this; the engine persists
	// the continuation and the scheduler sweep resumes it.
	Suspend time.Duration
}

// Handler is one node kind. Implementations must be cheap to construct:
// the engine creates a fresh instance per node step via the Registry.
type Handler interface {
	// Type returns the node type tag this handler serves.
	Type() string

	// Schema declares the config fields the lifecycle driver validates
	// before Execute runs.
	Schema() []Field

	// Execute runs the node against the execution context. Returning an
	// error is equivalent to an unsuccessful Outcome; prefer the Outcome
	// for business failures and the error for infrastructure ones.
	Execute(ctx context.Context, n *workflow.Node, execCtx map[string]any) (*Outcome, error)
}

// ConfigValidator is the optional handler-specific validation hook, run
// after the schema check passes.
type ConfigValidator interface {
	ValidateConfig(cfg map[string]any) error
}

// Result pairs the normalized envelope with the traversal control
// signals the engine consumes.
type Result struct {
	workflow.NodeResult

	// Suspend mirrors Outcome.Suspend for successful delay nodes.
	Suspend time.Duration
}

// SelectedNext returns the successor a branching handler chose, if any.
func (r *Result) SelectedNext() (string, bool) {
	sel, ok := r.Output[workflow.OutputKeySelectedNext].(string)
	return sel, ok && sel != ""
}
