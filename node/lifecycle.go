package node

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/xraph/journey/workflow"
)

// Runner drives the shared validate→execute→normalize lifecycle for one
// handler instance. It rejects re-entrant execution of the same instance
// and always clears the executing flag on exit.
type Runner struct {
	h         Handler
	executing atomic.Bool
	clock     func() time.Time
}

// NewRunner wraps a handler instance in a lifecycle runner.
func NewRunner(h Handler) *Runner {
	return &Runner{h: h, clock: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the runner's time source. Used in tests.
func (r *Runner) WithClock(clock func() time.Time) *Runner {
	r.clock = clock
	return r
}

// Run executes the full node lifecycle and always returns a normalized
// Result — validation failures, execution errors and panics all surface
// as an unsuccessful Result rather than a Go error.
func (r *Runner) Run(ctx context.Context, n *workflow.Node, execCtx map[string]any) *Result {
	start := r.clock()

	if !r.executing.CompareAndSwap(false, true) {
		return r.failure(n, start, "handler already executing")
	}
	defer r.executing.Store(false)

	// Schema-driven validation: collect every violation, not just the first.
	if verr := ValidateConfig(r.h.Schema(), n.Config); verr != nil {
		return r.failure(n, start, verr.Error())
	}

	// Optional handler-specific hook.
	if cv, ok := r.h.(ConfigValidator); ok {
		if err := cv.ValidateConfig(n.Config); err != nil {
			return r.failure(n, start, err.Error())
		}
	}

	outcome, err := r.execute(ctx, n, execCtx)
	if err != nil {
		return r.failure(n, start, err.Error())
	}
	if outcome == nil {
		return r.failure(n, start, "handler returned no outcome")
	}

	res := &Result{
		NodeResult: workflow.NodeResult{
			Success:       outcome.Success,
			NodeID:        n.ID,
			NodeType:      n.Type,
			ExecutionTime: r.clock().Sub(start),
			Timestamp:     r.clock(),
			Output:        outcome.Output,
			Error:         outcome.Error,
			Meta:          outcome.Meta,
		},
		Suspend: outcome.Suspend,
	}
	if !outcome.Success && res.Error == "" {
		res.Error = "node execution failed"
	}
	return res
}

// execute invokes the handler body, converting panics into errors so a
// misbehaving handler fails its execution instead of the engine process.
func (r *Runner) execute(ctx context.Context, n *workflow.Node, execCtx map[string]any) (outcome *Outcome, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			outcome = nil
			err = fmt.Errorf("panic in %s node %q: %v", n.Type, n.ID, rec)
		}
	}()
	return r.h.Execute(ctx, n, execCtx)
}

func (r *Runner) failure(n *workflow.Node, start time.Time, msg string) *Result {
	return &Result{
		NodeResult: workflow.NodeResult{
			Success:       false,
			NodeID:        n.ID,
			NodeType:      n.Type,
			ExecutionTime: r.clock().Sub(start),
			Timestamp:     r.clock(),
			Error:         msg,
		},
	}
}
