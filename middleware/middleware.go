// Package middleware provides composable middleware around node step
// execution. Middleware wraps each step synchronously and can modify it
// (recover from panics, log, enforce deadlines, record metrics, add
// tracing).
package middleware

import (
	"context"

	"github.com/xraph/journey/id"
)

// Step describes the node step being executed, for middleware that
// logs or labels by position in the workflow.
type Step struct {
	ExecutionID id.ExecutionID
	WorkflowID  id.WorkflowID
	CustomerID  string
	NodeID      string
	NodeType    string
}

// Handler is the terminal function that executes the node step.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic. It receives the
// current context, the step being executed, and the next handler to
// call. Middleware MUST call next to continue the chain (unless
// short-circuiting on error).
type Middleware func(ctx context.Context, step *Step, next Handler) error

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
//
// Example: Chain(logging, recovery, metrics) executes as:
//
//	logging → recovery → metrics → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, step *Step, next Handler) error {
		// Build the chain from the end backwards.
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, step, prev)
			}
		}
		return h(ctx)
	}
}
