package middleware

import (
	"context"
	"time"
)

// StepTimeout returns middleware that bounds a single node step with a
// context deadline. Zero disables the bound. This is separate from the
// engine's cooperative whole-execution timeout, which is checked once
// per step.
func StepTimeout(d time.Duration) Middleware {
	return func(ctx context.Context, step *Step, next Handler) error {
		if d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return next(ctx)
	}
}
