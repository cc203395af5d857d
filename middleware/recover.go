package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
)

// Recover returns middleware that recovers from panics in the handler
// chain. Panics are converted to errors and logged with a stack trace.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, step *Step, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("node step panicked",
					slog.String("execution_id", step.ExecutionID.String()),
					slog.String("node_id", step.NodeID),
					slog.String("node_type", step.NodeType),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				retErr = fmt.Errorf("panic in node %s: %v", step.NodeID, r)
			}
		}()
		return next(ctx)
	}
}
