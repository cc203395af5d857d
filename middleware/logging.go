package middleware

import (
	"context"
	"log/slog"
	"time"
)

// Logging returns middleware that logs node step start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, step *Step, next Handler) error {
		logger.Debug("node step started",
			slog.String("execution_id", step.ExecutionID.String()),
			slog.String("node_id", step.NodeID),
			slog.String("node_type", step.NodeType),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("node step failed",
				slog.String("execution_id", step.ExecutionID.String()),
				slog.String("node_id", step.NodeID),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Debug("node step completed",
				slog.String("execution_id", step.ExecutionID.String()),
				slog.String("node_id", step.NodeID),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
