package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name for journey metrics.
const meterName = "github.com/xraph/journey"

// Metrics returns middleware that records per-step execution metrics
// using the global OTel MeterProvider. If no MeterProvider is
// configured, noop instruments are used and this middleware becomes a
// pass-through.
//
// Instruments:
//   - journey.node.duration (Float64Histogram): step time in seconds,
//     with attributes: node_type, status ("ok" or "error")
//   - journey.node.executions (Int64Counter): total steps,
//     with attributes: node_type, status ("ok" or "error")
func Metrics() Middleware {
	meter := otel.Meter(meterName)
	return MetricsWithMeter(meter)
}

// MetricsWithMeter returns metrics middleware using the provided meter.
// This variant allows injecting a specific MeterProvider for testing.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// Create instruments once at middleware construction time. OTel
	// instruments are safe for concurrent use and fall back to noops
	// on error.
	duration, _ := meter.Float64Histogram(
		"journey.node.duration",
		metric.WithDescription("Duration of node step execution in seconds"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter(
		"journey.node.executions",
		metric.WithDescription("Total number of node step executions"),
		metric.WithUnit("{execution}"),
	)

	return func(ctx context.Context, step *Step, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}

		attrs := metric.WithAttributes(
			attribute.String("node_type", step.NodeType),
			attribute.String("status", status),
		)

		duration.Record(ctx, elapsed, attrs)
		executions.Add(ctx, 1, attrs)

		return err
	}
}
