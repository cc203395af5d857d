package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for journey tracing.
const tracerName = "github.com/xraph/journey"

// Tracing returns middleware that wraps each node step in an
// OpenTelemetry span. If no TracerProvider is configured globally, the
// default noop tracer is used and this middleware becomes a
// pass-through with zero overhead.
//
// Span attributes include: journey.execution.id, journey.workflow.id,
// journey.node.id, journey.node.type, journey.customer.id. On error the
// span status is set to codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided
// tracer. This variant allows injecting a specific TracerProvider for
// testing or when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, step *Step, next Handler) error {
		ctx, span := tracer.Start(ctx, "journey.node.execute",
			trace.WithAttributes(
				attribute.String("journey.execution.id", step.ExecutionID.String()),
				attribute.String("journey.workflow.id", step.WorkflowID.String()),
				attribute.String("journey.node.id", step.NodeID),
				attribute.String("journey.node.type", step.NodeType),
				attribute.String("journey.customer.id", step.CustomerID),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
