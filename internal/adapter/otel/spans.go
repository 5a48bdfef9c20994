package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "promptdeck"

// StartEvaluateSpan starts a span for one experiment evaluation.
func StartEvaluateSpan(ctx context.Context, testID, promptName string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "evaluate",
		trace.WithAttributes(
			attribute.String("test.id", testID),
			attribute.String("prompt.name", promptName),
		),
	)
}

// StartPromoteSpan starts a span for the promotion of a winning version.
func StartPromoteSpan(ctx context.Context, testID, promptName, winner string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "promote",
		trace.WithAttributes(
			attribute.String("test.id", testID),
			attribute.String("prompt.name", promptName),
			attribute.String("test.winner", winner),
		),
	)
}

// StartResolveSpan starts a span for a variant resolution.
func StartResolveSpan(ctx context.Context, promptName, jobID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "resolve",
		trace.WithAttributes(
			attribute.String("prompt.name", promptName),
			attribute.String("job.id", jobID),
		),
	)
}
