package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "formpilot"

// StartEventSpan starts a span for one session event being applied.
func StartEventSpan(ctx context.Context, sessionID, eventID, eventType string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "session.event",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("event.id", eventID),
			attribute.String("event.type", eventType),
		),
	)
}

// StartCapabilitySpan starts a span for an AI capability call, covering
// all retry attempts.
func StartCapabilitySpan(ctx context.Context, capability string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "ai.capability",
		trace.WithAttributes(
			attribute.String("ai.capability", capability)),
	)
}
