package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "ticketforge"

// StartOutboundSpan starts a span for one logical call to a ticketing tool API.
func StartOutboundSpan(ctx context.Context, tool, method, path string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "outbound "+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("tool.type", tool),
			attribute.String("http.method", method),
			attribute.String("http.route", path),
		),
	)
}

// StartWebhookSpan starts a span for processing one inbound webhook.
func StartWebhookSpan(ctx context.Context, tool string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "webhook",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("tool.type", tool)),
	)
}
