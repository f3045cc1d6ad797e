package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "ticketforge"

// Metrics holds all TicketForge metric instruments.
type Metrics struct {
	OutboundAttempts        metric.Int64Counter
	OutboundRetries         metric.Int64Counter
	OutboundFailures        metric.Int64Counter
	OutboundDurationSeconds metric.Float64Histogram
	WebhookValidations      metric.Int64Counter
	AuditDropped            metric.Int64Counter
}

// NewMetrics creates all metric instruments against the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.OutboundAttempts, err = meter.Int64Counter("ticketforge.outbound.attempts",
		metric.WithDescription("HTTP attempts made against ticketing tool APIs"))
	if err != nil {
		return nil, err
	}

	m.OutboundRetries, err = meter.Int64Counter("ticketforge.outbound.retries",
		metric.WithDescription("Retries scheduled after transient failures"))
	if err != nil {
		return nil, err
	}

	m.OutboundFailures, err = meter.Int64Counter("ticketforge.outbound.failures",
		metric.WithDescription("Outbound calls that failed after classification"))
	if err != nil {
		return nil, err
	}

	m.OutboundDurationSeconds, err = meter.Float64Histogram("ticketforge.outbound.duration_seconds",
		metric.WithDescription("Wall-clock duration of a logical outbound call including retries"))
	if err != nil {
		return nil, err
	}

	m.WebhookValidations, err = meter.Int64Counter("ticketforge.webhook.validations",
		metric.WithDescription("Webhook signature validations by outcome"))
	if err != nil {
		return nil, err
	}

	m.AuditDropped, err = meter.Int64Counter("ticketforge.audit.dropped",
		metric.WithDescription("Audit events that could not be published"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// The recording methods below are safe on a nil *Metrics.

func (m *Metrics) OutboundAttempt(ctx context.Context, tool string) {
	if m == nil {
		return
	}
	m.OutboundAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("tool.type", tool)))
}

func (m *Metrics) OutboundRetry(ctx context.Context, tool string) {
	if m == nil {
		return
	}
	m.OutboundRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("tool.type", tool)))
}

func (m *Metrics) OutboundFailure(ctx context.Context, tool, kind string) {
	if m == nil {
		return
	}
	m.OutboundFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool.type", tool),
		attribute.String("error.kind", kind),
	))
}

// OutboundDuration records the wall-clock time of a logical call including retries.
func (m *Metrics) OutboundDuration(ctx context.Context, tool string, d time.Duration) {
	if m == nil {
		return
	}
	m.OutboundDurationSeconds.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("tool.type", tool)))
}

// WebhookValidation counts a signature validation by outcome.
func (m *Metrics) WebhookValidation(ctx context.Context, tool, outcome string) {
	if m == nil {
		return
	}
	m.WebhookValidations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool.type", tool),
		attribute.String("outcome", outcome),
	))
}

// ObserveLogDrops reports dropped() as the ticketforge.log.dropped counter
// on every collection.
func ObserveLogDrops(dropped func() int64) error {
	_, err := otel.Meter(meterName).Int64ObservableCounter("ticketforge.log.dropped",
		metric.WithDescription("Log records discarded because the async log buffer was full"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(dropped())
			return nil
		}),
	)
	return err
}
