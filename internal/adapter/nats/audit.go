package nats

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	tfotel "github.com/Strob0t/TicketForge/internal/adapter/otel"
	"github.com/Strob0t/TicketForge/internal/domain/webhook"
	"github.com/Strob0t/TicketForge/internal/logger"
	"github.com/Strob0t/TicketForge/internal/port/audit"
	"github.com/Strob0t/TicketForge/internal/port/messagequeue"
	"github.com/Strob0t/TicketForge/internal/resilience"
)

// AuditPublisher emits audit events onto audit.{action} subjects. Publishing
// runs behind a circuit breaker; failures are logged and counted, never
// propagated to the caller.
type AuditPublisher struct {
	queue   messagequeue.Queue
	breaker *resilience.Breaker
	metrics *tfotel.Metrics
}

var _ audit.Emitter = (*AuditPublisher)(nil)

// NewAuditPublisher wraps queue with the given breaker. metrics may be nil.
func NewAuditPublisher(queue messagequeue.Queue, breaker *resilience.Breaker, metrics *tfotel.Metrics) *AuditPublisher {
	return &AuditPublisher{queue: queue, breaker: breaker, metrics: metrics}
}

// Emit publishes ev. Events that were not stamped get an ID and the
// context's request ID.
func (p *AuditPublisher) Emit(ctx context.Context, ev webhook.AuditEvent) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.RequestID == "" {
		ev.RequestID = logger.RequestID(ctx)
	}

	data, err := json.Marshal(ev)
	if err != nil {
		p.drop(ctx, ev, err)
		return
	}

	subject := messagequeue.AuditSubject(string(ev.Action))
	err = p.breaker.Execute(func() error {
		return p.queue.Publish(ctx, subject, data)
	})
	if err != nil {
		p.drop(ctx, ev, err)
	}
}

func (p *AuditPublisher) drop(ctx context.Context, ev webhook.AuditEvent, err error) {
	slog.WarnContext(ctx, "audit event dropped", "action", ev.Action, "tool_type", ev.ToolType, "error", err)
	if p.metrics != nil {
		p.metrics.AuditDropped.Add(ctx, 1)
	}
}
