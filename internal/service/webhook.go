// Package service holds the application use cases behind the HTTP and CLI
// surfaces: webhook intake and plugin administration.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/TicketForge/internal/domain/ticket"
	"github.com/Strob0t/TicketForge/internal/domain/webhook"
	"github.com/Strob0t/TicketForge/internal/logger"
	"github.com/Strob0t/TicketForge/internal/port/audit"
	"github.com/Strob0t/TicketForge/internal/port/messagequeue"
	"github.com/Strob0t/TicketForge/internal/port/ticketplugin"
)

// ErrUnauthorized is returned when a webhook fails authentication. The
// cause is logged and audited by the verifier, never returned.
var ErrUnauthorized = errors.New("unauthorized")

// WebhookService accepts inbound ticket webhooks: it authenticates them
// through the tool's plugin, normalizes the payload, and hands the metadata
// to the downstream workflow.
type WebhookService struct {
	registry *ticketplugin.Registry
	queue    messagequeue.Queue
	audit    audit.Emitter
	now      func() time.Time
}

// NewWebhookService creates a webhook service. queue may be nil, in which
// case accepted metadata is only returned to the caller.
func NewWebhookService(registry *ticketplugin.Registry, queue messagequeue.Queue, emitter audit.Emitter) *WebhookService {
	if emitter == nil {
		emitter = audit.Nop{}
	}
	return &WebhookService{registry: registry, queue: queue, audit: emitter, now: time.Now}
}

// Receive authenticates and normalizes a webhook for toolType. It returns a
// *ticketplugin.PluginNotFoundError for unknown tools, ErrUnauthorized for
// failed authentication, and an error wrapping domain.ErrValidation for
// payloads that cannot be parsed.
func (s *WebhookService) Receive(ctx context.Context, toolType string, body []byte, signature string) (*ticket.Metadata, error) {
	p, err := s.registry.Get(toolType)
	if err != nil {
		return nil, err
	}
	ctx = logger.WithWebhook(ctx, toolType, "")

	ok, err := p.ValidateWebhook(ctx, ticketplugin.WebhookRequest{Body: body, Signature: signature})
	if err != nil {
		return nil, fmt.Errorf("validate %s webhook: %w", toolType, err)
	}
	if !ok {
		return nil, ErrUnauthorized
	}

	md, err := p.ExtractMetadata(body)
	if err != nil {
		return nil, fmt.Errorf("extract %s metadata: %w", toolType, err)
	}
	ctx = logger.WithWebhook(ctx, "", md.TenantID)

	s.publish(ctx, toolType, md)
	s.audit.Emit(ctx, audit.Stamp(ctx, s.now(), webhook.AuditEvent{
		Action:   webhook.AuditWebhookAccepted,
		ToolType: toolType,
		TenantID: md.TenantID,
		TicketID: md.TicketID,
	}))

	slog.InfoContext(ctx, "webhook accepted", "ticket_id", md.TicketID)
	return &md, nil
}

// publish hands md to the enhancement workflow. The signature is already
// marked as seen, so a publish failure cannot be retried by the sender and
// is logged instead of failing the request.
func (s *WebhookService) publish(ctx context.Context, toolType string, md ticket.Metadata) {
	if s.queue == nil {
		return
	}
	data, err := json.Marshal(messagequeue.TicketReceivedPayload{
		ToolType:   toolType,
		Metadata:   md,
		RequestID:  logger.RequestID(ctx),
		ReceivedAt: s.now().UTC(),
	})
	if err != nil {
		slog.ErrorContext(ctx, "marshal ticket received", "error", err)
		return
	}
	if err := s.queue.Publish(ctx, messagequeue.SubjectTicketReceived, data); err != nil {
		slog.ErrorContext(ctx, "publish ticket received failed", "ticket_id", md.TicketID, "error", err)
	}
}
