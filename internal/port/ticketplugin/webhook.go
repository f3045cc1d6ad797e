package ticketplugin

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/Strob0t/TicketForge/internal/domain/ticket"
	"github.com/Strob0t/TicketForge/internal/domain/webhook"
	"github.com/Strob0t/TicketForge/internal/port/audit"
	"github.com/Strob0t/TicketForge/internal/webhookauth"
)

// WebhookFields are the payload fields a plugin extracts for verification.
type WebhookFields struct {
	TenantID string
	TicketID string
	Sent     time.Time // zero when the payload carries no timestamp
}

// RequestBody returns the bytes the signature covers: req.Body, or
// req.Payload re-encoded when no raw body was kept.
func RequestBody(req WebhookRequest) ([]byte, error) {
	if req.Body != nil {
		return req.Body, nil
	}
	b, err := json.Marshal(req.Payload)
	if err != nil {
		return nil, ticket.Invalid("payload", "cannot be encoded")
	}
	return b, nil
}

// VerifyWebhook implements Plugin.ValidateWebhook for toolType. parse
// extracts the tenant, ticket and send time from the body; its error is
// returned as is. Without a verifier every webhook is refused.
func (d Deps) VerifyWebhook(ctx context.Context, toolType string, req WebhookRequest, parse func(body []byte) (WebhookFields, error)) (bool, error) {
	body, err := RequestBody(req)
	if err != nil {
		return false, err
	}
	f, err := parse(body)
	if err != nil {
		return false, err
	}
	if d.Verifier == nil {
		slog.ErrorContext(ctx, "plugin has no webhook verifier", "tool_type", toolType)
		return false, nil
	}
	return d.Verifier.Verify(ctx, webhookauth.Request{
		ToolType:  toolType,
		Body:      body,
		Signature: req.Signature,
		TenantID:  f.TenantID,
		TicketID:  f.TicketID,
		Timestamp: f.Sent,
	}), nil
}

// EmitTicketAudit records the outcome of an outbound ticket operation.
func (d Deps) EmitTicketAudit(ctx context.Context, action webhook.AuditAction, toolType, tenantID, ticketID, reason string) {
	d.AuditEmitter().Emit(ctx, audit.Stamp(ctx, time.Now(), webhook.AuditEvent{
		Action:   action,
		ToolType: toolType,
		TenantID: tenantID,
		TicketID: ticketID,
		Reason:   reason,
	}))
}
