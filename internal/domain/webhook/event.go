package webhook

import "time"

// AuditAction classifies an audit event emitted by the plugin layer.
type AuditAction string

const (
	AuditWebhookAccepted AuditAction = "webhook.accepted"
	AuditWebhookRejected AuditAction = "webhook.rejected"
	AuditTicketUpdated   AuditAction = "ticket.updated"
	AuditTicketUpdateErr AuditAction = "ticket.update_failed"
	AuditConnectionTest  AuditAction = "connection.tested"
	AuditPluginLoaded    AuditAction = "plugin.registered"
)

// AuditEvent is a single security- or integration-relevant occurrence.
// Reason is for internal consumers only and is never returned to webhook callers.
type AuditEvent struct {
	ID         string      `json:"id"`
	Action     AuditAction `json:"action"`
	ToolType   string      `json:"tool_type"`
	TenantID   string      `json:"tenant_id,omitempty"`
	TicketID   string      `json:"ticket_id,omitempty"`
	Reason     string      `json:"reason,omitempty"`
	RequestID  string      `json:"request_id,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
}
