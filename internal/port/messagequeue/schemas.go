package messagequeue

import (
	"time"

	"github.com/Strob0t/TicketForge/internal/domain/ticket"
	"github.com/Strob0t/TicketForge/internal/domain/webhook"
)

// TicketReceivedPayload is published on SubjectTicketReceived.
type TicketReceivedPayload struct {
	ToolType   string          `json:"tool_type"`
	Metadata   ticket.Metadata `json:"metadata"`
	RequestID  string          `json:"request_id,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
}

// AuditEventPayload is published on audit.{action}.
type AuditEventPayload = webhook.AuditEvent
