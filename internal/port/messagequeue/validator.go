package messagequeue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects pass validation
// (future-proof for new message types).
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	switch {
	case subject == SubjectTicketReceived:
		var p TicketReceivedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if p.ToolType == "" || p.Metadata.TicketID == "" {
			return fmt.Errorf("schema validation failed for %s: %w", subject, errors.New("tool_type and metadata.ticket_id are required"))
		}
	case strings.HasPrefix(subject, SubjectAuditPrefix+"."):
		var p AuditEventPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if p.Action == "" {
			return fmt.Errorf("schema validation failed for %s: %w", subject, errors.New("action is required"))
		}
	}
	return nil
}
