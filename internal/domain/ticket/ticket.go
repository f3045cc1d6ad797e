// Package ticket defines the standardized ticket metadata produced by plugins
// and the shared normalization vocabulary they build on.
package ticket

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Strob0t/TicketForge/internal/domain"
)

// Priority is the normalized three-level ticket priority.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Valid reports whether p is one of the three levels.
func (p Priority) Valid() bool {
	return p == PriorityHigh || p == PriorityMedium || p == PriorityLow
}

// Metadata is the standardized view of an inbound ticket event.
// It is built once by a plugin's normalizer and passed by value.
type Metadata struct {
	TenantID    string    `json:"tenant_id"`
	TicketID    string    `json:"ticket_id"`
	Description string    `json:"description"`
	Priority    Priority  `json:"priority"`
	CreatedAt   time.Time `json:"created_at"`
}

// Ticket is the tool-native ticket representation returned by GetTicket.
type Ticket struct {
	ID          string          `json:"id"`
	Key         string          `json:"key,omitempty"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Status      string          `json:"status,omitempty"`
	Priority    string          `json:"priority,omitempty"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}

// ValidationError reports a payload field that is missing or malformed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s %s", domain.ErrValidation.Error(), e.Field, e.Reason)
}

// Unwrap lets errors.Is(err, domain.ErrValidation) match.
func (e *ValidationError) Unwrap() error { return domain.ErrValidation }

// Invalid is shorthand for constructing a *ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
