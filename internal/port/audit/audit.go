// Package audit defines the port for emitting security and integration
// audit events.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/TicketForge/internal/domain/webhook"
	"github.com/Strob0t/TicketForge/internal/logger"
)

// Emitter records audit events. Emit must not block the caller for long and
// never fails from the caller's point of view; delivery problems are the
// emitter's concern.
type Emitter interface {
	Emit(ctx context.Context, ev webhook.AuditEvent)
}

// Stamp gives ev a fresh ID, the request ID carried by ctx and at as its
// occurrence time. Every producer stamps its events before emitting them.
func Stamp(ctx context.Context, at time.Time, ev webhook.AuditEvent) webhook.AuditEvent {
	ev.ID = uuid.NewString()
	ev.RequestID = logger.RequestID(ctx)
	ev.OccurredAt = at.UTC()
	return ev
}

// Nop discards all events.
type Nop struct{}

// Emit implements Emitter.
func (Nop) Emit(context.Context, webhook.AuditEvent) {}

// Recorder keeps events in memory. It is safe for concurrent use and is
// mainly useful in tests.
type Recorder struct {
	mu     sync.Mutex
	events []webhook.AuditEvent
}

// Emit implements Emitter.
func (r *Recorder) Emit(_ context.Context, ev webhook.AuditEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []webhook.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]webhook.AuditEvent, len(r.events))
	copy(out, r.events)
	return out
}

// Count returns how many recorded events have the given action.
func (r *Recorder) Count(action webhook.AuditAction) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for i := range r.events {
		if r.events[i].Action == action {
			n++
		}
	}
	return n
}
