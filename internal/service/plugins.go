package service

import (
	"context"
	"time"

	"github.com/Strob0t/TicketForge/internal/domain/tenant"
	"github.com/Strob0t/TicketForge/internal/domain/webhook"
	"github.com/Strob0t/TicketForge/internal/port/audit"
	"github.com/Strob0t/TicketForge/internal/port/ticketplugin"
)

// ConnectionTestResult is the outcome of a plugin connection test.
type ConnectionTestResult struct {
	ToolType string `json:"tool_type"`
	Success  bool   `json:"success"`
	Message  string `json:"message"`
}

// PluginService exposes the registry to operators.
type PluginService struct {
	registry *ticketplugin.Registry
	timeout  time.Duration
	audit    audit.Emitter
}

// NewPluginService creates a plugin service. timeout caps each connection
// test; zero uses ticketplugin.DefaultTestConnectionTimeout.
func NewPluginService(registry *ticketplugin.Registry, timeout time.Duration, emitter audit.Emitter) *PluginService {
	if emitter == nil {
		emitter = audit.Nop{}
	}
	return &PluginService{registry: registry, timeout: timeout, audit: emitter}
}

// List returns the registered tool types in sorted order.
func (s *PluginService) List() []string {
	return s.registry.List()
}

// TestConnection validates creds and runs the plugin's connection test.
// The credentials are used for this call only and never stored.
func (s *PluginService) TestConnection(ctx context.Context, toolType string, creds tenant.Credentials) (*ConnectionTestResult, error) {
	p, err := s.registry.Get(toolType)
	if err != nil {
		return nil, err
	}
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	ok, msg := ticketplugin.TestConnectionWithin(ctx, p, creds, s.timeout)

	ev := webhook.AuditEvent{Action: webhook.AuditConnectionTest, ToolType: toolType}
	if !ok {
		ev.Reason = msg
	}
	s.audit.Emit(ctx, audit.Stamp(ctx, time.Now(), ev))

	return &ConnectionTestResult{ToolType: toolType, Success: ok, Message: msg}, nil
}
