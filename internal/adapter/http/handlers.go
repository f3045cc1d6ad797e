package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/TicketForge/internal/domain/tenant"
	"github.com/Strob0t/TicketForge/internal/domain/ticket"
	"github.com/Strob0t/TicketForge/internal/middleware"
	"github.com/Strob0t/TicketForge/internal/service"
)

const adminBodyLimit = 64 << 10

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Handlers holds the services behind the HTTP surface.
type Handlers struct {
	Webhooks *service.WebhookService
	Plugins  *service.PluginService
	Checks   map[string]HealthCheck
}

type webhookAccepted struct {
	Status   string          `json:"status"`
	ToolType string          `json:"tool_type"`
	Metadata ticket.Metadata `json:"metadata"`
}

// ReceiveWebhook handles POST /api/v1/webhooks/{toolType}. The body is read
// verbatim because signatures cover the exact bytes sent.
func (h *Handlers) ReceiveWebhook(w http.ResponseWriter, r *http.Request) {
	toolType := chi.URLParam(r, "toolType")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	md, err := h.Webhooks.Receive(r.Context(), toolType, body, middleware.WebhookSignature(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, webhookAccepted{Status: "accepted", ToolType: toolType, Metadata: *md})
}

// ListPlugins handles GET /api/v1/plugins.
func (h *Handlers) ListPlugins(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"plugins": h.Plugins.List()})
}

type testConnectionRequest struct {
	BaseURL  string `json:"base_url"`
	Username string `json:"username"`
	APIToken string `json:"api_token"` //nolint:gosec // G117: request field, never echoed
}

// TestConnection handles POST /api/v1/plugins/{toolType}/test-connection.
// The credentials in the body are used once and never persisted.
func (h *Handlers) TestConnection(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[testConnectionRequest](w, r, adminBodyLimit)
	if !ok {
		return
	}

	creds := tenant.Credentials{BaseURL: req.BaseURL, Username: req.Username, APIToken: req.APIToken}
	res, err := h.Plugins.TestConnection(r.Context(), chi.URLParam(r, "toolType"), creds)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type healthStatus struct {
	Status  string            `json:"status"`
	Plugins []string          `json:"plugins"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// Health handles GET /health. It answers 503 when any dependency check fails.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := healthStatus{Status: "ok", Plugins: h.Plugins.List(), Checks: make(map[string]string, len(h.Checks))}
	code := http.StatusOK
	for name, check := range h.Checks {
		if err := check(ctx); err != nil {
			status.Checks[name] = err.Error()
			status.Status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		status.Checks[name] = "ok"
	}
	writeJSON(w, code, status)
}
