package restclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Strob0t/TicketForge/internal/port/ticketplugin"
)

// ErrNotFound is returned when the remote API answers 404.
var ErrNotFound = errors.New("remote resource not found")

// TicketFetchError maps a failed ticket read onto the Plugin.GetTicket
// contract. Rejected credentials become ticketplugin.ErrAuthentication; any
// other failure returns nil and the ticket is reported as not found.
// Failures other than a 404 are logged.
func TicketFetchError(ctx context.Context, ticketID string, err error) error {
	var authErr *AuthenticationError
	switch {
	case errors.As(err, &authErr):
		return fmt.Errorf("%w: %w", ticketplugin.ErrAuthentication, err)
	case errors.Is(err, ErrNotFound):
		return nil
	default:
		slog.WarnContext(ctx, "ticket fetch failed", "ticket_id", ticketID, "error", err)
		return nil
	}
}

// AuthenticationError reports rejected credentials (401/403). It is terminal.
type AuthenticationError struct {
	StatusCode int
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed: HTTP %d", e.StatusCode)
}

// APIError reports an unexpected HTTP status. 5xx responses are retried.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected HTTP status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected HTTP status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status indicates a transient server failure.
func (e *APIError) Retryable() bool { return e.StatusCode >= http.StatusInternalServerError }

// NetworkError reports a failure before a response was received: dial,
// TLS, write, read or pool acquisition. It is always retried.
type NetworkError struct {
	Op      string
	Timeout bool
	Err     error
}

func (e *NetworkError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s timed out: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Retryable implements resilience.Retryable.
func (e *NetworkError) Retryable() bool { return true }

const maxErrorBody = 512

// classifyStatus maps a response status onto the error taxonomy.
// It returns nil for 2xx.
func classifyStatus(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &AuthenticationError{StatusCode: status}
	case status == http.StatusNotFound:
		return ErrNotFound
	}
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return &APIError{StatusCode: status, Body: string(body)}
}

// Describe turns a classified error into a short operator-facing message.
// Credentials never appear in the result.
func Describe(err error) string {
	var authErr *AuthenticationError
	var apiErr *APIError
	var netErr *NetworkError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &authErr):
		return fmt.Sprintf("authentication failed (HTTP %d): check username and API token", authErr.StatusCode)
	case errors.Is(err, ErrNotFound):
		return "endpoint not found (HTTP 404): check base URL"
	case errors.As(err, &netErr) && netErr.Timeout:
		return "timeout: " + netErr.Op + " did not complete in time"
	case errors.As(err, &netErr):
		return "connection error: " + netErr.Err.Error()
	case errors.As(err, &apiErr):
		return fmt.Sprintf("unexpected HTTP status %d", apiErr.StatusCode)
	default:
		return "request failed: " + err.Error()
	}
}
