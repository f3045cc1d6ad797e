package middleware

import (
	"net/http"
	"strings"
)

// HeaderWebhookSignature carries "sha256=<hex>" on inbound webhooks.
const HeaderWebhookSignature = "X-Webhook-Signature"

// WebhookSignature returns the signature of an inbound webhook. Tools that
// cannot set custom headers send it in Authorization instead.
func WebhookSignature(r *http.Request) string {
	if sig := r.Header.Get(HeaderWebhookSignature); sig != "" {
		return sig
	}
	return strings.TrimSpace(r.Header.Get("Authorization"))
}

// LimitBody caps request bodies at maxBytes. Reads beyond the limit fail
// with *http.MaxBytesError.
func LimitBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
