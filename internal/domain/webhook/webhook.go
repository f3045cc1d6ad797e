// Package webhook defines the webhook signature envelope and the audit events
// emitted while authenticating and processing ticket webhooks.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// AlgorithmSHA256 is the only supported signature algorithm label.
const AlgorithmSHA256 = "sha256"

const sha256HexLen = sha256.Size * 2

var (
	// ErrMalformedSignature is returned for a header that is not "<alg>=<hex>".
	ErrMalformedSignature = errors.New("malformed signature header")
	// ErrUnsupportedAlgorithm is returned for any algorithm other than sha256.
	ErrUnsupportedAlgorithm = errors.New("unsupported signature algorithm")
)

// Envelope carries everything needed to verify one webhook call.
type Envelope struct {
	Body      []byte
	Algorithm string
	Signature string
}

// ParseSignatureHeader splits a "sha256=<hex>" header into an Envelope for body.
// The digest must be exactly 64 lower-case hex characters.
func ParseSignatureHeader(header string, body []byte) (Envelope, error) {
	alg, sig, ok := strings.Cut(strings.TrimSpace(header), "=")
	if !ok || alg == "" || sig == "" {
		return Envelope{}, ErrMalformedSignature
	}
	if alg != AlgorithmSHA256 {
		return Envelope{}, ErrUnsupportedAlgorithm
	}
	if len(sig) != sha256HexLen || !isLowerHex(sig) {
		return Envelope{}, ErrMalformedSignature
	}
	return Envelope{Body: body, Algorithm: alg, Signature: sig}, nil
}

// ComputeSignature returns the lower-case hex HMAC-SHA256 of body keyed by secret.
func ComputeSignature(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// FormatSignatureHeader renders a signature in header form ("sha256=<hex>").
func FormatSignatureHeader(body []byte, secret string) string {
	return AlgorithmSHA256 + "=" + ComputeSignature(body, secret)
}

// SignaturesEqual compares two signature strings in constant time.
// The comparison is byte-wise, so values differing only in case are unequal.
func SignaturesEqual(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}

// Matches reports whether the envelope's signature is valid for secret.
func (e Envelope) Matches(secret string) bool {
	return SignaturesEqual(ComputeSignature(e.Body, secret), e.Signature)
}

func isLowerHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
