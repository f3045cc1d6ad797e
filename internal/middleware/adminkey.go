package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const headerAdminKey = "X-Admin-Key"

// AdminKey returns middleware that admits requests carrying the admin API
// key, either in X-Admin-Key or as a Bearer token. keyHash returns the
// current bcrypt hash of the key and is consulted per request so rotations
// apply without a restart; an empty hash disables the admin API.
func AdminKey(keyHash func() string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hash := keyHash()
			if hash == "" {
				writeJSONError(w, http.StatusServiceUnavailable, "admin api not configured")
				return
			}

			key := adminKeyFromRequest(r)
			if key == "" {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)); err != nil {
				slog.WarnContext(r.Context(), "admin key rejected", "path", r.URL.Path, "remote", realIP(r))
				writeJSONError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func adminKeyFromRequest(r *http.Request) string {
	if k := r.Header.Get(headerAdminKey); k != "" {
		return k
	}
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// HashAdminKey returns the bcrypt hash stored in admin.key_hash.
func HashAdminKey(key string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
