package middleware

import (
	"crypto/subtle"
	"net/http"
)

// JobSecretHeader authenticates internal job triggers like the capture sweep.
const JobSecretHeader = "X-Job-Secret"

// JobSecretMiddleware guards internal job endpoints with a shared secret.
// These are called by the scheduler, not by users, so JWT auth does not apply.
func JobSecretMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				http.Error(w, "Internal jobs are not configured", http.StatusServiceUnavailable)
				return
			}
			provided := r.Header.Get(JobSecretHeader)
			if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
