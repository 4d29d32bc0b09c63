package api

import "net/http"

// SecretHeader is the header a caller must present the shared secret in.
const SecretHeader = "X-Updater-Secret"

// AuthMiddleware rejects requests that don't present the configured secret
// in SecretHeader. An empty configured secret means auth is disabled — every
// request is let through — which is the deliberate "no secret configured
// allows all" behavior the control API has always had; that decision lives
// here rather than in ValidateSecret so the comparison primitive itself
// never silently opens the door.
func AuthMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !ValidateSecret(r.Header.Get(SecretHeader), secret) {
				writeJSONError(w, http.StatusUnauthorized, "invalid or missing "+SecretHeader)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
