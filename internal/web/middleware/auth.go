package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/cloudsolutiongmbh/contactio/internal/auth"
)

// RequireAPIToken guards the admin API with a bearer token checked against
// the configured bcrypt hash. An empty hash disables the API entirely.
func RequireAPIToken(tokenHash string) func(http.Handler) http.Handler {
	tokenHash = strings.TrimSpace(tokenHash)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tokenHash == "" {
				writeError(w, http.StatusServiceUnavailable, "admin api is not configured")
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok || auth.CheckAPIToken(tokenHash, token) != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(headerValue string) (string, bool) {
	headerValue = strings.TrimSpace(headerValue)
	const prefix = "Bearer "
	if !strings.HasPrefix(headerValue, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(headerValue, prefix))
	return token, token != ""
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
