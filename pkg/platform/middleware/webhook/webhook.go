package webhook

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	request "studentcheck/pkg/platform/middleware/request"
)

// HeaderToken carries the shared secret the verification provider signs its
// callbacks with.
const HeaderToken = "X-Provider-Token"

// RequireToken rejects provider callbacks that do not present the shared
// secret. An empty expected token disables the check (local development).
func RequireToken(expectedToken string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if expectedToken == "" {
				next.ServeHTTP(w, r)
				return
			}
			token := r.Header.Get(HeaderToken)
			// constant-time comparison
			if subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
				ctx := r.Context()
				logger.WarnContext(ctx, "provider webhook token mismatch",
					"request_id", request.GetRequestID(ctx),
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"provider token required"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
