package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	id "studentcheck/pkg/domain"
	request "studentcheck/pkg/platform/middleware/request"
	"studentcheck/pkg/requestcontext"
)

// TokenValidator validates bearer tokens issued by the upstream gateway.
type TokenValidator interface {
	ValidateToken(tokenString string) (*ApplicantClaims, error)
}

// ApplicantClaims are the claims the host API needs from a token.
type ApplicantClaims struct {
	ApplicantID string
	TokenID     string
}

// ContextKeyApplicantID is exported for use in tests.
var ContextKeyApplicantID = requestcontext.ContextKeyApplicantID

// GetApplicantID retrieves the authenticated applicant from the context.
func GetApplicantID(ctx context.Context) (id.ApplicantID, bool) {
	applicantID := requestcontext.ApplicantID(ctx)
	return applicantID, !applicantID.IsNil()
}

// WithApplicantID stores the applicant in ctx.
func WithApplicantID(ctx context.Context, applicantID id.ApplicantID) context.Context {
	return requestcontext.WithApplicantID(ctx, applicantID)
}

// RequireApplicant rejects requests without a valid bearer token and stores
// the token's applicant in the context.
func RequireApplicant(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", request.GetRequestID(ctx),
				)
				writeUnauthorized(ctx, w, logger, `{"error":"unauthorized","error_description":"Missing or invalid Authorization header"}`)
				return
			}
			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", request.GetRequestID(ctx),
				)
				writeUnauthorized(ctx, w, logger, `{"error":"unauthorized","error_description":"Invalid or expired token"}`)
				return
			}
			applicantID, err := id.ParseApplicantID(claims.ApplicantID)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid applicant claim",
					"error", err,
					"token_id", claims.TokenID,
					"request_id", request.GetRequestID(ctx),
				)
				writeUnauthorized(ctx, w, logger, `{"error":"unauthorized","error_description":"Invalid or expired token"}`)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithApplicantID(ctx, applicantID)))
		})
	}
}

func writeUnauthorized(ctx context.Context, w http.ResponseWriter, logger *slog.Logger, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	if _, err := w.Write([]byte(body)); err != nil {
		logger.ErrorContext(ctx, "failed to write unauthorized response",
			"error", err,
			"request_id", request.GetRequestID(ctx),
		)
	}
}
