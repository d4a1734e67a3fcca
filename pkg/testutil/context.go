package testutil

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	applicanttoken "studentcheck/internal/applicant_token"
	"studentcheck/internal/platform/middleware"
	id "studentcheck/pkg/domain"
)

var applicantTokens = applicanttoken.NewService("test-signing-key", "test-gateway", "studentcheck")

// TokenValidator accepts the tokens WithApplicant mints.
func TokenValidator() middleware.TokenValidator {
	return applicanttoken.NewAdapter(applicantTokens)
}

// WithApplicant adds the bearer token the upstream gateway would issue to
// applicantID.
func WithApplicant(t *testing.T, req *http.Request, applicantID id.ApplicantID) *http.Request {
	t.Helper()
	token, err := applicantTokens.Issue(applicantID, time.Hour)
	require.NoError(t, err, "failed to issue applicant token")
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}
