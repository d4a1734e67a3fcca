package middleware

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"studentcheck/internal/platform/metrics"
	id "studentcheck/pkg/domain"
)

type MiddlewareSuite struct {
	suite.Suite
	logger *slog.Logger
}

func TestMiddlewareSuite(t *testing.T) {
	suite.Run(t, new(MiddlewareSuite))
}

func (s *MiddlewareSuite) SetupTest() {
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

type validatorFunc func(string) (*ApplicantClaims, error)

func (f validatorFunc) ValidateToken(token string) (*ApplicantClaims, error) { return f(token) }

func (s *MiddlewareSuite) TestRequireApplicant() {
	applicant := id.ApplicantID(uuid.New())
	validator := validatorFunc(func(token string) (*ApplicantClaims, error) {
		switch token {
		case "good":
			return &ApplicantClaims{ApplicantID: applicant.String(), TokenID: "jti-1"}, nil
		case "bad-claim":
			return &ApplicantClaims{ApplicantID: "not-a-uuid"}, nil
		default:
			return nil, errors.New("signature invalid")
		}
	})

	var seen id.ApplicantID
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetApplicantID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	h := RequireApplicant(validator, s.logger)(next)

	serve := func(authorization string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if authorization != "" {
			req.Header.Set("Authorization", authorization)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	s.Run("missing token is unauthorized", func() {
		rr := serve("")
		s.Equal(http.StatusUnauthorized, rr.Code)
		s.Contains(rr.Body.String(), "Missing or invalid Authorization header")
	})

	s.Run("a raw applicant id is not a credential", func() {
		rr := serve(applicant.String())
		s.Equal(http.StatusUnauthorized, rr.Code)
	})

	s.Run("rejected token is unauthorized", func() {
		rr := serve("Bearer forged")
		s.Equal(http.StatusUnauthorized, rr.Code)
		s.Contains(rr.Body.String(), "Invalid or expired token")
	})

	s.Run("malformed applicant claim is unauthorized", func() {
		rr := serve("Bearer bad-claim")
		s.Equal(http.StatusUnauthorized, rr.Code)
	})

	s.Run("valid token reaches the handler", func() {
		rr := serve("Bearer good")
		s.Equal(http.StatusNoContent, rr.Code)
		s.Equal(applicant, seen)
	})
}

func (s *MiddlewareSuite) TestRecoveryAnswers500() {
	h := Recovery(s.logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	s.NotPanics(func() { h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil)) })
	s.Equal(http.StatusInternalServerError, rr.Code)
	s.JSONEq(`{"error":"internal_error"}`, rr.Body.String())
}

func (s *MiddlewareSuite) TestLatencyUsesRoutePattern() {
	m := metrics.New(prometheus.NewRegistry())
	r := chi.NewRouter()
	r.Use(Latency(m))
	r.Get("/verification/sessions/{sessionID}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/verification/sessions/abc", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/verification/sessions/def", nil))

	s.Equal(2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues(http.MethodGet, "/verification/sessions/{sessionID}", "200")))
}
