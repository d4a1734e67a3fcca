package backend_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"studentcheck/internal/verification/backend"
	"studentcheck/internal/verification/models"
	id "studentcheck/pkg/domain"
	dErrors "studentcheck/pkg/domain-errors"
)

type ClientSuite struct {
	suite.Suite
	ctx       context.Context
	mux       *http.ServeMux
	server    *httptest.Server
	client    *backend.Client
	applicant id.ApplicantID
}

func TestClientSuite(t *testing.T) {
	suite.Run(t, new(ClientSuite))
}

func (s *ClientSuite) SetupTest() {
	s.ctx = context.Background()
	s.mux = http.NewServeMux()
	s.server = httptest.NewServer(s.mux)
	s.applicant = id.ApplicantID(uuid.New())

	client, err := backend.NewClient(backend.Config{BaseURL: s.server.URL + "/", Timeout: time.Second})
	s.Require().NoError(err)
	s.client = client
}

func (s *ClientSuite) TearDownTest() {
	s.server.Close()
}

func sampleRequest() models.SubmissionRequest {
	return models.SubmissionRequest{
		PersonalInfo: models.SubjectIdentity{FirstName: "Jane", LastName: "Doe", Email: "jane@uni.edu", DateOfBirth: "2003-04-01"},
		AcademicInfo: models.SubmissionAcademic{Institution: "State University", StudentID: "S123", Program: "CS", Year: "2"},
		Documents: []models.SubmissionDocument{
			{Type: models.DocumentStudentID, Name: "id.png", Size: 3, MIMEType: "image/png", Payload: "AAEC"},
		},
	}
}

func (s *ClientSuite) TestSubmit() {
	s.Run("posts the submission body and decodes the acknowledgment", func() {
		s.mux.HandleFunc("POST /verification/submit", func(w http.ResponseWriter, r *http.Request) {
			s.Equal(s.applicant.String(), r.Header.Get("X-Applicant-ID"))
			var body models.SubmissionRequest
			s.Require().NoError(json.NewDecoder(r.Body).Decode(&body))
			s.Equal("Jane", body.PersonalInfo.FirstName)
			s.Equal("S123", body.AcademicInfo.StudentID)
			s.Require().Len(body.Documents, 1)
			s.Equal("AAEC", body.Documents[0].Payload)

			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(models.Acknowledgment{RequestID: "req-7", Status: "pending"})
		})

		ack, err := s.client.Submit(s.ctx, s.applicant, sampleRequest())
		s.Require().NoError(err)
		s.Equal("req-7", ack.RequestID)
		s.Equal("pending", ack.Status)
	})
}

func (s *ClientSuite) TestSubmitClientErrorCarriesMessage() {
	s.mux.HandleFunc("POST /verification/submit", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"Student ID number does not match the institution."}`))
	})

	_, err := s.client.Submit(s.ctx, s.applicant, sampleRequest())
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNetwork))
	s.Equal("Student ID number does not match the institution.", err.Error())
}

func (s *ClientSuite) TestSubmitClientErrorWithoutMessage() {
	tests := []struct {
		status int
		want   string
	}{
		{http.StatusConflict, "A submission for this applicant is already being processed."},
		{http.StatusUnprocessableEntity, "The verification service rejected the submission. Please check your details and try again."},
		{http.StatusTeapot, "The verification service rejected the submission (status 418)."},
	}
	var status atomic.Int32
	s.mux.HandleFunc("POST /verification/submit", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(int(status.Load()))
	})

	for _, tt := range tests {
		s.Run(http.StatusText(tt.status), func() {
			status.Store(int32(tt.status))

			_, err := s.client.Submit(s.ctx, s.applicant, sampleRequest())
			s.Require().Error(err)
			s.True(dErrors.HasCode(err, dErrors.CodeNetwork))
			s.Equal(tt.want, err.Error())
			s.NotContains(err.Error(), "reach", "the backend answered, so this is not a connectivity failure")
		})
	}
}

func (s *ClientSuite) TestSubmitServerErrorIsNetworkError() {
	s.mux.HandleFunc("POST /verification/submit", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"message":"upstream down"}`))
	})

	_, err := s.client.Submit(s.ctx, s.applicant, sampleRequest())
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNetwork))
	s.Contains(err.Error(), "unexpected status 502")
}

func (s *ClientSuite) TestSubmitTransportFailure() {
	s.server.Close()

	_, err := s.client.Submit(s.ctx, s.applicant, sampleRequest())
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNetwork))
}

func (s *ClientSuite) TestCurrentStatus() {
	path := "GET /verification/applicants/" + s.applicant.String() + "/status"

	s.Run("decodes the status record", func() {
		s.mux.HandleFunc(path, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"status":"info_requested","feedback":"Upload a clearer ID.","requestId":"req-3"}`))
		})

		current, err := s.client.CurrentStatus(s.ctx, s.applicant)
		s.Require().NoError(err)
		s.Require().NotNil(current)
		s.Equal("info_requested", current.Status)
		s.Equal("Upload a clearer ID.", current.Feedback)
		s.Equal("req-3", current.RequestID)
	})

	s.Run("404 means nothing on record", func() {
		other := id.ApplicantID(uuid.New())
		current, err := s.client.CurrentStatus(s.ctx, other)
		s.Require().NoError(err)
		s.Nil(current)
	})
}

func (s *ClientSuite) TestNewClientRequiresBaseURL() {
	_, err := backend.NewClient(backend.Config{})
	s.Error(err)
}
