package session_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"studentcheck/internal/verification/controller"
	"studentcheck/internal/verification/metrics"
	"studentcheck/internal/verification/models"
	"studentcheck/internal/verification/ports/mocks"
	"studentcheck/internal/verification/session"
	"studentcheck/internal/verification/widget"
	"studentcheck/internal/verification/widget/widgettest"
	id "studentcheck/pkg/domain"
	dErrors "studentcheck/pkg/domain-errors"
)

type ManagerSuite struct {
	suite.Suite
	ctx       context.Context
	mockCtrl  *gomock.Controller
	status    *mocks.MockStatusSource
	submitter *mocks.MockSubmitter
	publisher *mocks.MockAuditPublisher
	host      *widgettest.Host
	metrics   *metrics.Metrics
	manager   *session.Manager
	applicant id.ApplicantID
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) SetupTest() {
	s.ctx = context.Background()
	s.mockCtrl = gomock.NewController(s.T())
	s.status = mocks.NewMockStatusSource(s.mockCtrl)
	s.submitter = mocks.NewMockSubmitter(s.mockCtrl)
	s.publisher = mocks.NewMockAuditPublisher(s.mockCtrl)
	s.publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	s.host = widgettest.NewHost()
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.applicant = id.ApplicantID(uuid.New())

	manager, err := session.NewManager(session.Config{
		Widget: widget.Config{
			ProgramURL:          "https://provider.example/programs/student",
			ScriptURL:           "https://provider.example/sdk.js",
			StylesheetURL:       "https://provider.example/sdk.css",
			AvailabilityTimeout: 100 * time.Millisecond,
			PollInterval:        10 * time.Millisecond,
		},
	}, session.Deps{
		Host:      s.host,
		Submitter: s.submitter,
		Status:    s.status,
		Publisher: s.publisher,
		Metrics:   s.metrics,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	s.Require().NoError(err)
	s.manager = manager
}

func (s *ManagerSuite) TearDownTest() {
	ctx, cancel := context.WithTimeout(s.ctx, 2*time.Second)
	defer cancel()
	s.Require().NoError(s.manager.Shutdown(ctx))
}

var jane = models.SubjectIdentity{FirstName: "Jane", LastName: "Doe", Email: "jane@uni.edu", DateOfBirth: "2003-04-01"}

func (s *ManagerSuite) TestOpen() {
	s.Run("fresh applicant starts in not_submitted with the identity prefilled", func() {
		s.status.EXPECT().CurrentStatus(gomock.Any(), s.applicant).Return(nil, nil)

		snap, err := s.manager.Open(s.ctx, session.OpenRequest{ApplicantID: s.applicant, Identity: jane})
		s.Require().NoError(err)
		s.Equal(models.StatusNotSubmitted, snap.Case.Status)
		s.Equal("Jane", snap.Case.Identity.FirstName)
		s.True(snap.Actions.StartAutomated)
		s.True(snap.Actions.Next)
		s.Equal(1, s.manager.Len())
		s.Equal(float64(1), testutil.ToFloat64(s.metrics.OpenSessions))
	})

	s.Run("status held by the backend seeds the case", func() {
		other := id.ApplicantID(uuid.New())
		s.status.EXPECT().
			CurrentStatus(gomock.Any(), other).
			Return(&models.CurrentStatus{Status: "approved", RequestID: "req-5"}, nil)

		snap, err := s.manager.Open(s.ctx, session.OpenRequest{ApplicantID: other, Identity: jane})
		s.Require().NoError(err)
		s.Equal(models.StatusCompleted, snap.Case.Status)
		s.Equal("req-5", snap.Case.RequestID)
		s.Empty(snap.Case.Identity.FirstName, "no prefill once verified")
	})

	s.Run("status read failure is surfaced", func() {
		other := id.ApplicantID(uuid.New())
		s.status.EXPECT().
			CurrentStatus(gomock.Any(), other).
			Return(nil, dErrors.New(dErrors.CodeNetwork, "verification backend unreachable"))

		_, err := s.manager.Open(s.ctx, session.OpenRequest{ApplicantID: other})
		s.True(dErrors.HasCode(err, dErrors.CodeNetwork))
	})

	s.Run("invalid academic prefill closes the half-open session", func() {
		other := id.ApplicantID(uuid.New())
		before := s.manager.Len()
		s.status.EXPECT().CurrentStatus(gomock.Any(), other).Return(nil, nil)

		_, err := s.manager.Open(s.ctx, session.OpenRequest{
			ApplicantID: other,
			Identity:    jane,
			Academic:    &models.AcademicFacts{YearOfStudy: "7"},
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Equal(before, s.manager.Len())
	})

	s.Run("applicant ID is required", func() {
		_, err := s.manager.Open(s.ctx, session.OpenRequest{})
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}

func (s *ManagerSuite) TestCloseReleasesWidget() {
	s.status.EXPECT().CurrentStatus(gomock.Any(), s.applicant).Return(nil, nil)
	snap, err := s.manager.Open(s.ctx, session.OpenRequest{ApplicantID: s.applicant, Identity: jane})
	s.Require().NoError(err)
	sid, err := id.ParseSessionID(snap.SessionID)
	s.Require().NoError(err)

	ctl, err := s.manager.Get(sid)
	s.Require().NoError(err)
	_, err = ctl.Do(s.ctx, controller.StartAutomated{})
	s.Require().NoError(err)
	form, err := s.host.NextForm(time.Second)
	s.Require().NoError(err)
	s.Require().NoError(form.WaitSubscribed(time.Second))

	closed, err := s.manager.Close(s.ctx, sid)
	s.Require().NoError(err)
	s.True(closed.Closed)
	s.True(form.Closed())
	s.Zero(s.host.Live(widget.ResourceScript))

	_, err = s.manager.Get(sid)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	s.Equal(float64(0), testutil.ToFloat64(s.metrics.OpenSessions))
}

func (s *ManagerSuite) TestReapClosesIdleSessions() {
	s.status.EXPECT().CurrentStatus(gomock.Any(), s.applicant).Return(nil, nil)
	_, err := s.manager.Open(s.ctx, session.OpenRequest{ApplicantID: s.applicant, Identity: jane})
	s.Require().NoError(err)

	s.Zero(s.manager.Reap(s.ctx, time.Hour))
	time.Sleep(20 * time.Millisecond)
	s.Equal(1, s.manager.Reap(s.ctx, 10*time.Millisecond))
	s.Zero(s.manager.Len())
}
