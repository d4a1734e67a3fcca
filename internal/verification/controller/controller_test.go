package controller_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"studentcheck/internal/verification/controller"
	"studentcheck/internal/verification/documents"
	"studentcheck/internal/verification/models"
	"studentcheck/internal/verification/ports/mocks"
	"studentcheck/internal/verification/widget"
	"studentcheck/internal/verification/widget/widgettest"
	id "studentcheck/pkg/domain"
	dErrors "studentcheck/pkg/domain-errors"
	"studentcheck/pkg/platform/audit"
	"studentcheck/pkg/platform/sentinel"
)

const waitFor = 2 * time.Second

type ControllerSuite struct {
	suite.Suite
	ctx       context.Context
	cancel    context.CancelFunc
	mockCtrl  *gomock.Controller
	submitter *mocks.MockSubmitter
	audits    *auditLog
	host      *widgettest.Host
	applicant id.ApplicantID
	ctl       *controller.Controller
	runErr    chan error
}

func TestControllerSuite(t *testing.T) {
	suite.Run(t, new(ControllerSuite))
}

func (s *ControllerSuite) SetupTest() {
	s.ctx = context.Background()
	s.mockCtrl = gomock.NewController(s.T())
	s.submitter = mocks.NewMockSubmitter(s.mockCtrl)
	s.audits = &auditLog{}
	s.host = widgettest.NewHost()
	s.applicant = id.ApplicantID(uuid.New())

	adapter, err := widget.New(s.host, widget.Config{
		ProgramURL:          "https://provider.example/programs/student",
		ScriptURL:           "https://provider.example/sdk.js",
		StylesheetURL:       "https://provider.example/sdk.css",
		AvailabilityTimeout: 100 * time.Millisecond,
		PollInterval:        10 * time.Millisecond,
	})
	s.Require().NoError(err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	docs := documents.New(documents.NewThumbnailPreviewer(), documents.WithLogger(logger))
	s.ctl, err = controller.New(s.applicant, adapter, s.submitter, docs,
		controller.WithLogger(logger),
		controller.WithAuditPublisher(s.audits),
	)
	s.Require().NoError(err)

	var runCtx context.Context
	runCtx, s.cancel = context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	s.runErr = runErr
	ctl := s.ctl
	go func() { runErr <- ctl.Run(runCtx) }()
}

func (s *ControllerSuite) TearDownTest() {
	s.cancel()
	<-s.ctl.Done()
}

// =============================================================================
// Helpers
// =============================================================================

var jane = models.SubjectIdentity{
	FirstName:   "Jane",
	LastName:    "Doe",
	Email:       "jane@uni.edu",
	DateOfBirth: "2003-04-01",
}

var stateU = models.AcademicFacts{
	Institution: "State University",
	StudentID:   "S123",
	Program:     "Computer Science",
	YearOfStudy: models.Year2,
}

type auditLog struct {
	mu     sync.Mutex
	events []audit.Event
}

func (a *auditLog) Emit(_ context.Context, ev audit.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
	return nil
}

func (a *auditLog) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.events))
	for _, ev := range a.events {
		out = append(out, ev.Action)
	}
	return out
}

func (s *ControllerSuite) do(ev controller.Event) controller.Snapshot {
	s.T().Helper()
	snap, err := s.ctl.Do(s.ctx, ev)
	s.Require().NoError(err)
	return snap
}

func (s *ControllerSuite) waitStatus(status models.Status) controller.Snapshot {
	s.T().Helper()
	ctx, cancel := context.WithTimeout(s.ctx, waitFor)
	defer cancel()
	snap, err := s.ctl.WaitFor(ctx, func(snap controller.Snapshot) bool {
		return snap.Case.Status == status
	})
	s.Require().NoError(err, "status stayed %s", snap.Case.Status)
	return snap
}

func (s *ControllerSuite) waitIdle() controller.Snapshot {
	s.T().Helper()
	ctx, cancel := context.WithTimeout(s.ctx, waitFor)
	defer cancel()
	snap, err := s.ctl.WaitFor(ctx, func(snap controller.Snapshot) bool { return !snap.Submitting })
	s.Require().NoError(err)
	return snap
}

// startAttempt starts the automated channel and returns the provider form
// once it listens for events.
func (s *ControllerSuite) startAttempt() *widgettest.Form {
	s.T().Helper()
	snap := s.do(controller.StartAutomated{})
	s.Equal(models.StatusInProgress, snap.Case.Status)
	s.Equal(models.ChannelAutomated, snap.Case.Channel)
	form, err := s.host.NextForm(waitFor)
	s.Require().NoError(err)
	s.Require().NoError(form.WaitSubscribed(waitFor))
	return form
}

// fillWizard completes steps 1 and 2 and uploads a student ID, leaving the
// wizard on the documents step.
func (s *ControllerSuite) fillWizard() {
	s.T().Helper()
	s.do(controller.SetIdentity{Identity: jane})
	s.do(controller.NextStep{})
	s.do(controller.SetAcademic{Academic: stateU})
	s.do(controller.NextStep{})
	snap := s.do(controller.UploadDocument{Upload: documents.Upload{
		Category: models.DocumentStudentID,
		Name:     "id.png",
		MIMEType: "image/png",
		Content:  pngImage(s.T()),
	}})
	s.Equal(3, snap.Step)
	s.True(snap.Actions.Submit)
}

func pngImage(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 32))
	img.Set(2, 2, color.RGBA{G: 180, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func pdfOfSize(size int) []byte {
	out := make([]byte, size)
	copy(out, "%PDF-1.4\n")
	return out
}

// =============================================================================
// Automated channel
// =============================================================================

func (s *ControllerSuite) TestAutomatedSuccess() {
	form := s.startAttempt()

	form.Fire(widget.Event{Name: widget.EventReady})
	form.Fire(widget.Event{Name: widget.EventStepChanged, Step: "upload"})
	form.Fire(widget.Event{Name: widget.EventSuccess})

	snap := s.waitStatus(models.StatusCompleted)
	s.Equal(models.ReviewApproved, snap.ReviewStatus)
	s.True(snap.Terminal)
	s.Require().NotNil(snap.Message)
	s.Equal(controller.MessageSuccess, snap.Message.Kind)
	s.Equal(controller.MsgVerified, snap.Message.Text)
	s.False(snap.Widget.Active)
	s.False(snap.Actions.StartAutomated)
	s.False(snap.Actions.ManualChannel)

	s.Eventually(func() bool { return form.Closed() }, waitFor, 5*time.Millisecond)
	s.Eventually(func() bool {
		return s.host.Live(widget.ResourceScript) == 0 && s.host.Live(widget.ResourceStylesheet) == 0
	}, waitFor, 5*time.Millisecond)
	s.Contains(s.audits.actions(), string(audit.EventVerificationCompleted))
}

func (s *ControllerSuite) TestWidgetProgressIsMirrored() {
	form := s.startAttempt()

	form.Fire(widget.Event{Name: widget.EventReady})
	form.Fire(widget.Event{Name: widget.EventLocaleChanged, Locale: "fr"})

	ctx, cancel := context.WithTimeout(s.ctx, waitFor)
	defer cancel()
	snap, err := s.ctl.WaitFor(ctx, func(snap controller.Snapshot) bool {
		return snap.Widget.Ready && snap.Widget.Locale == "fr"
	})
	s.Require().NoError(err)
	s.True(snap.Widget.Active)
	s.Equal(models.StatusInProgress, snap.Case.Status)
}

func (s *ControllerSuite) TestRetriesExhaustAfterThreeFailures() {
	for attempt := 1; attempt <= models.MaxRetries; attempt++ {
		form := s.startAttempt()
		form.Fire(widget.Event{Name: widget.EventError, Message: "Document unreadable"})
		snap := s.waitStatus(models.StatusFailed)
		s.Equal(attempt, snap.Case.RetryCount)
		s.Eventually(func() bool { return form.Closed() }, waitFor, 5*time.Millisecond)

		if attempt < models.MaxRetries {
			s.Require().NotNil(snap.Message)
			s.Equal("Document unreadable", snap.Message.Text)
			s.True(snap.Actions.RetryAutomated)
			s.True(snap.Actions.ManualChannel)
			s.False(snap.Terminal)
		}
	}

	snap := s.ctl.Snapshot()
	s.True(snap.Terminal)
	s.Require().NotNil(snap.Message)
	s.Equal(controller.MessageTerminal, snap.Message.Kind)
	s.Equal(controller.MsgMaxAttempts, snap.Message.Text)
	s.False(snap.Actions.RetryAutomated)
	s.False(snap.Actions.ManualChannel)
	s.Equal(0, snap.Actions.RetriesRemaining)

	_, err := s.ctl.Do(s.ctx, controller.StartAutomated{})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeMaxRetriesExceeded))
	s.Equal(models.MaxRetries, s.host.Injections()/2, "no fourth activation")
	s.Contains(s.audits.actions(), string(audit.EventVerificationRetriesExhausted))

	_, err = s.ctl.Do(s.ctx, controller.Submit{})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
}

func (s *ControllerSuite) TestServiceUnavailableDoesNotConsumeRetry() {
	s.host.SetUnavailable(true)

	s.do(controller.StartAutomated{})
	snap := s.waitStatus(models.StatusFailed)

	s.Equal(0, snap.Case.RetryCount)
	s.Require().NotNil(snap.Message)
	s.Equal(controller.MsgServiceUnavailable, snap.Message.Text)
	s.Equal(models.MaxRetries, snap.Actions.RetriesRemaining)
	s.True(snap.Actions.ManualChannel)
	s.Empty(s.host.Forms())
	s.Eventually(func() bool { return s.host.Live(widget.ResourceScript) == 0 }, waitFor, 5*time.Millisecond)
	s.Contains(s.audits.actions(), string(audit.EventVerificationServiceUnavailable))
}

func (s *ControllerSuite) TestStrayEventsAfterReleaseAreIgnored() {
	form := s.startAttempt()
	form.Fire(widget.Event{Name: widget.EventError})
	snap := s.waitStatus(models.StatusFailed)
	s.Equal(widget.DefaultFailureMessage, snap.Message.Text)

	form.Fire(widget.Event{Name: widget.EventSuccess})

	// A later command observes the mailbox after any stray signal.
	snap = s.do(controller.SetIdentity{Identity: jane})
	s.Equal(models.StatusFailed, snap.Case.Status)
	s.Equal(1, snap.Case.RetryCount)
}

func (s *ControllerSuite) TestStartRefusedWhileInProgress() {
	s.startAttempt()

	_, err := s.ctl.Do(s.ctx, controller.StartAutomated{})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))

	_, err = s.ctl.Do(s.ctx, controller.Submit{})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
}

func (s *ControllerSuite) TestStatusReloadIgnoredDuringAutomatedAttempt() {
	s.startAttempt()

	snap := s.do(controller.LoadStatus{Status: models.CurrentStatus{Status: "pending"}})
	s.Equal(models.StatusInProgress, snap.Case.Status)
	s.Equal(models.ChannelAutomated, snap.Case.Channel)
}

// =============================================================================
// Manual channel
// =============================================================================

func (s *ControllerSuite) TestFirstSubmissionMovesToPending() {
	s.fillWizard()
	s.submitter.EXPECT().
		Submit(gomock.Any(), s.applicant, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ id.ApplicantID, req models.SubmissionRequest) (*models.Acknowledgment, error) {
			s.Equal("Jane", req.PersonalInfo.FirstName)
			s.Equal("2", req.AcademicInfo.Year)
			s.Require().Len(req.Documents, 1)
			s.Equal(models.DocumentStudentID, req.Documents[0].Type)
			return &models.Acknowledgment{RequestID: "req-42", Status: "pending"}, nil
		})

	snap := s.do(controller.Submit{})
	s.True(snap.Submitting)
	s.False(snap.Actions.Submit)

	snap = s.waitStatus(models.StatusPending)
	s.False(snap.Submitting)
	s.Equal(models.ChannelManual, snap.Case.Channel)
	s.Equal("req-42", snap.Case.RequestID)
	s.NotNil(snap.Case.SubmissionDate)
	s.Equal(controller.MsgSubmitted, snap.Message.Text)
	s.False(snap.Actions.ManualChannel)
	s.False(snap.Actions.StartAutomated)
	s.Zero(s.host.Injections())
	s.Contains(s.audits.actions(), string(audit.EventVerificationSubmitted))
}

func (s *ControllerSuite) TestResubmissionAfterInfoRequested() {
	snap := s.do(controller.LoadStatus{Status: models.CurrentStatus{
		Status:   "info_requested",
		Feedback: "Please upload a clearer ID.",
	}})
	s.Equal(models.StatusRequested, snap.Case.Status)
	s.Equal(models.ReviewInfoRequested, snap.ReviewStatus)
	s.Equal("Please upload a clearer ID.", snap.Message.Text)
	s.Equal("Resubmit", snap.Actions.SubmitLabel)
	s.True(snap.Actions.StartAutomated)

	s.fillWizard()
	s.submitter.EXPECT().
		Submit(gomock.Any(), s.applicant, gomock.Any()).
		Return(&models.Acknowledgment{RequestID: "req-43"}, nil)

	s.do(controller.Submit{})
	snap = s.waitStatus(models.StatusInProgress)
	s.Equal(models.ChannelManual, snap.Case.Channel)
	s.Equal(controller.MsgResubmitted, snap.Message.Text)
	s.Empty(snap.Case.Feedback)
	s.False(snap.Widget.Active)
	s.Zero(s.host.Injections(), "manual resubmission never loads the provider form")
	s.Contains(s.audits.actions(), string(audit.EventVerificationResubmitted))
}

func (s *ControllerSuite) TestSubmissionFailureKeepsData() {
	s.fillWizard()
	s.submitter.EXPECT().
		Submit(gomock.Any(), s.applicant, gomock.Any()).
		Return(nil, dErrors.Wrap(errors.New("connection refused"), dErrors.CodeNetwork, "verification backend unreachable"))

	s.do(controller.Submit{})
	snap := s.waitIdle()

	s.Equal(models.StatusNotSubmitted, snap.Case.Status)
	s.Equal(controller.MessageError, snap.Message.Kind)
	s.Equal(controller.MsgSubmitUnreachable, snap.Message.Text)
	s.Equal("Jane", snap.Case.Identity.FirstName)
	s.Equal("S123", snap.Case.Academic.StudentID)
	s.Contains(snap.Case.Documents, models.DocumentStudentID)
	s.True(snap.Actions.Submit)
}

func (s *ControllerSuite) TestSubmissionRejectedShowsBackendMessage() {
	s.fillWizard()
	s.submitter.EXPECT().
		Submit(gomock.Any(), s.applicant, gomock.Any()).
		Return(nil, dErrors.New(dErrors.CodeNetwork, "Student ID number does not match the institution."))

	s.do(controller.Submit{})
	snap := s.waitIdle()

	s.Equal(models.StatusNotSubmitted, snap.Case.Status)
	s.Equal("Student ID number does not match the institution.", snap.Message.Text)
}

func (s *ControllerSuite) TestSubmitRequiresCompleteWizard() {
	s.do(controller.SetIdentity{Identity: jane})

	snap, err := s.ctl.Do(s.ctx, controller.Submit{})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	s.False(snap.Submitting)

	_, err = s.ctl.Do(s.ctx, controller.NextStep{})
	s.Require().NoError(err)
	_, err = s.ctl.Do(s.ctx, controller.NextStep{})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	s.Contains(dErrors.FieldsOf(err), "institution")
}

// =============================================================================
// Documents
// =============================================================================

func (s *ControllerSuite) TestOversizedUploadIsRejected() {
	snap, err := s.ctl.Do(s.ctx, controller.UploadDocument{Upload: documents.Upload{
		Category: models.DocumentEnrollmentProof,
		Name:     "enrollment.pdf",
		MIMEType: "application/pdf",
		Content:  pdfOfSize(6 << 20),
	}})

	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	s.NotContains(snap.Case.Documents, models.DocumentEnrollmentProof)
}

func (s *ControllerSuite) TestUploadPreviewArrives() {
	s.do(controller.UploadDocument{Upload: documents.Upload{
		Category: models.DocumentStudentID,
		Name:     "id.png",
		MIMEType: "image/png",
		Content:  pngImage(s.T()),
	}})

	ctx, cancel := context.WithTimeout(s.ctx, waitFor)
	defer cancel()
	snap, err := s.ctl.WaitFor(ctx, func(snap controller.Snapshot) bool {
		return snap.Case.Documents[models.DocumentStudentID].Preview != ""
	})
	s.Require().NoError(err)
	s.Contains(snap.Case.Documents[models.DocumentStudentID].Preview, "data:image/png;base64,")

	snap = s.do(controller.RemoveDocument{Category: models.DocumentStudentID})
	s.NotContains(snap.Case.Documents, models.DocumentStudentID)

	_, err = s.ctl.Do(s.ctx, controller.RemoveDocument{Category: models.DocumentStudentID})
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

// =============================================================================
// Lifecycle
// =============================================================================

func (s *ControllerSuite) TestCloseReleasesWidget() {
	form := s.startAttempt()

	snap := s.do(controller.Close{})
	s.True(snap.Closed)
	s.Require().NoError(<-s.runErr)
	s.True(form.Closed())
	s.Zero(s.host.Live(widget.ResourceScript))

	_, err := s.ctl.Do(s.ctx, controller.SetIdentity{Identity: jane})
	s.ErrorIs(err, sentinel.ErrClosed)
	s.Contains(s.audits.actions(), string(audit.EventSessionClosed))
}

func (s *ControllerSuite) TestCancelledContextReleasesWidget() {
	form := s.startAttempt()

	s.cancel()
	s.ErrorIs(<-s.runErr, context.Canceled)
	s.True(form.Closed())
}

func (s *ControllerSuite) TestReloadedStatusSeedsCase() {
	snap := s.do(controller.LoadStatus{Status: models.CurrentStatus{Status: "pending", RequestID: "req-1"}})
	s.Equal(models.StatusPending, snap.Case.Status)
	s.Equal("req-1", snap.Case.RequestID)
	s.Equal(controller.MsgUnderReview, snap.Message.Text)
	s.False(snap.Actions.ManualChannel)
	s.False(snap.Actions.StartAutomated)

	_, err := s.ctl.Do(s.ctx, controller.LoadStatus{Status: models.CurrentStatus{Status: "archived"}})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}
