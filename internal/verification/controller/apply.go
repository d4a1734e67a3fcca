package controller

import (
	"context"
	"errors"
	"fmt"

	"studentcheck/internal/verification/documents"
	"studentcheck/internal/verification/models"
	"studentcheck/internal/verification/ports"
	"studentcheck/internal/verification/widget"
	dErrors "studentcheck/pkg/domain-errors"
	"studentcheck/pkg/platform/audit"
	"studentcheck/pkg/platform/sentinel"
)

func (c *Controller) apply(ctx context.Context, ev Event) (Snapshot, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var err error
	switch e := ev.(type) {
	case LoadStatus:
		err = c.loadStatus(ctx, e.Status)
	case SetIdentity:
		err = c.setIdentity(e.Identity)
	case SetAcademic:
		err = c.setAcademic(e.Academic)
	case NextStep:
		err = c.navigate(c.wizard.Next)
	case BackStep:
		err = c.navigate(c.wizard.Back)
	case UploadDocument:
		err = c.upload(ctx, e.Upload)
	case RemoveDocument:
		err = c.removeDocument(ctx, e.Category)
	case Submit:
		err = c.submit(ctx)
	case StartAutomated:
		err = c.startAutomated(ctx)
	case Close:
		c.teardown(ctx, "closed")
	case submitCompleted:
		c.submitDone(ctx, e)
	case widgetSignaled:
		c.widgetSignal(ctx, e.signal)
	case previewReady:
		c.previewDone(e.result)
	default:
		err = dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("unknown event %T", ev))
	}
	if err != nil {
		c.logger.DebugContext(ctx, "event refused",
			"session_id", c.sessionID.String(),
			"event", ev.eventName(),
			"status", c.kase.Status.String(),
			"error", err,
		)
	}
	c.publish()
	return c.Snapshot(), err
}

// transition applies a status change allowed by the transition table. Every
// exit from in_progress releases the widget.
func (c *Controller) transition(ctx context.Context, next models.Status) bool {
	from := c.kase.Status
	if !from.CanTransitionTo(next) {
		c.logger.DebugContext(ctx, "ignoring illegal transition",
			"session_id", c.sessionID.String(),
			"from", from.String(),
			"to", next.String(),
		)
		return false
	}
	if from == models.StatusInProgress {
		c.releaseWidget(ctx)
	}
	c.kase.Status = next
	c.kase.Touch(c.now())
	c.metrics.ObserveTransition(from.String(), next.String())
	return true
}

func (c *Controller) loadStatus(ctx context.Context, cs models.CurrentStatus) error {
	status, err := models.ParseStatus(cs.Status)
	if err != nil {
		return err
	}
	if c.automatedActive() {
		c.logger.DebugContext(ctx, "ignoring status reload during automated attempt",
			"session_id", c.sessionID.String(),
			"reloaded_status", status.String(),
		)
		return nil
	}
	if c.kase.Status == models.StatusInProgress && status != models.StatusInProgress {
		c.releaseWidget(ctx)
	}

	from := c.kase.Status
	c.kase.Status = status
	c.kase.Feedback = cs.Feedback
	c.kase.RequestID = cs.RequestID
	c.kase.SubmissionDate = cs.SubmissionDate
	if cs.LastUpdate != nil {
		c.kase.LastUpdate = cs.LastUpdate
	} else if from != status {
		c.kase.Touch(c.now())
	}
	switch {
	case status == models.StatusNotSubmitted:
		c.kase.Channel = models.ChannelNone
	case c.kase.Channel == models.ChannelNone:
		c.kase.Channel = models.ChannelManual
	}
	if from != status {
		c.metrics.ObserveTransition(from.String(), status.String())
	}
	c.message = statusMessage(status, cs.Feedback)
	return nil
}

func (c *Controller) setIdentity(identity models.SubjectIdentity) error {
	if err := c.checkEditable(); err != nil {
		return err
	}
	c.wizard.SetIdentity(identity)
	c.kase.Identity = c.wizard.Identity()
	return nil
}

func (c *Controller) setAcademic(academic models.AcademicFacts) error {
	if err := c.checkEditable(); err != nil {
		return err
	}
	if err := c.wizard.SetAcademic(academic); err != nil {
		return err
	}
	c.kase.Academic = c.wizard.Academic()
	return nil
}

func (c *Controller) navigate(move func() error) error {
	if err := c.checkEditable(); err != nil {
		return err
	}
	return move()
}

func (c *Controller) upload(ctx context.Context, up documents.Upload) error {
	if err := c.checkEditable(); err != nil {
		return err
	}
	slot, previews, err := c.docs.Accept(ctx, up)
	if err != nil {
		c.metrics.IncrementUploadsRejected(string(up.Category))
		return err
	}
	c.syncDocuments()
	go func() {
		if res, ok := <-previews; ok {
			c.post(previewReady{result: res})
		}
	}()
	c.audit(ctx, audit.EventDocumentUploaded, string(slot.Category))
	return nil
}

func (c *Controller) previewDone(res documents.PreviewResult) {
	if !c.docs.ApplyPreview(res) {
		c.logger.Debug("ignoring stale preview",
			"session_id", c.sessionID.String(),
			"slot_id", res.SlotID.String(),
		)
		return
	}
	c.syncDocuments()
}

func (c *Controller) removeDocument(ctx context.Context, category models.DocumentCategory) error {
	if err := c.checkEditable(); err != nil {
		return err
	}
	if !category.IsValid() {
		return dErrors.New(dErrors.CodeBadRequest, "unknown document category")
	}
	if !c.docs.Remove(category) {
		return dErrors.Wrap(sentinel.ErrNotFound, dErrors.CodeNotFound, "no document uploaded for this category")
	}
	c.syncDocuments()
	c.audit(ctx, audit.EventDocumentRemoved, string(category))
	return nil
}

func (c *Controller) syncDocuments() {
	slots := c.docs.List()
	docs := make(map[models.DocumentCategory]models.DocumentSlot, len(slots))
	for _, slot := range slots {
		docs[slot.Category] = slot
	}
	c.kase.Documents = docs
}

func (c *Controller) submit(ctx context.Context) error {
	if c.submitting {
		return dErrors.New(dErrors.CodeInvalidState, "a submission is already in progress")
	}
	if !c.manualAllowed() {
		return dErrors.Wrap(sentinel.ErrInvalidState, dErrors.CodeInvalidState,
			fmt.Sprintf("documents cannot be submitted while the case is %s", c.kase.Status))
	}
	if err := c.wizard.CheckSubmit(); err != nil {
		return err
	}

	req := models.NewSubmissionRequest(c.wizard.Identity(), c.wizard.Academic(), c.docs.List())
	c.submitSeq++
	c.submitting = true
	c.message = nil
	done := submitCompleted{seq: c.submitSeq, resubmission: c.kase.Status.IsResubmission()}
	applicantID := c.kase.ApplicantID

	submitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.submitTimeout)
	go func() {
		defer cancel()
		done.ack, done.err = c.submitter.Submit(submitCtx, applicantID, req)
		c.post(done)
	}()
	return nil
}

func (c *Controller) submitDone(ctx context.Context, res submitCompleted) {
	if !c.submitting || res.seq != c.submitSeq {
		c.logger.DebugContext(ctx, "ignoring stale submission result", "session_id", c.sessionID.String())
		return
	}
	c.submitting = false

	kind := "submit"
	action := audit.EventVerificationSubmitted
	target := models.StatusPending
	text := MsgSubmitted
	if res.resubmission {
		kind = "resubmit"
		action = audit.EventVerificationResubmitted
		target = models.StatusInProgress
		text = MsgResubmitted
	}

	if res.err != nil {
		c.metrics.ObserveSubmission(kind, "error")
		c.message = errorMessage(submitFailureText(res.err))
		c.logger.WarnContext(ctx, "submission failed",
			"session_id", c.sessionID.String(),
			"error", res.err,
		)
		return
	}
	if !c.transition(ctx, target) {
		c.metrics.ObserveSubmission(kind, "ignored")
		return
	}
	c.metrics.ObserveSubmission(kind, "ok")
	c.kase.Channel = models.ChannelManual
	c.kase.Feedback = ""
	submitted := c.now()
	if res.ack != nil {
		c.kase.RequestID = res.ack.RequestID
		if !res.ack.SubmittedAt.IsZero() {
			submitted = res.ack.SubmittedAt
		}
	}
	c.kase.SubmissionDate = &submitted
	c.message = successMessage(text)
	c.audit(ctx, action, "")
}

func submitFailureText(err error) string {
	var de *dErrors.Error
	if errors.As(err, &de) && de.Code == dErrors.CodeNetwork && de.Message != "" && de.Err == nil {
		// 4xx responses carry the backend's own message and no cause.
		return de.Message
	}
	return MsgSubmitUnreachable
}

func (c *Controller) startAutomated(ctx context.Context) error {
	switch c.kase.Status {
	case models.StatusNotSubmitted, models.StatusRequested, models.StatusRejected, models.StatusFailed:
	default:
		return dErrors.Wrap(sentinel.ErrInvalidState, dErrors.CodeInvalidState,
			fmt.Sprintf("automated verification cannot start while the case is %s", c.kase.Status))
	}
	if c.submitting {
		return dErrors.New(dErrors.CodeInvalidState, "a submission is in progress")
	}
	if err := c.guard.Check(); err != nil {
		c.message = terminalMessage(MsgMaxAttempts)
		return err
	}

	gen, err := c.widget.Activate(ctx, c.kase.ID.String(), c.wizard.Identity(), c.sink)
	if err != nil {
		if errors.Is(err, sentinel.ErrAlreadyActive) {
			return dErrors.Wrap(err, dErrors.CodeInvalidState, "automated verification is already active")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to activate automated verification")
	}
	c.metrics.WidgetActivated()
	c.attempt = gen
	c.progress = WidgetProgress{Active: true, Attempt: gen}
	if !c.transition(ctx, models.StatusInProgress) {
		c.releaseWidget(ctx)
		return dErrors.New(dErrors.CodeInvalidState, "automated verification cannot start now")
	}
	c.kase.Channel = models.ChannelAutomated
	c.message = nil
	c.audit(ctx, audit.EventVerificationStarted, "")
	return nil
}

// sink runs on adapter goroutines; it only forwards into the mailbox.
func (c *Controller) sink(sig widget.Signal) {
	c.post(widgetSignaled{signal: sig})
}

func (c *Controller) widgetSignal(ctx context.Context, sig widget.Signal) {
	if !c.automatedActive() || sig.Generation != c.attempt {
		c.logger.DebugContext(ctx, "ignoring stale widget signal",
			"session_id", c.sessionID.String(),
			"signal", string(sig.Kind),
			"generation", sig.Generation,
			"current", c.attempt,
		)
		return
	}

	switch sig.Kind {
	case widget.SignalReady:
		c.progress.Ready = true
	case widget.SignalStepChanged:
		c.progress.Step = sig.Step
	case widget.SignalLocaleChanged:
		c.progress.Locale = sig.Locale
	case widget.SignalCompleted:
		c.metrics.ObserveAutomatedOutcome("completed")
		c.transition(ctx, models.StatusCompleted)
		c.kase.Feedback = ""
		c.message = successMessage(MsgVerified)
		c.audit(ctx, audit.EventVerificationCompleted, "")
	case widget.SignalFailed:
		c.metrics.ObserveAutomatedOutcome("failed")
		c.guard.RecordFailure()
		c.kase.RetryCount = c.guard.Count()
		c.transition(ctx, models.StatusFailed)
		c.audit(ctx, audit.EventVerificationFailed, sig.Message)
		if !c.guard.CanRetry() {
			c.message = terminalMessage(MsgMaxAttempts)
			c.audit(ctx, audit.EventVerificationRetriesExhausted, "")
			return
		}
		text := sig.Message
		if text == "" {
			text = widget.DefaultFailureMessage
		}
		c.message = errorMessage(text)
	case widget.SignalServiceUnavailable:
		c.metrics.ObserveAutomatedOutcome("service_unavailable")
		c.transition(ctx, models.StatusFailed)
		c.message = errorMessage(MsgServiceUnavailable)
		c.audit(ctx, audit.EventVerificationServiceUnavailable, sig.Message)
	}
}

func (c *Controller) releaseWidget(ctx context.Context) {
	wasActive := c.attempt != 0
	c.attempt = 0
	c.progress = WidgetProgress{}

	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultReleaseWait)
	defer cancel()
	if err := c.widget.Release(releaseCtx); err != nil {
		c.logger.WarnContext(ctx, "failed to release widget",
			"session_id", c.sessionID.String(),
			"error", err,
		)
	}
	if wasActive {
		c.metrics.WidgetReleased()
	}
}

// teardown ends the session. Pending completions are dropped after this.
func (c *Controller) teardown(ctx context.Context, reason string) {
	if c.closed {
		return
	}
	c.closed = true
	c.releaseWidget(ctx)
	c.submitting = false
	c.audit(ctx, audit.EventSessionClosed, reason)
}

func (c *Controller) automatedActive() bool {
	return c.attempt != 0 &&
		c.kase.Status == models.StatusInProgress &&
		c.kase.Channel == models.ChannelAutomated
}

// manualAllowed reports whether the case status accepts a manual submission.
func (c *Controller) manualAllowed() bool {
	switch c.kase.Status {
	case models.StatusNotSubmitted, models.StatusRequested, models.StatusRejected:
		return true
	case models.StatusFailed:
		return c.guard.CanRetry()
	}
	return false
}

func (c *Controller) checkEditable() error {
	if c.submitting {
		return dErrors.New(dErrors.CodeInvalidState, "a submission is in progress")
	}
	if !c.manualAllowed() {
		return dErrors.Wrap(sentinel.ErrInvalidState, dErrors.CodeInvalidState,
			fmt.Sprintf("the form cannot be edited while the case is %s", c.kase.Status))
	}
	return nil
}

func (c *Controller) terminal() bool {
	return c.kase.IsTerminal(!c.guard.CanRetry())
}

func (c *Controller) audit(ctx context.Context, action audit.AuditEvent, reason string) {
	ports.LogAudit(ctx, c.logger, c.publisher, audit.Event{
		ApplicantID: c.kase.ApplicantID,
		CaseID:      c.kase.ID.String(),
		SessionID:   c.sessionID.String(),
		Action:      string(action),
		Channel:     string(c.kase.Channel),
		Status:      c.kase.Status.String(),
		Reason:      reason,
	})
}
