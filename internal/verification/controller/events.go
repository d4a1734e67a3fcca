package controller

import (
	"studentcheck/internal/verification/documents"
	"studentcheck/internal/verification/models"
	"studentcheck/internal/verification/widget"
)

// Event is something the controller applies in arrival order. Commands come
// from the presentation layer through Do; completions of asynchronous work
// are posted back by the controller itself.
type Event interface {
	eventName() string
}

type (
	// LoadStatus reseeds the case from the status the host holds.
	LoadStatus struct{ Status models.CurrentStatus }
	// SetIdentity replaces the wizard's identity fields.
	SetIdentity struct{ Identity models.SubjectIdentity }
	// SetAcademic replaces the wizard's academic fields.
	SetAcademic struct{ Academic models.AcademicFacts }
	// NextStep advances the wizard when the current step is complete.
	NextStep struct{}
	// BackStep moves the wizard back one step.
	BackStep struct{}
	// UploadDocument offers a file for a category slot.
	UploadDocument struct{ Upload documents.Upload }
	// RemoveDocument clears a category slot.
	RemoveDocument struct{ Category models.DocumentCategory }
	// Submit sends the manual submission (first submission or resubmission).
	Submit struct{}
	// StartAutomated enters in_progress through the automated channel. It is
	// also the retry action after a failure.
	StartAutomated struct{}
	// Close tears the session down.
	Close struct{}
)

// Completions of asynchronous work. Each carries the identity of the attempt
// or slot it was started for.
type (
	submitCompleted struct {
		seq          uint64
		resubmission bool
		ack          *models.Acknowledgment
		err          error
	}
	widgetSignaled struct{ signal widget.Signal }
	previewReady   struct{ result documents.PreviewResult }
)

func (LoadStatus) eventName() string      { return "load_status" }
func (SetIdentity) eventName() string     { return "set_identity" }
func (SetAcademic) eventName() string     { return "set_academic" }
func (NextStep) eventName() string        { return "next_step" }
func (BackStep) eventName() string        { return "back_step" }
func (UploadDocument) eventName() string  { return "upload_document" }
func (RemoveDocument) eventName() string  { return "remove_document" }
func (Submit) eventName() string          { return "submit" }
func (StartAutomated) eventName() string  { return "start_automated" }
func (Close) eventName() string           { return "close" }
func (submitCompleted) eventName() string { return "submit_completed" }
func (widgetSignaled) eventName() string  { return "widget_signal" }
func (previewReady) eventName() string    { return "preview_ready" }
