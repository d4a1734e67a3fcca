package controller

import (
	"studentcheck/internal/verification/models"
	"studentcheck/internal/verification/wizard"
)

// WidgetProgress mirrors what the provider form has reported during the
// current automated attempt.
type WidgetProgress struct {
	Active  bool   `json:"active"`
	Ready   bool   `json:"ready"`
	Step    string `json:"step,omitempty"`
	Locale  string `json:"locale,omitempty"`
	Attempt uint64 `json:"attempt,omitempty"`
}

// Affordances are the actions the presentation layer may offer right now.
type Affordances struct {
	StartAutomated   bool   `json:"startAutomated"`
	RetryAutomated   bool   `json:"retryAutomated"`
	ManualChannel    bool   `json:"manualChannel"`
	Submit           bool   `json:"submit"`
	SubmitLabel      string `json:"submitLabel"`
	Next             bool   `json:"next"`
	Back             bool   `json:"back"`
	RetriesRemaining int    `json:"retriesRemaining"`
}

// Snapshot is an immutable view of the session handed to readers.
type Snapshot struct {
	SessionID    string                  `json:"sessionId"`
	Case         models.VerificationCase `json:"case"`
	ReviewStatus models.ReviewStatus     `json:"reviewStatus"`
	Step         int                     `json:"step"`
	StepName     string                  `json:"stepName"`
	Submitting   bool                    `json:"submitting"`
	Terminal     bool                    `json:"terminal"`
	Closed       bool                    `json:"closed"`
	Widget       WidgetProgress          `json:"widget"`
	Message      *Message                `json:"message,omitempty"`
	Actions      Affordances             `json:"actions"`
}

func (c *Controller) snapshot() Snapshot {
	kase := c.kase.Clone()
	step := c.wizard.Step()
	snap := Snapshot{
		SessionID:    c.sessionID.String(),
		Case:         kase,
		ReviewStatus: kase.Status.ToReview(),
		Step:         int(step),
		StepName:     step.String(),
		Submitting:   c.submitting,
		Terminal:     c.terminal(),
		Closed:       c.closed,
		Widget:       c.progress,
	}
	if c.message != nil {
		msg := *c.message
		snap.Message = &msg
	}
	if c.closed {
		return snap
	}

	editable := !c.submitting && c.manualAllowed()
	automated := !c.submitting && c.guard.CanRetry()
	switch kase.Status {
	case models.StatusNotSubmitted, models.StatusRequested, models.StatusRejected:
		snap.Actions.StartAutomated = automated
	case models.StatusFailed:
		snap.Actions.RetryAutomated = automated
	}
	snap.Actions.ManualChannel = editable
	snap.Actions.Submit = editable && c.wizard.CanSubmit()
	snap.Actions.SubmitLabel = wizard.SubmitLabel(kase.Status)
	snap.Actions.Next = editable && step != wizard.StepDocuments && c.wizard.CanAdvance(step)
	snap.Actions.Back = editable && step != wizard.StepIdentity
	snap.Actions.RetriesRemaining = c.guard.Remaining()
	return snap
}
