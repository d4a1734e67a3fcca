package models

import (
	"time"

	id "studentcheck/pkg/domain"
)

// Channel is the path a case was (or is being) verified through.
type Channel string

const (
	ChannelNone      Channel = ""
	ChannelAutomated Channel = "automated"
	ChannelManual    Channel = "manual"
)

// MaxRetries is the number of failed automated attempts after which the
// automated channel is locked for the case.
const MaxRetries = 3

// VerificationCase is the aggregate for one applicant's verification
// attempt. The controller owns the live copy; everything handed out is a
// snapshot.
type VerificationCase struct {
	ID             id.CaseID                         `json:"id"`
	ApplicantID    id.ApplicantID                    `json:"applicantId"`
	Identity       SubjectIdentity                   `json:"personalInfo"`
	Academic       AcademicFacts                     `json:"academicInfo"`
	Documents      map[DocumentCategory]DocumentSlot `json:"documents"`
	Channel        Channel                           `json:"channel,omitempty"`
	Status         Status                            `json:"status"`
	RetryCount     int                               `json:"retryCount"`
	Feedback       string                            `json:"feedback,omitempty"`
	RequestID      string                            `json:"requestId,omitempty"`
	SubmissionDate *time.Time                        `json:"submissionDate,omitempty"`
	LastUpdate     *time.Time                        `json:"lastUpdate,omitempty"`
	CreatedAt      time.Time                         `json:"createdAt"`
}

// NewVerificationCase creates an empty case for the applicant.
func NewVerificationCase(applicantID id.ApplicantID, now time.Time) *VerificationCase {
	return &VerificationCase{
		ID:          id.NewCaseID(),
		ApplicantID: applicantID,
		Documents:   map[DocumentCategory]DocumentSlot{},
		Status:      StatusNotSubmitted,
		CreatedAt:   now,
	}
}

// IsTerminal reports whether the case accepts no further transitions:
// completed, or failed once the attempt bound has been reached. The bound is
// configurable, so the caller decides whether it is exhausted.
func (c *VerificationCase) IsTerminal(retriesExhausted bool) bool {
	return c.Status == StatusCompleted ||
		(c.Status == StatusFailed && retriesExhausted)
}

// Touch records a status change time.
func (c *VerificationCase) Touch(now time.Time) {
	t := now
	c.LastUpdate = &t
}

// Clone returns a deep copy safe to hand outside the owning goroutine.
func (c *VerificationCase) Clone() VerificationCase {
	out := *c
	out.Documents = make(map[DocumentCategory]DocumentSlot, len(c.Documents))
	for k, v := range c.Documents {
		v.Content = nil
		out.Documents[k] = v
	}
	if c.SubmissionDate != nil {
		t := *c.SubmissionDate
		out.SubmissionDate = &t
	}
	if c.LastUpdate != nil {
		t := *c.LastUpdate
		out.LastUpdate = &t
	}
	return out
}

// CurrentStatus is the status read the hosting application already holds for
// the applicant. Status may use either vocabulary.
type CurrentStatus struct {
	Status         string     `json:"status"`
	SubmissionDate *time.Time `json:"submissionDate,omitempty"`
	LastUpdate     *time.Time `json:"lastUpdate,omitempty"`
	Feedback       string     `json:"feedback,omitempty"`
	RequestID      string     `json:"requestId,omitempty"`
}
