package audit

import (
	"context"
	"time"

	id "studentcheck/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose so sinks can
// apply different retention.
type EventCategory string

const (
	// CategoryCompliance covers events that record what the applicant handed
	// over for review: submissions and document changes.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers events support staff may need to act on, such as
	// an exhausted automated channel.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine lifecycle activity.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from the verification lifecycle. Keep it transport-agnostic
// so stores and sinks can fan out.
type Event struct {
	Category    EventCategory
	Timestamp   time.Time
	ApplicantID id.ApplicantID
	CaseID      string
	SessionID   string
	Action      string
	Channel     string
	Status      string
	Reason      string
	RequestID   string
}

type AuditEvent string

const (
	EventVerificationStarted            AuditEvent = "verification_started"
	EventVerificationCompleted          AuditEvent = "verification_completed"
	EventVerificationFailed             AuditEvent = "verification_failed"
	EventVerificationServiceUnavailable AuditEvent = "verification_service_unavailable"
	EventVerificationRetriesExhausted   AuditEvent = "verification_retries_exhausted"
	EventVerificationSubmitted          AuditEvent = "verification_submitted"
	EventVerificationResubmitted        AuditEvent = "verification_resubmitted"
	EventDocumentUploaded               AuditEvent = "document_uploaded"
	EventDocumentRemoved                AuditEvent = "document_removed"
	EventSessionOpened                  AuditEvent = "session_opened"
	EventSessionClosed                  AuditEvent = "session_closed"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventVerificationSubmitted:   CategoryCompliance,
	EventVerificationResubmitted: CategoryCompliance,
	EventVerificationCompleted:   CategoryCompliance,
	EventDocumentUploaded:        CategoryCompliance,
	EventDocumentRemoved:         CategoryCompliance,

	EventVerificationRetriesExhausted: CategorySecurity,

	EventVerificationStarted:            CategoryOperations,
	EventVerificationFailed:             CategoryOperations,
	EventVerificationServiceUnavailable: CategoryOperations,
	EventSessionOpened:                  CategoryOperations,
	EventSessionClosed:                  CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByApplicant(ctx context.Context, applicantID id.ApplicantID) ([]Event, error)
}
