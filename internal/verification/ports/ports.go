// Package ports defines the interfaces the verification lifecycle consumes.
package ports

import (
	"context"
	"log/slog"

	"studentcheck/internal/verification/models"
	"studentcheck/internal/verification/widget"
	id "studentcheck/pkg/domain"
	"studentcheck/pkg/platform/audit"
	request "studentcheck/pkg/platform/middleware/request"
	"studentcheck/pkg/requestcontext"
)

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks Submitter,StatusSource,AuditPublisher

// Submitter sends a manual submission to the backend. Non-2xx responses and
// transport failures come back as network_error; 4xx responses carry the
// backend's human-readable message.
type Submitter interface {
	Submit(ctx context.Context, applicantID id.ApplicantID, req models.SubmissionRequest) (*models.Acknowledgment, error)
}

// StatusSource reads the status the hosting application holds for an
// applicant. A nil status with a nil error means nothing is on record.
type StatusSource interface {
	CurrentStatus(ctx context.Context, applicantID id.ApplicantID) (*models.CurrentStatus, error)
}

// AuditPublisher emits audit events for lifecycle operations.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Widget is the automated channel adapter as seen by the controller.
type Widget interface {
	Activate(ctx context.Context, caseID string, identity models.SubjectIdentity, sink widget.Sink) (uint64, error)
	Release(ctx context.Context) error
	State() widget.State
}

// LogAudit logs the event through the structured logger and emits it to the
// audit publisher if one is configured.
func LogAudit(ctx context.Context, logger *slog.Logger, publisher AuditPublisher, event audit.Event, attrs ...any) {
	if event.RequestID == "" {
		event.RequestID = request.GetRequestID(ctx)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.RequestID != "" {
		attrs = append(attrs, "request_id", event.RequestID)
	}
	if event.CaseID != "" {
		attrs = append(attrs, "case_id", event.CaseID)
	}
	if event.Status != "" {
		attrs = append(attrs, "status", event.Status)
	}
	args := append(attrs, "event", event.Action, "log_type", "audit")

	if logger != nil {
		logger.InfoContext(ctx, event.Action, args...)
	}

	if publisher == nil {
		return
	}
	if err := publisher.Emit(ctx, event); err != nil && logger != nil {
		logger.WarnContext(ctx, "failed to emit audit event", "event", event.Action, "error", err)
	}
}
