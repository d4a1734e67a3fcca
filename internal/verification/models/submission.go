package models

import (
	"encoding/base64"
	"time"
)

// SubmissionDocument is one document as sent to the submission endpoint.
// Payload is the base64-encoded file body.
type SubmissionDocument struct {
	Type     DocumentCategory `json:"type"`
	Name     string           `json:"name"`
	Size     int64            `json:"size"`
	MIMEType string           `json:"mimeType"`
	Payload  string           `json:"payload"`
}

// SubmissionAcademic is the academic block of the submission body.
type SubmissionAcademic struct {
	Institution        string `json:"institution"`
	StudentID          string `json:"studentId"`
	Program            string `json:"program"`
	Year               string `json:"year"`
	ExpectedGraduation string `json:"expectedGraduation"`
}

// SubmissionRequest is the body of POST /verification/submit.
type SubmissionRequest struct {
	PersonalInfo SubjectIdentity      `json:"personalInfo"`
	AcademicInfo SubmissionAcademic   `json:"academicInfo"`
	Documents    []SubmissionDocument `json:"documents"`
}

// NewSubmissionRequest builds the wire body from the aggregate. Slots in the
// error state are not sent.
func NewSubmissionRequest(identity SubjectIdentity, academic AcademicFacts, slots []DocumentSlot) SubmissionRequest {
	docs := make([]SubmissionDocument, 0, len(slots))
	for i := range slots {
		slot := slots[i]
		if !slot.IsUploaded() {
			continue
		}
		docs = append(docs, SubmissionDocument{
			Type:     slot.Category,
			Name:     slot.File.Name,
			Size:     slot.File.Size,
			MIMEType: slot.File.MIMEType,
			Payload:  base64.StdEncoding.EncodeToString(slot.Content),
		})
	}
	return SubmissionRequest{
		PersonalInfo: identity,
		AcademicInfo: SubmissionAcademic{
			Institution:        academic.Institution,
			StudentID:          academic.StudentID,
			Program:            academic.Program,
			Year:               string(academic.YearOfStudy),
			ExpectedGraduation: academic.ExpectedGraduation,
		},
		Documents: docs,
	}
}

// Acknowledgment is the backend's acceptance of a submission.
type Acknowledgment struct {
	RequestID   string    `json:"requestId"`
	Status      string    `json:"status,omitempty"`
	Message     string    `json:"message,omitempty"`
	SubmittedAt time.Time `json:"submittedAt"`
}
