package models

import (
	"time"

	id "studentcheck/pkg/domain"
)

// DocumentCategory names a document slot.
type DocumentCategory string

const (
	DocumentStudentID       DocumentCategory = "student_id"
	DocumentEnrollmentProof DocumentCategory = "enrollment_proof"
	DocumentTranscript      DocumentCategory = "transcript"
)

// IsValid checks if the category is one of the supported slots.
func (c DocumentCategory) IsValid() bool {
	switch c {
	case DocumentStudentID, DocumentEnrollmentProof, DocumentTranscript:
		return true
	}
	return false
}

// SatisfiesRequirement reports whether an uploaded document of this category
// counts toward the "at least one of" requirement. Transcripts are supporting
// evidence only.
func (c DocumentCategory) SatisfiesRequirement() bool {
	return c == DocumentStudentID || c == DocumentEnrollmentProof
}

// DocumentCategories lists every slot in display order.
func DocumentCategories() []DocumentCategory {
	return []DocumentCategory{DocumentStudentID, DocumentEnrollmentProof, DocumentTranscript}
}

const (
	// MaxDocumentBytes is the per-file upload limit (5 MiB).
	MaxDocumentBytes int64 = 5 << 20

	MIMEJPEG = "image/jpeg"
	MIMEPNG  = "image/png"
	MIMEPDF  = "application/pdf"
)

// AllowedMIMETypes lists the accepted upload types.
func AllowedMIMETypes() []string {
	return []string{MIMEJPEG, MIMEPNG, MIMEPDF}
}

// SlotStatus tracks whether a slot's file was read successfully.
type SlotStatus string

const (
	SlotUploaded SlotStatus = "uploaded"
	SlotError    SlotStatus = "error"
)

// FileMeta describes an uploaded file.
type FileMeta struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MIMEType string `json:"mimeType"`
}

// DocumentSlot is the single current file held for one category.
// Preview is a data URL; it stays empty until the async preview completes.
type DocumentSlot struct {
	ID         id.SlotID        `json:"id"`
	Category   DocumentCategory `json:"category"`
	File       FileMeta         `json:"file"`
	Preview    string           `json:"preview,omitempty"`
	Status     SlotStatus       `json:"status"`
	Error      string           `json:"error,omitempty"`
	UploadedAt time.Time        `json:"uploadedAt"`

	// Content is the accepted file body; it is sent with the submission and
	// never serialised back to the presentation layer.
	Content []byte `json:"-"`
}

// IsUploaded reports whether the slot holds a successfully read file.
func (s *DocumentSlot) IsUploaded() bool {
	return s != nil && s.Status == SlotUploaded
}
