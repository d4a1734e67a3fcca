package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "studentcheck/pkg/domain-errors"
)

// Typed identifiers. Each wraps a UUID so a SlotID can never be passed where a
// SessionID is expected.
type (
	// ApplicantID identifies the applicant in the hosting application.
	ApplicantID uuid.UUID
	// SessionID identifies one open verification surface (one in-memory case).
	SessionID uuid.UUID
	// CaseID identifies a VerificationCase for logs and audit.
	CaseID uuid.UUID
	// SlotID identifies one accepted document upload.
	SlotID uuid.UUID
)

func NewSessionID() SessionID { return SessionID(uuid.New()) }
func NewCaseID() CaseID       { return CaseID(uuid.New()) }
func NewSlotID() SlotID       { return SlotID(uuid.New()) }

func (id ApplicantID) String() string { return uuid.UUID(id).String() }
func (id SessionID) String() string   { return uuid.UUID(id).String() }
func (id CaseID) String() string      { return uuid.UUID(id).String() }
func (id SlotID) String() string      { return uuid.UUID(id).String() }

func (id ApplicantID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id SessionID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id SlotID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }

// ParseApplicantID parses a non-nil UUID applicant identifier.
func ParseApplicantID(s string) (ApplicantID, error) {
	u, err := parseUUID(s, "applicant_id")
	return ApplicantID(u), err
}

// ParseSessionID parses a non-nil UUID session identifier.
func ParseSessionID(s string) (SessionID, error) {
	u, err := parseUUID(s, "session_id")
	return SessionID(u), err
}

// ParseSlotID parses a non-nil UUID slot identifier.
func ParseSlotID(s string) (SlotID, error) {
	u, err := parseUUID(s, "slot_id")
	return SlotID(u), err
}

func parseUUID(s, field string) (uuid.UUID, error) {
	if strings.TrimSpace(s) == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" must be a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" must not be the nil UUID")
	}
	return u, nil
}

// Text marshalling keeps the IDs as UUID strings in JSON.

func (id ApplicantID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id SessionID) MarshalText() ([]byte, error)   { return uuid.UUID(id).MarshalText() }
func (id CaseID) MarshalText() ([]byte, error)      { return uuid.UUID(id).MarshalText() }
func (id SlotID) MarshalText() ([]byte, error)      { return uuid.UUID(id).MarshalText() }

func (id *ApplicantID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *SessionID) UnmarshalText(b []byte) error   { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *CaseID) UnmarshalText(b []byte) error      { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *SlotID) UnmarshalText(b []byte) error      { return (*uuid.UUID)(id).UnmarshalText(b) }
