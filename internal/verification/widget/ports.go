// Package widget wraps the third-party automated verification provider as a
// single-use, idempotent resource owned by one case at a time.
package widget

import (
	"context"

	"studentcheck/internal/verification/models"
)

// EventName is one of the provider's fixed form events.
type EventName string

const (
	EventReady         EventName = "ready"
	EventStepChanged   EventName = "step-changed"
	EventLocaleChanged EventName = "locale-changed"
	EventSuccess       EventName = "success"
	EventError         EventName = "error"
)

// SubscribedEvents is the fixed set the adapter listens to.
func SubscribedEvents() []EventName {
	return []EventName{EventReady, EventStepChanged, EventLocaleChanged, EventSuccess, EventError}
}

// IsValid checks if the name is one of the subscribed events.
func (e EventName) IsValid() bool {
	switch e {
	case EventReady, EventStepChanged, EventLocaleChanged, EventSuccess, EventError:
		return true
	}
	return false
}

// Event is a provider form callback payload.
type Event struct {
	Name    EventName `json:"event"`
	Step    string    `json:"step,omitempty"`
	Locale  string    `json:"locale,omitempty"`
	Message string    `json:"message,omitempty"`
}

// ResourceKind distinguishes the injected runtime assets.
type ResourceKind string

const (
	ResourceScript     ResourceKind = "script"
	ResourceStylesheet ResourceKind = "stylesheet"
)

// Resource is a handle on one injected asset.
type Resource struct {
	ID   string
	Kind ResourceKind
	URL  string
}

// Host is the environment the provider runtime is injected into.
type Host interface {
	Inject(ctx context.Context, kind ResourceKind, url string) (Resource, error)
	Remove(ctx context.Context, res Resource) error
	// Provider returns the provider object once the runtime has initialized.
	Provider(ctx context.Context) (Runtime, bool)
}

// ModalOptions configures the embedded verification flow.
type ModalOptions struct {
	CaseID string
	Locale string
}

// Runtime is the provider object exposed by the loaded script.
type Runtime interface {
	LoadInModal(ctx context.Context, programURL string, opts ModalOptions) (FormHandle, error)
}

// FormHandle is one instantiated provider flow.
type FormHandle interface {
	SetViewModel(ctx context.Context, vm ViewModel) error
	On(name EventName, fn func(Event))
	Close(ctx context.Context) error
}

// ViewModel pre-populates the provider form with the applicant's identity.
type ViewModel struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Email       string `json:"email"`
	Phone       string `json:"phone,omitempty"`
	DateOfBirth string `json:"dateOfBirth"`
}

// NewViewModel maps the identity onto the provider's field names.
func NewViewModel(identity models.SubjectIdentity) ViewModel {
	return ViewModel{
		FirstName:   identity.FirstName,
		LastName:    identity.LastName,
		Email:       identity.Email,
		Phone:       identity.Phone,
		DateOfBirth: identity.DateOfBirth,
	}
}
