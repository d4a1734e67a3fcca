// Package wizard implements the three-step manual submission form: identity,
// academic facts, documents.
package wizard

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"studentcheck/internal/verification/models"
	dErrors "studentcheck/pkg/domain-errors"
)

// Step is a wizard page, starting at 1.
type Step int

const (
	StepIdentity  Step = 1
	StepAcademic  Step = 2
	StepDocuments Step = 3
)

func (s Step) IsValid() bool {
	return s >= StepIdentity && s <= StepDocuments
}

func (s Step) String() string {
	switch s {
	case StepIdentity:
		return "identity"
	case StepAcademic:
		return "academic"
	case StepDocuments:
		return "documents"
	}
	return "unknown"
}

// Documents is the view of the slot store the documents step needs.
type Documents interface {
	Ready() bool
}

const (
	LabelSubmit   = "Submit"
	LabelResubmit = "Resubmit"
)

// Wizard holds the entered fields and the current step. It is owned by the
// controller goroutine and is not safe for concurrent use. Entered data
// survives failed submissions.
type Wizard struct {
	step      Step
	identity  models.SubjectIdentity
	academic  models.AcademicFacts
	documents Documents
	validate  *validator.Validate
}

// New creates a wizard on step 1. A nil validate builds a default one.
func New(documents Documents, validate *validator.Validate) *Wizard {
	if validate == nil {
		validate = validator.New()
	}
	validate.RegisterTagNameFunc(jsonFieldName)
	return &Wizard{
		step:      StepIdentity,
		documents: documents,
		validate:  validate,
	}
}

func jsonFieldName(fld reflect.StructField) string {
	name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	if name == "" {
		return fld.Name
	}
	return name
}

func (w *Wizard) Step() Step                       { return w.step }
func (w *Wizard) Identity() models.SubjectIdentity { return w.identity }
func (w *Wizard) Academic() models.AcademicFacts   { return w.academic }

// SetIdentity replaces the step 1 fields.
func (w *Wizard) SetIdentity(identity models.SubjectIdentity) {
	w.identity = identity.Normalize()
}

// SetAcademic replaces the step 2 fields. Optional fields are format-checked.
func (w *Wizard) SetAcademic(academic models.AcademicFacts) error {
	academic = academic.Normalize()
	if err := academic.Check(); err != nil {
		return err
	}
	w.academic = academic
	return nil
}

// CanAdvance reports whether every requirement of steps 1 through step holds.
func (w *Wizard) CanAdvance(step Step) bool {
	return w.Check(step) == nil
}

// Check returns a validation error naming the missing fields of the first
// step, up to and including step, whose requirements do not hold.
func (w *Wizard) Check(step Step) error {
	if !step.IsValid() {
		return dErrors.New(dErrors.CodeBadRequest, "unknown wizard step")
	}
	if err := w.checkStruct(w.identity, "Please complete your personal information."); err != nil {
		return err
	}
	if step == StepIdentity {
		return nil
	}
	if err := w.checkStruct(w.academic, "Please complete your academic information."); err != nil {
		return err
	}
	if step == StepAcademic {
		return nil
	}
	if w.documents == nil || !w.documents.Ready() {
		return dErrors.NewValidation("Please upload your student ID or proof of enrollment.",
			map[string]string{"documents": "at least one student ID or enrollment proof must be uploaded and no file may be in error"})
	}
	return nil
}

func (w *Wizard) checkStruct(v any, message string) error {
	err := w.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to validate wizard step")
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Field() + " is required"
	}
	return dErrors.NewValidation(message, fields)
}

// Next moves forward when the current step's requirements hold.
func (w *Wizard) Next() error {
	if w.step == StepDocuments {
		return dErrors.New(dErrors.CodeInvalidState, "already on the last step")
	}
	if err := w.Check(w.step); err != nil {
		return err
	}
	w.step++
	return nil
}

// Back moves to the previous step; it is refused on step 1.
func (w *Wizard) Back() error {
	if w.step == StepIdentity {
		return dErrors.New(dErrors.CodeInvalidState, "already on the first step")
	}
	w.step--
	return nil
}

// CanSubmit reports whether the wizard is on the last step with every
// requirement met.
func (w *Wizard) CanSubmit() bool {
	return w.step == StepDocuments && w.CanAdvance(StepDocuments)
}

// CheckSubmit returns why submission is not possible, or nil.
func (w *Wizard) CheckSubmit() error {
	if w.step != StepDocuments {
		return dErrors.New(dErrors.CodeInvalidState, "submission is only possible from the documents step")
	}
	return w.Check(StepDocuments)
}

// SubmitLabel is the outward label for the submit action given the case
// status.
func SubmitLabel(status models.Status) string {
	if status.IsResubmission() {
		return LabelResubmit
	}
	return LabelSubmit
}
