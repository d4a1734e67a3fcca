package wizard

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"studentcheck/internal/verification/models"
	dErrors "studentcheck/pkg/domain-errors"
)

type fakeDocuments struct {
	ready bool
}

func (f *fakeDocuments) Ready() bool { return f.ready }

type WizardSuite struct {
	suite.Suite
	docs   *fakeDocuments
	wizard *Wizard
}

func TestWizardSuite(t *testing.T) {
	suite.Run(t, new(WizardSuite))
}

func (s *WizardSuite) SetupTest() {
	s.docs = &fakeDocuments{}
	s.wizard = New(s.docs, nil)
}

func janeIdentity() models.SubjectIdentity {
	return models.SubjectIdentity{
		FirstName:   "Jane",
		LastName:    "Doe",
		Email:       "jane@uni.edu",
		DateOfBirth: "2003-04-01",
	}
}

func stateAcademic() models.AcademicFacts {
	return models.AcademicFacts{
		Institution: "State University",
		StudentID:   "12345",
		Program:     "Computer Science",
	}
}

// =============================================================================
// Gating
// =============================================================================

func (s *WizardSuite) TestGatingProperty() {
	// Every combination of the seven required fields being blank or filled,
	// crossed with the documents being ready or not.
	for mask := 0; mask < 1<<8; mask++ {
		filled := func(bit int) bool { return mask&(1<<bit) != 0 }
		value := func(bit int, v string) string {
			if filled(bit) {
				return v
			}
			return "   "
		}

		w := New(&fakeDocuments{ready: filled(7)}, nil)
		w.SetIdentity(models.SubjectIdentity{
			FirstName:   value(0, "Jane"),
			LastName:    value(1, "Doe"),
			Email:       value(2, "jane@uni.edu"),
			DateOfBirth: value(3, "2003-04-01"),
		})
		s.Require().NoError(w.SetAcademic(models.AcademicFacts{
			Institution: value(4, "State University"),
			StudentID:   value(5, "12345"),
			Program:     value(6, "Computer Science"),
		}))

		identityOK := filled(0) && filled(1) && filled(2) && filled(3)
		academicOK := filled(4) && filled(5) && filled(6)

		s.Equal(identityOK, w.CanAdvance(StepIdentity), "mask %08b step 1", mask)
		s.Equal(identityOK && academicOK, w.CanAdvance(StepAcademic), "mask %08b step 2", mask)
		s.Equal(identityOK && academicOK && filled(7), w.CanAdvance(StepDocuments), "mask %08b step 3", mask)
	}
}

func (s *WizardSuite) TestCheckNamesMissingFields() {
	s.wizard.SetIdentity(models.SubjectIdentity{FirstName: "Jane", Email: "jane@uni.edu"})

	err := s.wizard.Check(StepIdentity)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	fields := dErrors.FieldsOf(err)
	s.Contains(fields, "lastName")
	s.Contains(fields, "dateOfBirth")
	s.NotContains(fields, "firstName")
	s.NotContains(fields, "phone", "phone is optional")
}

func (s *WizardSuite) TestCheckRejectsUnknownStep() {
	err := s.wizard.Check(Step(4))
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
}

// =============================================================================
// Navigation
// =============================================================================

func (s *WizardSuite) TestNavigation() {
	s.Run("back is refused on step 1", func() {
		err := s.wizard.Back()
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
		s.Equal(StepIdentity, s.wizard.Step())
	})

	s.Run("forward is blocked until the step is complete", func() {
		err := s.wizard.Next()
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Equal(StepIdentity, s.wizard.Step())
	})

	s.Run("walks to the documents step", func() {
		s.wizard.SetIdentity(janeIdentity())
		s.Require().NoError(s.wizard.Next())
		s.Require().NoError(s.wizard.SetAcademic(stateAcademic()))
		s.Require().NoError(s.wizard.Next())
		s.Equal(StepDocuments, s.wizard.Step())
		s.False(s.wizard.CanSubmit(), "no documents yet")

		err := s.wizard.Next()
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	s.Run("back keeps entered data", func() {
		s.Require().NoError(s.wizard.Back())
		s.Equal(StepAcademic, s.wizard.Step())
		s.Equal("State University", s.wizard.Academic().Institution)
		s.Equal("Jane", s.wizard.Identity().FirstName)
	})
}

func (s *WizardSuite) TestSubmitGate() {
	s.wizard.SetIdentity(janeIdentity())
	s.Require().NoError(s.wizard.SetAcademic(stateAcademic()))
	s.docs.ready = true

	s.Run("only from the last step", func() {
		s.True(s.wizard.CanAdvance(StepDocuments))
		s.False(s.wizard.CanSubmit())
		s.True(dErrors.HasCode(s.wizard.CheckSubmit(), dErrors.CodeInvalidState))
	})

	s.Run("enabled on the last step with documents", func() {
		s.Require().NoError(s.wizard.Next())
		s.Require().NoError(s.wizard.Next())
		s.True(s.wizard.CanSubmit())
		s.NoError(s.wizard.CheckSubmit())
	})

	s.Run("a document in error disables submit", func() {
		s.docs.ready = false
		s.False(s.wizard.CanSubmit())
		s.Contains(dErrors.FieldsOf(s.wizard.CheckSubmit()), "documents")
	})
}

func (s *WizardSuite) TestSetAcademicRejectsBadOptionalFields() {
	err := s.wizard.SetAcademic(models.AcademicFacts{Institution: "State University", YearOfStudy: "9"})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	s.Empty(s.wizard.Academic().Institution, "rejected input is not stored")
}

func (s *WizardSuite) TestSubmitLabel() {
	s.Equal(LabelSubmit, SubmitLabel(models.StatusNotSubmitted))
	s.Equal(LabelSubmit, SubmitLabel(models.StatusFailed))
	s.Equal(LabelResubmit, SubmitLabel(models.StatusRequested))
	s.Equal(LabelResubmit, SubmitLabel(models.StatusRejected))
}
