package models

import (
	"strings"
	"time"

	dErrors "studentcheck/pkg/domain-errors"
)

// SubjectIdentity holds the applicant's personal facts (wizard step 1).
// Phone is kept in E.164-compatible form.
type SubjectIdentity struct {
	FirstName   string `json:"firstName" validate:"required"`
	LastName    string `json:"lastName" validate:"required"`
	Email       string `json:"email" validate:"required"`
	Phone       string `json:"phone"`
	DateOfBirth string `json:"dateOfBirth" validate:"required"`
}

// Normalize trims whitespace so a blank field counts as empty.
func (i SubjectIdentity) Normalize() SubjectIdentity {
	return SubjectIdentity{
		FirstName:   strings.TrimSpace(i.FirstName),
		LastName:    strings.TrimSpace(i.LastName),
		Email:       strings.TrimSpace(i.Email),
		Phone:       NormalizePhone(i.Phone),
		DateOfBirth: strings.TrimSpace(i.DateOfBirth),
	}
}

// NormalizePhone strips formatting characters and keeps a leading "+".
func NormalizePhone(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	var b strings.Builder
	for i, r := range raw {
		switch {
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// YearOfStudy is the applicant's current year.
type YearOfStudy string

const (
	Year1          YearOfStudy = "1"
	Year2          YearOfStudy = "2"
	Year3          YearOfStudy = "3"
	Year4          YearOfStudy = "4"
	Year5Plus      YearOfStudy = "5+"
	YearGraduate   YearOfStudy = "graduate"
	YearUnassigned YearOfStudy = ""
)

// IsValid checks if the year is one of the supported values. Unassigned is
// valid because the field is optional.
func (y YearOfStudy) IsValid() bool {
	switch y {
	case Year1, Year2, Year3, Year4, Year5Plus, YearGraduate, YearUnassigned:
		return true
	}
	return false
}

// AcademicFacts holds the enrolment facts (wizard step 2).
// ExpectedGraduation is a year-month such as "2027-06".
type AcademicFacts struct {
	Institution        string      `json:"institution" validate:"required"`
	StudentID          string      `json:"studentId" validate:"required"`
	Program            string      `json:"program" validate:"required"`
	YearOfStudy        YearOfStudy `json:"yearOfStudy"`
	ExpectedGraduation string      `json:"expectedGraduation"`
}

// Normalize trims whitespace so a blank field counts as empty.
func (a AcademicFacts) Normalize() AcademicFacts {
	return AcademicFacts{
		Institution:        strings.TrimSpace(a.Institution),
		StudentID:          strings.TrimSpace(a.StudentID),
		Program:            strings.TrimSpace(a.Program),
		YearOfStudy:        YearOfStudy(strings.ToLower(strings.TrimSpace(string(a.YearOfStudy)))),
		ExpectedGraduation: strings.TrimSpace(a.ExpectedGraduation),
	}
}

// Check enforces the optional-field formats that the step predicate does not
// cover.
func (a AcademicFacts) Check() error {
	if !a.YearOfStudy.IsValid() {
		return dErrors.NewValidation("invalid year of study",
			map[string]string{"yearOfStudy": "year of study must be 1, 2, 3, 4, 5+ or graduate"})
	}
	if a.ExpectedGraduation != "" {
		if _, err := time.Parse("2006-01", a.ExpectedGraduation); err != nil {
			return dErrors.NewValidation("invalid expected graduation",
				map[string]string{"expectedGraduation": "expected graduation must be a year-month like 2027-06"})
		}
	}
	return nil
}
