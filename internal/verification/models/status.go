package models

import (
	"strings"

	dErrors "studentcheck/pkg/domain-errors"
)

// Status is the single canonical case status.
type Status string

const (
	StatusNotSubmitted Status = "not_submitted"
	StatusPending      Status = "pending"
	StatusInProgress   Status = "in_progress"
	StatusRequested    Status = "requested"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusRejected     Status = "rejected"
)

// IsValid checks if the status is one of the canonical values.
func (s Status) IsValid() bool {
	switch s {
	case StatusNotSubmitted, StatusPending, StatusInProgress, StatusRequested,
		StatusCompleted, StatusFailed, StatusRejected:
		return true
	}
	return false
}

func (s Status) String() string {
	return string(s)
}

// transitions lists the legal forward moves of the case automaton. Backend
// status reloads reseed the case and do not go through this table.
var transitions = map[Status][]Status{
	StatusNotSubmitted: {StatusPending, StatusInProgress},
	StatusInProgress:   {StatusCompleted, StatusFailed},
	StatusFailed:       {StatusInProgress, StatusPending},
	StatusRequested:    {StatusPending, StatusInProgress},
	StatusRejected:     {StatusPending, StatusInProgress},
}

// CanTransitionTo reports whether moving from s to next is legal.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsResubmission reports whether a manual submit from s is a resubmission.
func (s Status) IsResubmission() bool {
	return s == StatusRequested || s == StatusRejected
}

// ReviewStatus is the narrower vocabulary some surfaces (profile payloads,
// staff review tools) use. It is never stored; it is mapped at the boundary.
type ReviewStatus string

const (
	ReviewNotSubmitted  ReviewStatus = "not_submitted"
	ReviewPending       ReviewStatus = "pending"
	ReviewApproved      ReviewStatus = "approved"
	ReviewRejected      ReviewStatus = "rejected"
	ReviewInfoRequested ReviewStatus = "info_requested"
)

// IsValid checks if the review status is one of the supported values.
func (r ReviewStatus) IsValid() bool {
	switch r {
	case ReviewNotSubmitted, ReviewPending, ReviewApproved, ReviewRejected, ReviewInfoRequested:
		return true
	}
	return false
}

var toReview = map[Status]ReviewStatus{
	StatusNotSubmitted: ReviewNotSubmitted,
	StatusPending:      ReviewPending,
	StatusInProgress:   ReviewPending,
	StatusRequested:    ReviewInfoRequested,
	StatusCompleted:    ReviewApproved,
	StatusFailed:       ReviewNotSubmitted,
	StatusRejected:     ReviewRejected,
}

var fromReview = map[ReviewStatus]Status{
	ReviewNotSubmitted:  StatusNotSubmitted,
	ReviewPending:       StatusPending,
	ReviewApproved:      StatusCompleted,
	ReviewRejected:      StatusRejected,
	ReviewInfoRequested: StatusRequested,
}

// ToReview maps a canonical status onto the review vocabulary. in_progress and
// failed have no review counterpart of their own and collapse to pending and
// not_submitted respectively.
func (s Status) ToReview() ReviewStatus {
	if r, ok := toReview[s]; ok {
		return r
	}
	return ReviewNotSubmitted
}

// Canonical maps a review status onto the canonical enum.
func (r ReviewStatus) Canonical() Status {
	if s, ok := fromReview[r]; ok {
		return s
	}
	return StatusNotSubmitted
}

// ParseStatus accepts a value from either vocabulary and returns the
// canonical status. Values shared by both vocabularies mean the same thing.
func ParseStatus(raw string) (Status, error) {
	v := strings.ToLower(strings.TrimSpace(raw))
	if v == "" {
		return StatusNotSubmitted, nil
	}
	if s := Status(v); s.IsValid() {
		return s, nil
	}
	if r := ReviewStatus(v); r.IsValid() {
		return r.Canonical(), nil
	}
	return "", dErrors.New(dErrors.CodeInvalidInput, "unknown verification status: "+raw)
}
