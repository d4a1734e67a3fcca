package models_test

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"studentcheck/internal/verification/models"
	dErrors "studentcheck/pkg/domain-errors"
)

type StatusSuite struct {
	suite.Suite
}

func TestStatusSuite(t *testing.T) {
	suite.Run(t, new(StatusSuite))
}

// =============================================================================
// Vocabulary mapping
// =============================================================================

func (s *StatusSuite) TestToReview() {
	cases := map[models.Status]models.ReviewStatus{
		models.StatusNotSubmitted: models.ReviewNotSubmitted,
		models.StatusPending:      models.ReviewPending,
		models.StatusInProgress:   models.ReviewPending,
		models.StatusRequested:    models.ReviewInfoRequested,
		models.StatusCompleted:    models.ReviewApproved,
		models.StatusFailed:       models.ReviewNotSubmitted,
		models.StatusRejected:     models.ReviewRejected,
	}
	for status, want := range cases {
		s.Run(string(status), func() {
			s.Equal(want, status.ToReview())
		})
	}
}

func (s *StatusSuite) TestCanonical() {
	cases := map[models.ReviewStatus]models.Status{
		models.ReviewNotSubmitted:  models.StatusNotSubmitted,
		models.ReviewPending:       models.StatusPending,
		models.ReviewApproved:      models.StatusCompleted,
		models.ReviewRejected:      models.StatusRejected,
		models.ReviewInfoRequested: models.StatusRequested,
	}
	for review, want := range cases {
		s.Run(string(review), func() {
			s.Equal(want, review.Canonical())
		})
	}
}

func (s *StatusSuite) TestRoundTrip() {
	s.Run("every review status survives canonical and back", func() {
		for _, r := range []models.ReviewStatus{
			models.ReviewNotSubmitted, models.ReviewPending, models.ReviewApproved,
			models.ReviewRejected, models.ReviewInfoRequested,
		} {
			s.Equal(r, r.Canonical().ToReview(), r)
		}
	})

	s.Run("only in_progress and failed are lossy", func() {
		for _, st := range []models.Status{
			models.StatusNotSubmitted, models.StatusPending, models.StatusRequested,
			models.StatusCompleted, models.StatusRejected,
		} {
			s.Equal(st, st.ToReview().Canonical(), st)
		}
		s.Equal(models.StatusPending, models.StatusInProgress.ToReview().Canonical())
		s.Equal(models.StatusNotSubmitted, models.StatusFailed.ToReview().Canonical())
	})
}

func (s *StatusSuite) TestParseStatus() {
	s.Run("accepts canonical values", func() {
		st, err := models.ParseStatus("in_progress")
		s.Require().NoError(err)
		s.Equal(models.StatusInProgress, st)
	})

	s.Run("maps review vocabulary", func() {
		st, err := models.ParseStatus(" Approved ")
		s.Require().NoError(err)
		s.Equal(models.StatusCompleted, st)

		st, err = models.ParseStatus("info_requested")
		s.Require().NoError(err)
		s.Equal(models.StatusRequested, st)
	})

	s.Run("empty means not submitted", func() {
		st, err := models.ParseStatus("")
		s.Require().NoError(err)
		s.Equal(models.StatusNotSubmitted, st)
	})

	s.Run("rejects unknown values", func() {
		_, err := models.ParseStatus("verified")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

// =============================================================================
// Transition table
// =============================================================================

func (s *StatusSuite) TestCanTransitionTo() {
	s.Run("completed is terminal", func() {
		for _, next := range []models.Status{
			models.StatusNotSubmitted, models.StatusPending, models.StatusInProgress,
			models.StatusRequested, models.StatusFailed, models.StatusRejected,
		} {
			s.False(models.StatusCompleted.CanTransitionTo(next), next)
		}
	})

	s.Run("requested never jumps straight to completed", func() {
		s.False(models.StatusRequested.CanTransitionTo(models.StatusCompleted))
		s.True(models.StatusRequested.CanTransitionTo(models.StatusPending))
		s.True(models.StatusRequested.CanTransitionTo(models.StatusInProgress))
	})

	s.Run("pending only moves via backend reload", func() {
		s.False(models.StatusPending.CanTransitionTo(models.StatusCompleted))
		s.False(models.StatusPending.CanTransitionTo(models.StatusInProgress))
	})

	s.Run("in_progress resolves to completed or failed", func() {
		s.True(models.StatusInProgress.CanTransitionTo(models.StatusCompleted))
		s.True(models.StatusInProgress.CanTransitionTo(models.StatusFailed))
		s.False(models.StatusInProgress.CanTransitionTo(models.StatusPending))
	})
}
