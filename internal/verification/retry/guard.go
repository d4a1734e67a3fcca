// Package retry bounds the number of automated verification attempts a case
// may make.
package retry

import (
	dErrors "studentcheck/pkg/domain-errors"
)

// Guard counts failed automated attempts. It is owned by the controller's
// mailbox goroutine and is not safe for concurrent use.
//
// Invariant: 0 <= Count() <= Max().
type Guard struct {
	count int
	max   int
}

// New creates a guard allowing limit failed attempts. A non-positive limit
// disables the automated channel entirely.
func New(limit int) *Guard {
	if limit < 0 {
		limit = 0
	}
	return &Guard{max: limit}
}

// RecordFailure increments the failure count. Once the bound is reached
// further failures are absorbed.
func (g *Guard) RecordFailure() {
	if g.count < g.max {
		g.count++
	}
}

// CanRetry reports whether another automated attempt is allowed.
func (g *Guard) CanRetry() bool {
	return g.count < g.max
}

// Check returns a max_retries_exceeded error once the bound is reached.
func (g *Guard) Check() error {
	if g.CanRetry() {
		return nil
	}
	return dErrors.New(dErrors.CodeMaxRetriesExceeded, "maximum verification attempts reached")
}

func (g *Guard) Count() int     { return g.count }
func (g *Guard) Max() int       { return g.max }
func (g *Guard) Remaining() int { return g.max - g.count }
