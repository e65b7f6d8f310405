package dispatch

import "errors"

var (
	ErrJobNotFound = errors.New("dispatch: job not found")
	// ErrJobClosed rejects interest in a job that is no longer open.
	ErrJobClosed     = errors.New("dispatch: job is no longer open")
	ErrAlreadyQueued = errors.New("dispatch: fulfiller already queued")
	// ErrAssignmentRace rejects an acceptance from anyone but the current
	// head of an open job. Callers treat it as a lost race.
	ErrAssignmentRace    = errors.New("dispatch: assignment rejected")
	ErrInvalidTransition = errors.New("dispatch: invalid status transition")
	ErrNotOwner          = errors.New("dispatch: job belongs to another requester")
)
