package model

import "errors"

var (
	// ErrDuplicateJob is returned when enqueueing a key that already has a non-terminal job.
	ErrDuplicateJob = errors.New("duplicate job")
	// ErrNoWorkAvailable is returned when a claim finds no pending job.
	ErrNoWorkAvailable = errors.New("no work available")
	// ErrInvalidTransition is returned when a state-machine precondition is violated,
	// including ownership mismatches.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrStoreUnavailable is returned when the coordination store cannot be reached.
	ErrStoreUnavailable = errors.New("coordination store unavailable")
	// ErrJobNotFound is returned when no job exists for a key.
	ErrJobNotFound = errors.New("job not found")
	// ErrVersionConflict is returned by a compare-and-swap whose expected version is stale.
	ErrVersionConflict = errors.New("job version conflict")
	// ErrJobCancelled is returned to the owning host once its running job has been cancelled.
	ErrJobCancelled = errors.New("job cancelled")
)
