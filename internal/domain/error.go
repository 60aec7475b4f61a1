package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidExecContext = errors.New("invalid database execution context")
	ErrReadDatabaseRow    = errors.New("failed to read database row")

	// Queue
	ErrInvalidPayload = errors.New("job payload does not match job kind")
	ErrQueuePaused    = errors.New("queue is paused")
	ErrJobFailed      = errors.New("job failed")
	ErrWaitTimeout    = errors.New("timed out waiting for job")
	ErrLockLost       = errors.New("job lock is no longer held by this worker")

	// Collaborators
	ErrBackendUnavailable = errors.New("completion backend is not configured")
	ErrUpstream           = errors.New("upstream service error")

	ErrLockHeld = errors.New("lock is held by another owner")
)
