package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidExecContext = errors.New("invalid database execution context")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrOperationFailed    = errors.New("database operation failed")

	// Job lifecycle errors
	ErrInvalidTransition = errors.New("invalid job state transition")
	ErrSchedulerClosed   = errors.New("scheduler is not accepting jobs")
	ErrJobNotActive      = errors.New("job is not queued or running")
	ErrJobTimeout        = errors.New("job exceeded timeout")
	ErrJobStopped        = errors.New("stopped by user")
	ErrStaleJob          = errors.New("job was running when the process stopped")

	// Persistence errors
	ErrStoreWrite = errors.New("record store write failed")

	ErrLockHeld = errors.New("lock is held by another owner")
)
