package builtins

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSuchJob is returned when a job number is not in the job table.
	ErrNoSuchJob = errors.New("no such job")

	// ErrNoSuchProcess is returned when a pid is not tracked, or its process
	// has already terminated.
	ErrNoSuchProcess = errors.New("no such process")

	// ErrIndexOutOfRange is returned when a process index does not address a
	// process of the job.
	ErrIndexOutOfRange = errors.New("index out of range")

	// ErrExit is returned by quit and exit. The shell terminates without
	// waiting for running jobs.
	ErrExit = errors.New("exit")
)

// UsageError is returned when a builtin is called with malformed arguments.
type UsageError struct {
	usage string
}

func (e UsageError) Error() string {
	return fmt.Sprintf("Usage: %s.", e.usage)
}

// NewUsageError returns a UsageError for the synopsis usage, e.g.
// "fg <jobid>".
func NewUsageError(usage string) UsageError {
	return UsageError{usage}
}
