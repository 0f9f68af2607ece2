package jobmanager

import (
	"errors"
)

var (
	// ErrJobNotFound is returned when no live Job has the given job number or
	// tracks the given process id.
	ErrJobNotFound = errors.New("job not found")

	// ErrNoForegroundJob is returned when there is no Job in the foreground.
	ErrNoForegroundJob = errors.New("no foreground job")
)
