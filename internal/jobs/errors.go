package jobs

import "errors"

var (
	ErrJobNotFound   = errors.New("job not found")
	ErrUnknownKind   = errors.New("unknown job kind")
	ErrRunnerStopped = errors.New("job runner stopped")
	ErrJobFinished   = errors.New("job already finished")

	// ErrCancelled is the cancel cause of a cooperative cancel. Work that
	// already completed is still flushed.
	ErrCancelled = errors.New("cancelled")
	// ErrHardAbort is the cancel cause when completed work must be discarded.
	ErrHardAbort = errors.New("aborted")
)
