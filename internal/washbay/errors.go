package washbay

import "errors"

// Domain errors for the gateway core.
var (
	// ErrConnectionDown is returned for commands that arrive while the PLC
	// link is down. Such commands are dropped, not queued.
	ErrConnectionDown = errors.New("washbay: connection down")

	// ErrAlreadyActive is returned when START targets a bay that is
	// already STARTING or WASHING.
	ErrAlreadyActive = errors.New("washbay: bay already active")

	// ErrUnknownCourse is returned when START names a course the PLC
	// does not know.
	ErrUnknownCourse = errors.New("washbay: unknown course")

	// ErrInvalidCommand is returned for malformed command payloads.
	ErrInvalidCommand = errors.New("washbay: invalid command")

	// ErrDuplicateRequest is returned when a requestId was already
	// handled within the dedupe window.
	ErrDuplicateRequest = errors.New("washbay: duplicate request")

	// ErrRateLimited is returned when a bay receives commands faster than
	// the configured rate.
	ErrRateLimited = errors.New("washbay: rate limited")

	// ErrQueueFull is returned by Enqueue when the command queue is full.
	ErrQueueFull = errors.New("washbay: command queue full")

	// errLink marks driver failures that must hand the connection over to
	// the supervisor.
	errLink = errors.New("washbay: link failure")
)
