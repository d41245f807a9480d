package eventstream

import "errors"

var (
	// ErrNilTaskEvent indicates a nil task event payload was provided to a publisher.
	ErrNilTaskEvent = errors.New("nil task event")

	// ErrInvalidTaskEvent wraps a Validate failure.
	ErrInvalidTaskEvent = errors.New("invalid task event")
)
