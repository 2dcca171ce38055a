package backlog

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidStatus is returned when a target status is not recognized.
	ErrInvalidStatus = errors.New("invalid status")
	// ErrInvalidInput is returned when a request is missing required fields.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound is returned when an activity does not exist in a workspace.
	ErrNotFound = errors.New("not found")
	// ErrSinkUnavailable is returned by submission when no sink is configured.
	ErrSinkUnavailable = errors.New("no sink available")
	// ErrMessageNotFound is returned by sinks when a referenced message is gone.
	ErrMessageNotFound = errors.New("message not found")
)

// TransportError wraps a failed call against a sink or the refinement
// service.
type TransportError struct {
	Sink string
	Op   string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Sink, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsMessageNotFound reports whether err means the referenced message no
// longer exists.
func IsMessageNotFound(err error) bool {
	return errors.Is(err, ErrMessageNotFound)
}
