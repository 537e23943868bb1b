package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition reports an event that is not accepted in the current state.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrUnknownEntity reports a review or result for an entity the run does not track.
	ErrUnknownEntity = errors.New("unknown entity")
	// ErrRetryExhausted reports a retry request after the retry budget is spent.
	ErrRetryExhausted = errors.New("retry budget exhausted")
	// ErrRunTerminal reports an event delivered to a completed or cancelled run.
	ErrRunTerminal = errors.New("run is terminal")
	// ErrInvalidResumePoint reports a paused run whose origin state cannot be resumed.
	ErrInvalidResumePoint = errors.New("invalid resume point")
	// ErrBackwardTransition reports an entity status change against the monotonic order.
	ErrBackwardTransition = errors.New("backward entity transition")
	// ErrInvalidEvent reports a malformed event payload.
	ErrInvalidEvent = errors.New("invalid event")
)

// TransitionError describes a rejected event. It unwraps to one of the sentinels above.
type TransitionError struct {
	State State
	Event string
	Err   error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s rejected in state %s: %v", e.Event, e.State, e.Err)
}

func (e *TransitionError) Unwrap() error { return e.Err }

// IsRejection reports whether err is a local rejection that left the run unchanged.
func IsRejection(err error) bool {
	var te *TransitionError
	return errors.As(err, &te)
}

// actionError marks a failure raised while executing transition actions. Unlike
// a rejection it moves the run to FAILED.
type actionError struct {
	err error
}

func (e *actionError) Error() string { return "transition action failed: " + e.err.Error() }

func (e *actionError) Unwrap() error { return e.err }

func actionFailure(err error) error {
	if err == nil {
		return nil
	}
	return &actionError{err: err}
}
