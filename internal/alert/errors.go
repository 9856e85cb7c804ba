package alert

import "errors"

var (
	// ErrInvalidTransition is returned when the lifecycle does not allow the requested status change
	ErrInvalidTransition = errors.New("invalid alert status transition")

	// ErrActorRequired is returned when a transition carries no actor identity
	ErrActorRequired = errors.New("actor is required")

	// ErrInvalidStatus is returned when a status filter names no known status
	ErrInvalidStatus = errors.New("unknown alert status")
)
