package event

import "errors"

var (
	// ErrInvalidTransition means the requested action is not legal from
	// the event's current state. Surfaced to the caller, never retried.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrPreconditionFailed means the action is in the table but a guard
	// rejected it, e.g. resolving a still-OPEN non-catastrophic event.
	ErrPreconditionFailed = errors.New("transition precondition failed")

	// ErrNotFound means no event exists with the given id.
	ErrNotFound = errors.New("event not found")
)
