package recovery

import "errors"

var (
	// ErrInvalidTransition means the current status has no edge for the
	// requested action. This includes terminal statuses and transitions that
	// lost a race to a concurrent writer and were re-evaluated against the
	// now-current status.
	ErrInvalidTransition = errors.New("no transition for this action from the current status")

	// ErrInvalidRole means the edge exists but the caller's role may not
	// trigger it (e.g. a finder surrendering, or a proposer accepting their
	// own meetup).
	ErrInvalidRole = errors.New("role is not authorized for this action in the current status")

	// ErrForbidden means the caller is neither the owner nor the finder of
	// the recovery event.
	ErrForbidden = errors.New("caller is not a participant of this recovery")
)
