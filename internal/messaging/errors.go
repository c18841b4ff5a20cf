package messaging

import "errors"

// Error kinds surfaced by the facade. Handlers map these to HTTP statuses;
// everything else is treated as internal.
var (
	// ErrNotFound: the conversation or message does not exist.
	ErrNotFound = errors.New("not found")
	// ErrForbidden: the actor is not a participant, or not the sender for
	// edit/delete.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidOperation: the request is well-formed but not allowed, such as
	// growing a direct conversation or creating a two-person group.
	ErrInvalidOperation = errors.New("invalid operation")
	// ErrTransient: timed out waiting for the conversation's critical section.
	// Safe to retry with backoff; no side effects occurred.
	ErrTransient = errors.New("transient: conversation busy")
)
