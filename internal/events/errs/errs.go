// Package errs defines the small sentinel error taxonomy shared by the
// event engine and gateway stack. Callers map these to HTTP status codes at
// the API boundary with errors.Is; nothing below this boundary panics.
package errs

import "errors"

var (
	// ErrDuplicateEvent is returned by Store.AppendEvent when the event's
	// idempotency key already has a persisted event. Callers must treat
	// this as a successful no-op, not a failure.
	ErrDuplicateEvent = errors.New("events: duplicate idempotency key")

	// ErrNotFound is returned when an event or approval lookup finds no
	// row. Conversation and gateway-config lookups report a miss with their
	// own plain errors (or nil, nil for a lookup by gateway key).
	ErrNotFound = errors.New("events: not found")

	// ErrInvalidInput is returned for malformed request bodies, unknown
	// providers, or unrecognized decisions.
	ErrInvalidInput = errors.New("events: invalid input")

	// ErrUnauthorized is returned when a webhook secret/token check fails.
	ErrUnauthorized = errors.New("events: unauthorized")

	// ErrConflict is returned when an approval has already reached a
	// terminal status.
	ErrConflict = errors.New("events: conflict")
)

// ActionFailure wraps an individual action executor's error. It never
// stops other actions or other rules from running; the router aggregates
// these into a RouteReport instead of propagating them.
type ActionFailure struct {
	ActionType string
	Err        error
}

func (e *ActionFailure) Error() string {
	return "action " + e.ActionType + " failed: " + e.Err.Error()
}

func (e *ActionFailure) Unwrap() error {
	return e.Err
}
