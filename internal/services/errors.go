package services

import "errors"

// Error taxonomy for the reconciliation and payout core. Handlers map these
// to HTTP statuses; everything else surfaces as a 500.
var (
	// ErrInvalidTransition marks a proposed status not reachable from the
	// current one. The event is discarded and logged, never user-visible.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrStaleEvent marks an event whose sequence marker is at or behind the
	// last applied one for its processor reference. Replays land here.
	ErrStaleEvent = errors.New("stale event sequence")

	// ErrConflict is returned when a payout is already pending for the
	// affiliate. Retryable once the pending request resolves.
	ErrConflict = errors.New("payout already pending for affiliate")

	// ErrAmbiguousOutcome means the external payout rail gave no definite
	// answer. The request stays pending and is resolved by reconciliation,
	// never by a blind retry.
	ErrAmbiguousOutcome = errors.New("external payout outcome unknown")

	// ErrNotFound wraps sql.ErrNoRows at the service boundary.
	ErrNotFound = errors.New("not found")
)
