package burn

import "errors"

// Sentinel errors for expected caller-misuse paths. Callers branch on these
// with errors.Is; none of them indicates a broken process.
var (
	// ErrNotDetected is returned when execution is recorded for a slug that
	// was never detected.
	ErrNotDetected = errors.New("burn not detected")

	// ErrNotPending is returned when approving or rejecting a slug that is
	// not awaiting approval.
	ErrNotPending = errors.New("burn not pending approval")

	// ErrInvalidTransition is returned when a status or stage change would
	// move backwards or skip the approval gate.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrUnknownTarget is returned when a slug is not configured.
	ErrUnknownTarget = errors.New("unknown target")

	// ErrDuplicateSlug is returned when two configured targets share a slug.
	ErrDuplicateSlug = errors.New("duplicate target slug")
)
