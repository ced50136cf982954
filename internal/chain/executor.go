package chain

import (
	"context"
	"errors"
)

// ErrInsufficientBalance is reported when the source account cannot cover
// the requested amount.
var ErrInsufficientBalance = errors.New("insufficient token balance")

// Result is the outcome of one on-chain action. Success means the
// transaction was confirmed, not merely submitted.
type Result struct {
	Success   bool
	Reference string
	Err       error
	// Attempt is set on a failure whose transaction may still land. The
	// action must not be submitted again until Tracker.Track reports the
	// attempt dropped.
	Attempt string
}

// Succeeded builds a successful result.
func Succeeded(ref string) Result {
	return Result{Success: true, Reference: ref}
}

// Failed builds a failed result.
func Failed(err error) Result {
	return Result{Err: err}
}

// Error returns the failure message, or "" for a success.
func (r Result) Error() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Executor moves tokens.
type Executor interface {
	// Burn destroys amount base units. label identifies the burn in
	// references and logs.
	Burn(ctx context.Context, label string, amount uint64) Result

	// Transfer sends amount base units to recipient, creating the
	// recipient's token account when needed.
	Transfer(ctx context.Context, recipient string, amount uint64) Result

	// Balance reports the base units available to Transfer.
	Balance(ctx context.Context) (uint64, error)
}

// AttemptStatus is what the chain knows about a submitted transaction.
type AttemptStatus int

const (
	// AttemptPending means the transaction may still land.
	AttemptPending AttemptStatus = iota
	// AttemptLanded means the transaction is confirmed.
	AttemptLanded
	// AttemptDropped means the transaction failed or can no longer land.
	AttemptDropped
)

func (s AttemptStatus) String() string {
	switch s {
	case AttemptLanded:
		return "landed"
	case AttemptDropped:
		return "dropped"
	default:
		return "pending"
	}
}

// Tracker resolves in-flight attempts. Executors that report
// Result.Attempt implement it.
type Tracker interface {
	// Track reports the state of attempt and, once landed, its reference.
	Track(ctx context.Context, attempt string) (AttemptStatus, string, error)
}
