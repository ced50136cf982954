// Package engine runs the burn workflow.
//
// ARCHITECTURE:
//
// Scheduler:
// Holds the in-memory view of the approval workflow (burns awaiting
// approval, burns scheduled for execution) on top of the ledger, which is
// the durable source of truth. Every stage change is written to the ledger
// before the in-memory view changes, so Restore after a crash rebuilds the
// same membership without re-announcing anything.
//
// Runner:
// A single goroutine owns every mutation. Periodic jobs (resolution polling
// and due-burn execution, payout batches, content publishing) and commands
// submitted from other goroutines (approve, reject, on-demand payouts) are
// executed one at a time, in the order the loop picks them up.
//
// Burns and transfers inside one job run sequentially. On shutdown the loop
// stops picking up new work; a job already running finishes with a context
// that is no longer cancelled, so no chain transaction is left without a
// recorded outcome.
package engine
