// Package notify delivers burn lifecycle events to the outside world.
//
// A Sink reports delivery success as a bool. Callers log a false result and
// move on: delivery never affects the ledger or the workflow state.
package notify
