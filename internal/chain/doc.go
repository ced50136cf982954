// Package chain executes token movements: burning the allocation for a
// resolved target and transferring reward payouts.
//
// Amounts at this boundary are always base units. Executors report ordinary
// failures (RPC errors, insufficient funds, unconfirmed transactions) in the
// returned Result and never panic on them.
package chain
