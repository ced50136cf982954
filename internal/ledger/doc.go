// Package ledger is the durable record of everything listburn has decided.
//
// One SQLite file holds the burn ledger (which targets were detected, which
// were executed and with what transaction reference), the reward programs'
// source records, the payout history and the content calendar. Every write
// is committed with synchronous=FULL before the call returns, so a crash
// after a return never loses the write.
//
// The store owns its schema version through PRAGMA user_version. Opening an
// older file migrates it in place before any read is served; a file that is
// not a database at all is moved aside and replaced with a fresh store.
package ledger
