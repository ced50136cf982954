// Package rewards runs payout batches for the community reward programs.
//
// A batch is gathered fresh on every run from the ledger's reward records
// (ambassadors, raid contributions, referrals, contest winners), capped with
// alloc.ComputeCappedBatch and, in live mode, paid out one transfer at a
// time. Amounts are whole tokens until the moment they reach the chain
// executor.
package rewards
