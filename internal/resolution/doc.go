// Package resolution asks an external prediction market which outcomes
// have resolved.
//
// The Polymarket client reads the public gamma API. Each market in an event
// is one candidate name; a market counts as confirmed once it is closed and
// its first outcome ("Yes") is priced at exactly 1.
package resolution
