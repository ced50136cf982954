// Package api serves the local admin HTTP interface of the daemon and
// provides a client for it.
//
// Reads and writes both go through a Service, which the daemon implements
// by running each call on its single workflow goroutine.
package api
