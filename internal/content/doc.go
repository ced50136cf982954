// Package content keeps a rolling week of scheduled social posts and
// publishes the ones that are due.
package content
