package engine

import "errors"

// ErrStopped is returned by Submit once the Runner has stopped accepting
// commands.
var ErrStopped = errors.New("runner stopped")
