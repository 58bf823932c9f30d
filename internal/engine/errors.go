package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrQueueFull is returned by Submit when the worker pool cannot accept
	// another job. No job is left behind in the store.
	ErrQueueFull = errors.New("job queue is full")

	// ErrPoolStopped is returned by Submit after Shutdown has begun.
	ErrPoolStopped = errors.New("engine is shutting down")
)

// ValidationError reports a rejected submission. It is returned before any
// job is created.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
