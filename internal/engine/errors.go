package engine

import (
	"errors"
	"fmt"
)

// ExecutionError wraps a failure returned by the invoker for one instance.
//
// The instance still completes: it records empty changes and triggers no
// dependents. The scheduler reports the error through Hooks.OnError and
// keeps running.
type ExecutionError struct {
	// ResolvedID identifies the failed instance.
	ResolvedID string

	// Callback is the callback's label.
	Callback string

	// ExecutionGroup is the group the instance ran in, if any.
	ExecutionGroup string

	// Err is the invoker's error.
	Err error
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	if e.ExecutionGroup != "" {
		return fmt.Sprintf("callback %s failed (group=%s): %v", e.Callback, e.ExecutionGroup, e.Err)
	}
	return fmt.Sprintf("callback %s failed: %v", e.Callback, e.Err)
}

// Unwrap returns the invoker's error.
func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// StaleReferenceError describes a deferred result that can no longer be
// used: the instance left the bucket that was waiting for it, or a probe
// settled false because one of its outputs left the tree. The scheduler
// recovers silently; the error exists for logs and metrics.
type StaleReferenceError struct {
	ResolvedID string

	// Stage is "probe" or "result".
	Stage string

	// Bucket is where the instance sat when the result arrived.
	Bucket Bucket
}

// Error implements the error interface.
func (e *StaleReferenceError) Error() string {
	return fmt.Sprintf("stale %s for %s (now %s)", e.Stage, e.ResolvedID, e.Bucket)
}

// IsExecutionError returns true if the error is an ExecutionError.
// Uses errors.As to handle wrapped errors.
func IsExecutionError(err error) bool {
	var ee *ExecutionError
	return errors.As(err, &ee)
}

// IsStaleReferenceError returns true if the error is a StaleReferenceError.
// Uses errors.As to handle wrapped errors.
func IsStaleReferenceError(err error) bool {
	var se *StaleReferenceError
	return errors.As(err, &se)
}

// ErrStopped is returned by Submit and friends after Stop.
var ErrStopped = errors.New("scheduler stopped")

var errNilFuture = errors.New("invoker returned no result")
