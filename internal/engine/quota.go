package engine

import (
	"errors"
	"fmt"
)

// DefaultMaxSteps bounds the scheduling passes a single event may cause.
// Chains of synchronously settling callbacks run inside one event, so the
// bound is generous; it exists to turn a livelock into a reported error.
const DefaultMaxSteps = 10000

// stepQuota counts scheduling passes for one event.
//
// CRITICAL DISTINCTION from cycle handling:
//   - Predecessor chains: stop a callback from re-triggering itself
//   - Step quota: stops any other unbounded churn inside one event
type stepQuota struct {
	maxSteps int
	current  int
}

func newStepQuota(maxSteps int) *stepQuota {
	return &stepQuota{maxSteps: maxSteps}
}

// Check increments the step counter and validates against the limit.
func (q *stepQuota) Check(event string) error {
	q.current++
	if q.current > q.maxSteps {
		return &StepsExceededError{Event: event, Steps: q.current, Limit: q.maxSteps}
	}
	return nil
}

// StepsExceededError is reported when one event keeps the scheduler busy
// past the step quota. The remaining work stays queued in its buckets and
// resumes on the next event.
type StepsExceededError struct {
	Event string // The event being processed
	Steps int    // Number of passes taken
	Limit int    // Maximum allowed passes
}

// Error implements the error interface.
func (e *StepsExceededError) Error() string {
	return fmt.Sprintf("%s event exceeded max steps quota: %d steps > %d limit",
		e.Event, e.Steps, e.Limit)
}

// IsStepsExceededError returns true if the error is a StepsExceededError.
// Uses errors.As to handle wrapped errors.
func IsStepsExceededError(err error) bool {
	var se *StepsExceededError
	return errors.As(err, &se)
}
