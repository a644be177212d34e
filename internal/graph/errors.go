package graph

import (
	"errors"
	"fmt"
	"strings"
)

// Validation error codes (E200-E299)
const (
	ErrEmptyProperty       = "E201" // endpoint property is empty
	ErrWildcardRole        = "E202" // wildcard not permitted for the endpoint role
	ErrDuplicateOutput     = "E203" // same exact output declared twice
	ErrOverlappingOutput   = "E204" // pattern outputs can address the same component
	ErrMismatchedMatchKeys = "E205" // outputs disagree on their MATCH keys

	// ErrUnboundWildcardKey: an input/state MATCH or ALLSMALLER key is not a
	// MATCH key of the first output. An {role: ALL} output with a
	// {role: MATCH} input is rejected; declare the output {role: MATCH} to
	// get one instance per role.
	ErrUnboundWildcardKey = "E206"

	ErrNoOutputs             = "E207" // callback declares no outputs
	ErrEmptyID               = "E208" // empty string id or empty dictionary
	ErrDuplicateCallbackName = "E209" // two callbacks share a name
)

// ValidationError describes one malformed callback declaration.
type ValidationError struct {
	Code     string `json:"code"`
	Callback string `json:"callback"`
	Field    string `json:"field"`
	Message  string `json:"message"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s: %s", e.Code, e.Callback, e.Field, e.Message)
}

// ValidationErrors aggregates every violation found while building a graph.
// The graph is still built from the callbacks that passed.
type ValidationErrors struct {
	Errors []*ValidationError
}

// Error implements the error interface.
func (e *ValidationErrors) Error() string {
	lines := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		lines[i] = ve.Error()
	}
	return fmt.Sprintf("%d callback validation error(s):\n%s", len(e.Errors), strings.Join(lines, "\n"))
}

// Unwrap exposes the individual errors to errors.Is/As.
func (e *ValidationErrors) Unwrap() []error {
	errs := make([]error, len(e.Errors))
	for i, ve := range e.Errors {
		errs[i] = ve
	}
	return errs
}

// Codes returns the error codes in report order.
func (e *ValidationErrors) Codes() []string {
	codes := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		codes[i] = ve.Code
	}
	return codes
}

// CycleError reports a circular dependency chain between endpoints.
//
// Path starts and ends with the same endpoint key. Shadow endpoints that
// stand in for a callback writing its own input carry a trailing "′".
type CycleError struct {
	Path []string
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	return "circular dependency: " + strings.Join(e.Path, " -> ")
}

// Members returns the distinct endpoints of the cycle.
func (e *CycleError) Members() []string {
	if len(e.Path) <= 1 {
		return e.Path
	}
	return e.Path[:len(e.Path)-1]
}

// InvariantError is an internal contradiction detected while resolving
// wildcards, such as comparing ALLSMALLER against ALLSMALLER. It is never
// caused by a well-formed declaration.
type InvariantError struct {
	Key     string
	Message string
}

// Error implements the error interface.
func (e *InvariantError) Error() string {
	return fmt.Sprintf("resolution invariant violated at key %q: %s", e.Key, e.Message)
}

// IsValidationError returns true if err carries a ValidationError.
// Uses errors.As to handle wrapped errors.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsCycleError returns true if err carries a CycleError.
func IsCycleError(err error) bool {
	var ce *CycleError
	return errors.As(err, &ce)
}

// IsInvariantError returns true if err carries an InvariantError.
func IsInvariantError(err error) bool {
	var ie *InvariantError
	return errors.As(err, &ie)
}
