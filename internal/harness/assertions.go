package harness

import (
	"fmt"
	"reflect"
	"slices"

	"github.com/roach88/cascade/internal/ir"
	"github.com/roach88/cascade/internal/tree"
)

// AssertionError describes a failed assertion.
type AssertionError struct {
	Type     string
	Expected any
	Actual   any
	Message  string
}

func (e *AssertionError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s (expected %v, got %v)", e.Type, e.Message, e.Expected, e.Actual)
	}
	return fmt.Sprintf("%s: expected %v, got %v", e.Type, e.Expected, e.Actual)
}

// EvaluateAssertions checks every assertion against a run's result and its
// final tree. It returns one error per failed assertion.
func EvaluateAssertions(assertions []Assertion, result *Result, tr *tree.MemTree) []error {
	var failures []error
	for i, a := range assertions {
		if err := evaluate(a, result, tr); err != nil {
			failures = append(failures, fmt.Errorf("assertion %d: %w", i, err))
		}
	}
	return failures
}

func evaluate(a Assertion, result *Result, tr *tree.MemTree) error {
	switch a.Type {
	case AssertCalls:
		return assertCalls(result.Calls, a.Callbacks)
	case AssertCallOrder:
		return assertCallOrder(result.Calls, a.Callbacks)
	case AssertCallCount:
		return assertCallCount(result.Calls, a.Callback, *a.Count)
	case AssertDropped:
		return assertDropped(result.Transitions, a.Callback, a.Reason)
	case AssertFinalValue:
		return assertFinalValue(tr, a.ID, a.Property, a.Value)
	case AssertErrorCount:
		if len(result.Errors) != *a.Count {
			return &AssertionError{Type: AssertErrorCount, Expected: *a.Count, Actual: len(result.Errors)}
		}
		return nil
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

// assertCalls requires the exact invocation sequence.
func assertCalls(calls, expected []string) error {
	if !slices.Equal(calls, expected) {
		return &AssertionError{Type: AssertCalls, Expected: expected, Actual: calls}
	}
	return nil
}

// assertCallOrder requires each named callback to have been invoked, with
// first invocations in the listed order. Other calls may interleave.
func assertCallOrder(calls, expected []string) error {
	last := -1
	for _, name := range expected {
		pos := slices.Index(calls, name)
		if pos == -1 {
			return &AssertionError{
				Type:     AssertCallOrder,
				Expected: expected,
				Actual:   calls,
				Message:  fmt.Sprintf("callback %q never invoked", name),
			}
		}
		if pos < last {
			return &AssertionError{
				Type:     AssertCallOrder,
				Expected: expected,
				Actual:   calls,
				Message:  fmt.Sprintf("callback %q invoked out of order", name),
			}
		}
		last = pos
	}
	return nil
}

func assertCallCount(calls []string, callback string, expected int) error {
	n := 0
	for _, c := range calls {
		if c == callback {
			n++
		}
	}
	if n != expected {
		return &AssertionError{
			Type:     AssertCallCount,
			Expected: expected,
			Actual:   n,
			Message:  fmt.Sprintf("callback %q", callback),
		}
	}
	return nil
}

// assertDropped requires at least one drop of callback with reason.
func assertDropped(transitions []ir.Transition, callback, reason string) error {
	var reasons []string
	for _, t := range transitions {
		if t.Callback != callback || t.Event != "drop" {
			continue
		}
		if t.Detail == reason {
			return nil
		}
		reasons = append(reasons, t.Detail)
	}
	return &AssertionError{
		Type:     AssertDropped,
		Expected: reason,
		Actual:   reasons,
		Message:  fmt.Sprintf("callback %q", callback),
	}
}

func assertFinalValue(tr *tree.MemTree, rawID any, property string, expected any) error {
	id, err := ir.ParseID(rawID)
	if err != nil {
		return fmt.Errorf("%s: %w", AssertFinalValue, err)
	}
	actual, ok := tr.Get(id, property)
	if !ok {
		return &AssertionError{
			Type:     AssertFinalValue,
			Expected: expected,
			Actual:   nil,
			Message:  fmt.Sprintf("%s.%s has no value", id, property),
		}
	}
	if !valuesEqual(expected, actual) {
		return &AssertionError{
			Type:     AssertFinalValue,
			Expected: expected,
			Actual:   actual,
			Message:  fmt.Sprintf("%s.%s", id, property),
		}
	}
	return nil
}

// valuesEqual compares decoded values, treating numbers of any Go type as
// equal when they denote the same quantity.
func valuesEqual(a, b any) bool {
	fa, aNum := number(a)
	fb, bNum := number(b)
	if aNum && bNum {
		return fa == fb
	}
	return reflect.DeepEqual(a, b)
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
