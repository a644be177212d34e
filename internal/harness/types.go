package harness

import "github.com/roach88/cascade/internal/ir"

// Result is the outcome of running one scenario.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool

	// Calls lists invoked callback names in invocation order.
	Calls []string

	// Transitions and Executions are the recorded trace, ordered by seq.
	Transitions []ir.Transition
	Executions  []ir.Execution

	// Errors holds the messages reported through the error hook.
	Errors []string

	// Failures holds one message per failed assertion.
	Failures []string
}
