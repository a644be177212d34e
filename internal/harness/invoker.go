package harness

import (
	"context"
	"errors"

	"github.com/roach88/cascade/internal/engine"
	"github.com/roach88/cascade/internal/future"
	"github.com/roach88/cascade/internal/ir"
	"github.com/roach88/cascade/internal/tree"
)

// scriptedInvoker settles every call immediately according to the
// scenario's callback scripts. Unscripted callbacks echo their first input.
type scriptedInvoker struct {
	tree    *tree.MemTree
	scripts map[string]CallbackScript
}

// Invoke implements engine.Invoker.
func (i *scriptedInvoker) Invoke(_ context.Context, call engine.Call) *future.Future[engine.Result] {
	script := i.scripts[call.Spec.Label()]

	switch {
	case script.Error != "":
		return future.Ready(engine.Result{Err: errors.New(script.Error)})
	case script.NoUpdate:
		return future.Ready(engine.Result{})
	}

	inputs := i.tree.Values(ir.FlattenEndpoints(call.Inputs))
	var value any
	switch {
	case script.Value != nil:
		value = script.Value
	case script.Sum:
		value = sum(inputs)
	case len(inputs) > 0:
		value = inputs[0]
	}

	outputs := ir.FlattenEndpoints(call.Outputs)
	updates := make([]engine.Update, 0, len(outputs))
	for _, out := range outputs {
		updates = append(updates, engine.Update{Endpoint: out.Endpoint, Value: value})
	}
	return future.Ready(engine.Result{Updates: updates})
}

// sum adds numeric values, skipping anything else. The result is an int
// when every addend is an int.
func sum(values []any) any {
	var total float64
	ints := true
	for _, v := range values {
		switch n := v.(type) {
		case int:
			total += float64(n)
		case int64:
			total += float64(n)
		case float64:
			total += n
			ints = false
		}
	}
	if ints {
		return int(total)
	}
	return total
}
