// Package harness runs scheduler scenarios and checks their traces.
//
// A scenario declares callback specs (CUE files), an initial component
// tree, scripted callback behavior, a list of steps and assertions. The
// harness drives a real engine.Scheduler against an in-memory tree,
// records every transition into an in-memory SQLite store, and evaluates
// the assertions against what was recorded.
//
// # Scenario Format
//
//	name: chain
//	description: "A feeds B"
//	specs:
//	  - ../specs/chain.cue
//	groups: [init]
//	tree:
//	  - id: src
//	    values: {v: 1}
//	  - id: {type: row, index: 1}
//	    loading: true
//	callbacks:
//	  A: {error: "boom"}
//	  total: {sum: true}
//	steps:
//	  - start: true
//	  - set: {id: src, property: v, value: 2}
//	  - mount: {id: extra}
//	  - unmount: extra
//	  - finish_loading: {type: row, index: 1}
//	assertions:
//	  - type: call_order
//	    callbacks: [A, B]
//
// Unscripted callbacks echo the value of their first input to every
// output. Completed updates are written back to the tree.
//
// # Assertion Types
//
//   - calls: the exact sequence of invoked callbacks
//   - call_order: callbacks first invoked in this relative order
//   - call_count: a callback was invoked exactly N times
//   - dropped: a callback instance was dropped with the given reason
//   - final_value: an endpoint holds the given value after the last step
//   - error_count: exactly N errors were reported
//
// # Deterministic Testing
//
// Scenarios run with testutil.Clock and testutil.ScriptedGroups, so the
// same scenario always records the same seqs and group tokens. Traces are
// compared against golden files under testdata/golden.
package harness
