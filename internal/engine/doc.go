// Package engine implements the cascade callback scheduler.
//
// The scheduler decides which callback instance runs next, with which
// resolved endpoints, and how concurrent and circular triggers reconcile.
// Callback business logic and the component tree live outside; the
// scheduler talks to them through Invoker, Readiness, resolve.Tree and
// Hooks.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// Every external call (Start, Submit, SubmitMutation, TreeChanged) and
// every settled future (readiness probe, invocation result) becomes an
// event on a FIFO queue. Run() dequeues events one at a time; after each
// event the scheduler runs passes until nothing moves. Invocations may
// overlap, the loop never blocks on them.
//
// Lifecycle:
//
//	requested → prioritized → executing → executed → done
//	                 ↓  ↑          ↓          ↓
//	              blocked       watched     stored → done
//
// Each instance carries a looplab/fsm machine; bucket moves are fsm events
// so an illegal move is rejected and logged rather than corrupting state.
// Any non-terminal bucket may also drop an instance.
//
// Each pass, in order:
//  1. merge duplicate requested instances
//  2. drop requested instances that closed a trigger loop
//  3. drop older copies of requested instances from later buckets
//  4. prune instances whose outputs left the tree
//  5. promote ready requested instances, breaking circular waits by
//     assumption
//  6. admit prioritized instances within the budget
//  7. notify, trigger dependents, and store or complete executed ones
//  8. release stored instances whose execution group settled
//
// CRITICAL PATTERNS:
//
// Budget:
// blocked + executing + watched never exceeds the budget (default 12),
// enforced by a weighted semaphore taken at admission.
//
// Stale results:
// Futures are never cancelled. A probe or result is consumed only if its
// instance still sits in the bucket that was waiting for it; otherwise it
// is discarded silently.
//
// Logical Clock:
// Recorded transitions are stamped with a monotonic seq from Clock.Next().
// Wall-clock timestamps are never used for ordering.
package engine
