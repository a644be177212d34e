package engine

import (
	"sync"

	"github.com/roach88/cascade/internal/ir"
)

// eventType distinguishes between event kinds.
type eventType int

const (
	// eventStart requests the initial calls.
	eventStart eventType = iota + 1
	// eventSubmit carries user-changed endpoints.
	eventSubmit
	// eventMutation carries a tree mutation batch.
	eventMutation
	// eventTreeChanged asks for a re-index and prune.
	eventTreeChanged
	// eventProbe carries a settled readiness probe.
	eventProbe
	// eventResult carries a settled invocation.
	eventResult
)

func (t eventType) String() string {
	switch t {
	case eventStart:
		return "start"
	case eventSubmit:
		return "submit"
	case eventMutation:
		return "mutation"
	case eventTreeChanged:
		return "tree_changed"
	case eventProbe:
		return "probe"
	case eventResult:
		return "result"
	default:
		return "unknown"
	}
}

// event is one unit of work for the loop.
type event struct {
	typ       eventType
	endpoints []ir.Endpoint
	strength  ir.ChangeStrength
	mutation  *Mutation
	entry     *entry
	ready     bool
	result    Result
}

// eventQueue is a thread-safe FIFO queue for events.
//
// The queue is unbounded: invoker and readiness futures settle on arbitrary
// goroutines and must never block on the loop.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop.
type eventQueue struct {
	mu     sync.Mutex
	events []event
	closed bool
	signal chan struct{} // Signals event availability (buffered, size 1)
}

// newEventQueue creates an empty event queue.
func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]event, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue.
// Thread-safe: may be called from any goroutine.
// Returns false if the queue is closed.
func (q *eventQueue) Enqueue(e event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.events = append(q.events, e)

	// Non-blocking: the buffer of 1 coalesces multiple signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue attempts to dequeue without blocking.
// Returns (event{}, false) if queue is empty.
func (q *eventQueue) TryDequeue() (event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return event{}, false
	}

	e := q.events[0]

	// CRITICAL: clear the slot so the backing array does not pin entries
	// and results after they are consumed.
	q.events[0] = event{}

	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}

	return e, true
}

// Wait returns a channel that signals when events may be available.
// Use with select for context-aware waiting:
//
//	select {
//	case <-ctx.Done():
//	    return ctx.Err()
//	case <-q.Wait():
//	    // Try TryDequeue
//	}
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Closed reports whether Close has been called.
func (q *eventQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close signals that no more events will be enqueued.
// Wakes any blocked waiters by closing the signal channel.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
