// Package future provides a minimal Pending | Ready deferred value.
//
// A Future is settled exactly once. Consumers either poll (Value), wait
// (Await, Done) or register a callback (OnSettle). Callbacks run on the
// goroutine that settles the future, or immediately on the registering
// goroutine when the future is already settled, so they must not block.
//
// Cancellation is not modelled here: the scheduler invalidates work by
// checking, at consumption time, whether the owner is still registered.
package future

import (
	"context"
	"sync"
)

// Future holds a value of type T that may not be available yet.
type Future[T any] struct {
	mu        sync.Mutex
	settled   bool
	value     T
	callbacks []func(T)
	done      chan struct{}
}

// Ready returns a future that is already settled with v.
func Ready[T any](v T) *Future[T] {
	f := &Future[T]{settled: true, value: v, done: make(chan struct{})}
	close(f.done)
	return f
}

// New returns a pending future and the function that settles it.
// Only the first call to settle has an effect.
func New[T any]() (*Future[T], func(T)) {
	f := &Future[T]{done: make(chan struct{})}
	return f, f.settle
}

func (f *Future[T]) settle(v T) {
	f.mu.Lock()
	if f.settled {
		f.mu.Unlock()
		return
	}
	f.settled = true
	f.value = v
	callbacks := f.callbacks
	f.callbacks = nil
	close(f.done)
	f.mu.Unlock()

	for _, cb := range callbacks {
		cb(v)
	}
}

// Settled reports whether the value is available.
func (f *Future[T]) Settled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settled
}

// Value returns the value and true once settled, the zero value and false
// while pending.
func (f *Future[T]) Value() (T, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.settled
}

// Done is closed when the future settles.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the future settles or ctx is cancelled.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		v, _ := f.Value()
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// OnSettle registers fn to receive the value. If the future is already
// settled fn runs before OnSettle returns.
func (f *Future[T]) OnSettle(fn func(T)) {
	f.mu.Lock()
	if !f.settled {
		f.callbacks = append(f.callbacks, fn)
		f.mu.Unlock()
		return
	}
	v := f.value
	f.mu.Unlock()
	fn(v)
}
