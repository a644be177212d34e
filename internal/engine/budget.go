package engine

import (
	"golang.org/x/sync/semaphore"
)

// DefaultBudget is the default concurrency ceiling.
const DefaultBudget = 12

// budget tracks the admission slots held by blocked, executing and watched
// instances.
//
// Slots are taken with TryAcquire during an admission round and released
// when an instance leaves those buckets. The semaphore never blocks the
// loop: admission simply stops when no slot is free.
type budget struct {
	sem  *semaphore.Weighted
	size int64
	held int64
}

func newBudget(size int) *budget {
	if size < 1 {
		size = 1
	}
	return &budget{sem: semaphore.NewWeighted(int64(size)), size: int64(size)}
}

// tryAcquire takes one slot if available.
func (b *budget) tryAcquire() bool {
	if !b.sem.TryAcquire(1) {
		return false
	}
	b.held++
	return true
}

// release returns one slot.
func (b *budget) release() {
	b.sem.Release(1)
	b.held--
}

// available returns the number of free slots.
func (b *budget) available() int {
	return int(b.size - b.held)
}

// Size returns the ceiling.
func (b *budget) Size() int {
	return int(b.size)
}
