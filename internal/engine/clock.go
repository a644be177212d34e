package engine

import "sync/atomic"

// Sequencer stamps lifecycle transitions with strictly increasing numbers.
type Sequencer interface {
	Next() int64
}

// Clock hands out transition sequence numbers.
//
// Ordering in a trace comes from seq alone; wall-clock time is never
// recorded, so two runs of the same scenario produce equal traces.
type Clock struct {
	last atomic.Int64
}

// NewClock returns a clock whose first stamp is 1.
func NewClock() *Clock {
	return &Clock{}
}

// ResumeClock returns a clock whose first stamp follows last, for
// appending to a run that already has recorded transitions.
func ResumeClock(last int64) *Clock {
	c := &Clock{}
	c.last.Store(last)
	return c
}

// Next implements Sequencer.
func (c *Clock) Next() int64 {
	return c.last.Add(1)
}

// Last returns the most recent stamp, 0 before the first.
func (c *Clock) Last() int64 {
	return c.last.Load()
}
