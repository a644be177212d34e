package testutil

import "sync"

// Clock is a resettable logical clock for tests. It satisfies
// engine.Sequencer.
//
// Unlike engine.Clock it can be rewound, so one scenario can run twice and
// produce identical seq values.
type Clock struct {
	mu   sync.Mutex
	last int64
}

// NewClock returns a clock whose first stamp is 1.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next stamp.
func (c *Clock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last++
	return c.last
}

// Last returns the most recent stamp without advancing.
func (c *Clock) Last() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Reset rewinds the clock so the next stamp is 1 again.
func (c *Clock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = 0
}
