package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

var _ Sequencer = (*Clock)(nil)

func TestClock_FirstStamp(t *testing.T) {
	c := NewClock()
	assert.Equal(t, int64(0), c.Last())
	assert.Equal(t, int64(1), c.Next())
	assert.Equal(t, int64(1), c.Last())
}

func TestResumeClock(t *testing.T) {
	c := ResumeClock(41)

	assert.Equal(t, int64(42), c.Next())
	assert.Equal(t, int64(43), c.Next())
	assert.Equal(t, int64(43), c.Last(), "Last must not advance")
}

func TestClock_ConcurrentStampsUnique(t *testing.T) {
	c := NewClock()
	const workers = 20
	const stamps = 200

	var (
		mu   sync.Mutex
		seen = make(map[int64]bool)
		wg   sync.WaitGroup
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range stamps {
				seq := c.Next()
				mu.Lock()
				seen[seq] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*stamps)
	assert.Equal(t, int64(workers*stamps), c.Last())
}
