package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBudget_AcquireRelease(t *testing.T) {
	b := newBudget(2)
	assert.Equal(t, 2, b.available())

	assert.True(t, b.tryAcquire())
	assert.True(t, b.tryAcquire())
	assert.False(t, b.tryAcquire(), "ceiling reached")
	assert.Equal(t, 0, b.available())

	b.release()
	assert.Equal(t, 1, b.available())
	assert.True(t, b.tryAcquire())
}

func TestBudget_MinimumOne(t *testing.T) {
	b := newBudget(0)
	assert.Equal(t, 1, b.Size())
}
