package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cascade/internal/ir"
)

type move struct {
	event    string
	from, to Bucket
}

func testEntry(moves *[]move) *entry {
	spec := &ir.CallbackSpec{Outputs: []ir.Endpoint{ir.NewEndpoint(ir.StringID("out"), "x")}}
	return newEntry(ir.NewResolvedCallback(spec, ir.Binding{}), 1, func(_ *entry, ev string, from, to Bucket) {
		*moves = append(*moves, move{ev, from, to})
	})
}

// TestLifecycle_HappyPath tests the full path through watched and stored.
func TestLifecycle_HappyPath(t *testing.T) {
	ctx := context.Background()
	var moves []move
	e := testEntry(&moves)
	assert.Equal(t, BucketRequested, e.bucket())

	for _, ev := range []string{evPrioritize, evBlock, evExecute, evWatch, evSettle, evStore, evComplete} {
		require.NoError(t, e.fsm.Event(ctx, ev), ev)
	}
	assert.Equal(t, BucketDone, e.bucket())
	require.Len(t, moves, 7)
	assert.Equal(t, move{evBlock, BucketPrioritized, BucketBlocked}, moves[1])
}

// TestLifecycle_IllegalMoveRejected tests that the fsm refuses skipped
// states and leaves the bucket unchanged.
func TestLifecycle_IllegalMoveRejected(t *testing.T) {
	ctx := context.Background()
	var moves []move
	e := testEntry(&moves)

	assert.Error(t, e.fsm.Event(ctx, evSettle))
	assert.Error(t, e.fsm.Event(ctx, evWatch))
	assert.Equal(t, BucketRequested, e.bucket())
	assert.Empty(t, moves)
}

// TestLifecycle_DropFromAnyBucket tests that drop is legal everywhere
// except the terminal states.
func TestLifecycle_DropFromAnyBucket(t *testing.T) {
	ctx := context.Background()
	paths := [][]string{
		{},
		{evPrioritize},
		{evPrioritize, evBlock},
		{evPrioritize, evExecute},
		{evPrioritize, evExecute, evWatch},
		{evPrioritize, evExecute, evSettle},
		{evPrioritize, evExecute, evSettle, evStore},
	}
	for _, path := range paths {
		var moves []move
		e := testEntry(&moves)
		for _, ev := range path {
			require.NoError(t, e.fsm.Event(ctx, ev))
		}
		require.NoError(t, e.fsm.Event(ctx, evDrop), "drop from %s", e.bucket())
		assert.Equal(t, BucketDropped, e.bucket())
		assert.Error(t, e.fsm.Event(ctx, evDrop), "dropped is terminal")
	}
}

// TestLifecycle_Requeue tests blocked back to prioritized.
func TestLifecycle_Requeue(t *testing.T) {
	ctx := context.Background()
	var moves []move
	e := testEntry(&moves)

	require.NoError(t, e.fsm.Event(ctx, evPrioritize))
	require.NoError(t, e.fsm.Event(ctx, evBlock))
	require.NoError(t, e.fsm.Event(ctx, evRequeue))
	assert.Equal(t, BucketPrioritized, e.bucket())
}
