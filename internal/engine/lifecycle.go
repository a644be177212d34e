package engine

import (
	"context"

	"github.com/looplab/fsm"

	"github.com/roach88/cascade/internal/ir"
)

// Bucket is a lifecycle state. Every tracked instance sits in exactly one.
type Bucket string

const (
	BucketRequested   Bucket = "requested"
	BucketPrioritized Bucket = "prioritized"
	BucketBlocked     Bucket = "blocked"
	BucketExecuting   Bucket = "executing"
	BucketWatched     Bucket = "watched"
	BucketExecuted    Bucket = "executed"
	BucketStored      Bucket = "stored"

	// Terminal states. Instances that reach them leave the scheduler.
	BucketDone    Bucket = "done"
	BucketDropped Bucket = "dropped"
)

// Buckets lists the non-terminal buckets in lifecycle order.
var Buckets = []Bucket{
	BucketRequested,
	BucketPrioritized,
	BucketBlocked,
	BucketExecuting,
	BucketWatched,
	BucketExecuted,
	BucketStored,
}

// pendingBuckets hold instances that may still change outputs.
var pendingBuckets = []Bucket{
	BucketRequested,
	BucketPrioritized,
	BucketBlocked,
	BucketExecuting,
	BucketWatched,
	BucketExecuted,
}

// activeBuckets are deduplicated and pruned against requested.
var activeBuckets = []Bucket{
	BucketPrioritized,
	BucketBlocked,
	BucketExecuting,
	BucketWatched,
}

// Lifecycle events. Each is one legal bucket move.
const (
	evPrioritize = "prioritize"
	evBlock      = "block"
	evExecute    = "execute"
	evRequeue    = "requeue"
	evWatch      = "watch"
	evSettle     = "settle"
	evStore      = "store"
	evComplete   = "complete"
	evDrop       = "drop"
)

func lifecycleEvents() fsm.Events {
	return fsm.Events{
		{Name: evPrioritize, Src: []string{string(BucketRequested)}, Dst: string(BucketPrioritized)},
		{Name: evBlock, Src: []string{string(BucketPrioritized)}, Dst: string(BucketBlocked)},
		{Name: evExecute, Src: []string{string(BucketPrioritized), string(BucketBlocked)}, Dst: string(BucketExecuting)},
		{Name: evRequeue, Src: []string{string(BucketBlocked)}, Dst: string(BucketPrioritized)},
		{Name: evWatch, Src: []string{string(BucketExecuting)}, Dst: string(BucketWatched)},
		{Name: evSettle, Src: []string{string(BucketExecuting), string(BucketWatched)}, Dst: string(BucketExecuted)},
		{Name: evStore, Src: []string{string(BucketExecuted)}, Dst: string(BucketStored)},
		{Name: evComplete, Src: []string{string(BucketExecuted), string(BucketStored)}, Dst: string(BucketDone)},
		{Name: evDrop, Src: []string{
			string(BucketRequested),
			string(BucketPrioritized),
			string(BucketBlocked),
			string(BucketExecuting),
			string(BucketWatched),
			string(BucketExecuted),
			string(BucketStored),
		}, Dst: string(BucketDropped)},
	}
}

// entry is one tracked instance.
type entry struct {
	rc     *ir.ResolvedCallback
	fsm    *fsm.FSM
	seq    int64
	slot   bool
	result *Result

	// held keeps a requeued instance out of admission until the tree
	// changes again.
	held bool
}

func (e *entry) bucket() Bucket {
	return Bucket(e.fsm.Current())
}

// newEntry creates an instance in requested. onMove observes every
// transition the fsm accepts.
func newEntry(rc *ir.ResolvedCallback, seq int64, onMove func(e *entry, event string, from, to Bucket)) *entry {
	e := &entry{rc: rc, seq: seq}
	e.fsm = fsm.NewFSM(
		string(BucketRequested),
		lifecycleEvents(),
		fsm.Callbacks{
			"enter_state": func(_ context.Context, ev *fsm.Event) {
				onMove(e, ev.Event, Bucket(ev.Src), Bucket(ev.Dst))
			},
		},
	)
	return e
}
