package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cascade/internal/engine"
	"github.com/roach88/cascade/internal/ir"
)

var _ engine.Recorder = (*Store)(nil)

// createTestStore opens a store in a temp dir with run-1 begun.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.BeginRun(context.Background(), ir.Run{ID: "run-1", GraphHash: "h", Budget: 12, Callbacks: 2}))
	return s
}

func transition(seq int64, resolvedID, event, from, to string) ir.Transition {
	return ir.Transition{
		RunID:      "run-1",
		Seq:        seq,
		ResolvedID: resolvedID,
		Callback:   resolvedID,
		Event:      event,
		From:       from,
		To:         to,
		Group:      "g-1",
	}
}

// =============================================================================
// Open
// =============================================================================

func TestOpen_CreatesDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.db")
	for range 3 {
		s, err := Open(path)
		require.NoError(t, err)
		require.NoError(t, s.Close())
	}

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	for _, table := range []string{"runs", "transitions", "executions"} {
		var name string
		err := s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		assert.NoError(t, err, "table %s", table)
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	mode, err := s.pragma("journal_mode")
	require.NoError(t, err)
	assert.Equal(t, "wal", mode)

	fk, err := s.pragma("foreign_keys")
	require.NoError(t, err)
	assert.Equal(t, "1", fk)

	version, err := s.pragma("user_version")
	require.NoError(t, err)
	assert.Equal(t, "1", version)
}

// =============================================================================
// Runs
// =============================================================================

func TestBeginRun_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	require.NoError(t, s.BeginRun(ctx, ir.Run{ID: "run-1", GraphHash: "other", Budget: 1}))
	run, err := s.ReadRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "h", run.GraphHash, "first write wins")

	require.NoError(t, s.BeginRun(ctx, ir.Run{ID: "run-0", GraphHash: "h0"}))
	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-0", runs[0].ID)
}

func TestReadRun_NotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.ReadRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

// =============================================================================
// Transitions and executions
// =============================================================================

func TestRecordTransition_OrderedBySeq(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	require.NoError(t, s.RecordTransition(ctx, transition(3, "a.v", "execute", "prioritized", "executing")))
	require.NoError(t, s.RecordTransition(ctx, transition(1, "a.v", "request", "", "requested")))
	require.NoError(t, s.RecordTransition(ctx, transition(2, "a.v", "prioritize", "requested", "prioritized")))

	got, err := s.ReadTransitions(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, tr := range got {
		assert.Equal(t, int64(i+1), tr.Seq)
	}
	assert.Equal(t, transition(1, "a.v", "request", "", "requested"), got[0])
}

func TestRecordTransition_DuplicateSeqIgnored(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	require.NoError(t, s.RecordTransition(ctx, transition(1, "a.v", "request", "", "requested")))
	require.NoError(t, s.RecordTransition(ctx, transition(1, "b.v", "request", "", "requested")))

	got, err := s.ReadTransitions(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a.v", got[0].ResolvedID)
}

func TestRecordTransition_UnknownRun(t *testing.T) {
	s := createTestStore(t)
	tr := transition(1, "a.v", "request", "", "requested")
	tr.RunID = "nope"
	assert.Error(t, s.RecordTransition(context.Background(), tr), "foreign key")
}

func TestReadTransitions_EmptyNotNil(t *testing.T) {
	s := createTestStore(t)
	got, err := s.ReadTransitions(context.Background(), "run-1")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestRecordExecution(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	require.NoError(t, s.RecordExecution(ctx, ir.Execution{
		RunID: "run-1", Seq: 4, ResolvedID: "a.v", Callback: "A", Group: "g-1",
		UpdatedProps: []string{"a.v", "b.v"},
	}))
	require.NoError(t, s.RecordExecution(ctx, ir.Execution{
		RunID: "run-1", Seq: 9, ResolvedID: "b.v", Callback: "B", Error: "boom",
	}))

	got, err := s.ReadExecutions(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []string{"a.v", "b.v"}, got[0].UpdatedProps)
	assert.False(t, got[0].Failed())
	assert.Equal(t, []string{}, got[1].UpdatedProps)
	assert.True(t, got[1].Failed())
}

func TestLastSeq(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	seq, err := s.LastSeq(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), seq)

	require.NoError(t, s.RecordTransition(ctx, transition(5, "a.v", "request", "", "requested")))
	require.NoError(t, s.RecordExecution(ctx, ir.Execution{RunID: "run-1", Seq: 7, ResolvedID: "a.v", Callback: "A"}))

	seq, err = s.LastSeq(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), seq)
}
