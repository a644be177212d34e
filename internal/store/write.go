package store

import (
	"context"
	"fmt"

	"github.com/roach88/cascade/internal/ir"
)

// BeginRun inserts a run record. Beginning the same run id twice is a
// no-op, so a resumed session can call it unconditionally.
func (s *Store) BeginRun(ctx context.Context, run ir.Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, graph_hash, budget, callbacks)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, run.ID, run.GraphHash, run.Budget, run.Callbacks)
	if err != nil {
		return fmt.Errorf("begin run %s: %w", run.ID, err)
	}
	return nil
}

// RecordTransition appends one bucket move. Implements engine.Recorder.
// The run must exist (foreign key).
func (s *Store) RecordTransition(ctx context.Context, t ir.Transition) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transitions
		(run_id, seq, resolved_id, callback, event, from_bucket, to_bucket, exec_group, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, seq) DO NOTHING
	`,
		t.RunID,
		t.Seq,
		t.ResolvedID,
		t.Callback,
		t.Event,
		t.From,
		t.To,
		t.Group,
		t.Detail,
	)
	if err != nil {
		return fmt.Errorf("record transition: %w", err)
	}
	return nil
}

// RecordExecution appends one settled invocation. Implements
// engine.Recorder. UpdatedProps is stored as canonical JSON.
func (s *Store) RecordExecution(ctx context.Context, x ir.Execution) error {
	props, err := marshalProps(x.UpdatedProps)
	if err != nil {
		return fmt.Errorf("record execution: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO executions
		(run_id, seq, resolved_id, callback, exec_group, updated_props, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, seq) DO NOTHING
	`,
		x.RunID,
		x.Seq,
		x.ResolvedID,
		x.Callback,
		x.Group,
		props,
		x.Error,
	)
	if err != nil {
		return fmt.Errorf("record execution: %w", err)
	}
	return nil
}
