package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/cascade/internal/ir"
)

// ErrRunNotFound is returned by ReadRun for an unknown run id.
var ErrRunNotFound = errors.New("run not found")

// ReadRun returns one run record.
func (s *Store) ReadRun(ctx context.Context, runID string) (ir.Run, error) {
	var run ir.Run
	err := s.db.QueryRowContext(ctx, `
		SELECT id, graph_hash, budget, callbacks FROM runs WHERE id = ?
	`, runID).Scan(&run.ID, &run.GraphHash, &run.Budget, &run.Callbacks)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Run{}, fmt.Errorf("read run %s: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return ir.Run{}, fmt.Errorf("read run %s: %w", runID, err)
	}
	return run, nil
}

// ListRuns returns every run ordered by id.
func (s *Store) ListRuns(ctx context.Context) ([]ir.Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, graph_hash, budget, callbacks FROM runs
		ORDER BY id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []ir.Run{}
	for rows.Next() {
		var run ir.Run
		if err := rows.Scan(&run.ID, &run.GraphHash, &run.Budget, &run.Callbacks); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReadTransitions returns a run's transitions ordered by seq. Returns an
// empty slice (not nil) when the run recorded none.
func (s *Store) ReadTransitions(ctx context.Context, runID string) ([]ir.Transition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, seq, resolved_id, callback, event, from_bucket, to_bucket, exec_group, detail
		FROM transitions
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	out := []ir.Transition{}
	for rows.Next() {
		var t ir.Transition
		if err := rows.Scan(&t.RunID, &t.Seq, &t.ResolvedID, &t.Callback, &t.Event, &t.From, &t.To, &t.Group, &t.Detail); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transitions: %w", err)
	}
	return out, nil
}

// ReadExecutions returns a run's settled invocations ordered by seq.
func (s *Store) ReadExecutions(ctx context.Context, runID string) ([]ir.Execution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, seq, resolved_id, callback, exec_group, updated_props, error
		FROM executions
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	out := []ir.Execution{}
	for rows.Next() {
		var (
			x     ir.Execution
			props string
		)
		if err := rows.Scan(&x.RunID, &x.Seq, &x.ResolvedID, &x.Callback, &x.Group, &props, &x.Error); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		if x.UpdatedProps, err = unmarshalProps(props); err != nil {
			return nil, err
		}
		out = append(out, x)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate executions: %w", err)
	}
	return out, nil
}

// LastSeq returns the highest seq recorded for a run across both logs, 0
// when nothing is recorded. Used to resume the logical clock.
func (s *Store) LastSeq(ctx context.Context, runID string) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM (
			SELECT seq FROM transitions WHERE run_id = ?
			UNION ALL
			SELECT seq FROM executions WHERE run_id = ?
		)
	`, runID, runID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last seq for %s: %w", runID, err)
	}
	return seq, nil
}
