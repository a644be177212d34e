// Package store provides SQLite-backed durable storage for scheduler
// traces.
//
// The store is an append-only log with:
//   - Runs: one row per scheduler session, with the graph hash it ran
//   - Transitions: every bucket move of every callback instance
//   - Executions: every settled invocation and what it updated
//
// # Critical Patterns
//
// Logical time:
//   - All ordering uses seq INTEGER from the scheduler's logical clock,
//     never timestamps
//   - Transitions and executions share one seq space per run
//
// Idempotency:
//   - UNIQUE(run_id, seq) on both logs with ON CONFLICT DO NOTHING, so a
//     replayed write is silently ignored
//
// Deterministic reads:
//   - Every query orders by seq ASC; two runs of the same scenario read
//     back identically
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - foreign_keys=ON
package store
