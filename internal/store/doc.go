// Package store provides SQLite-backed durable storage for suite runs.
//
// The store records:
//   - Runs: one row per suite invocation, keyed by a UUIDv7 run id
//   - Results: one row per scenario execution within a run
//   - Steps: the per-step outcomes of each result
//
// # Ordering
//
// Results and steps are ordered by their seq/index columns, never by
// timestamps, so a stored run re-renders in the order it was appended.
//
// # Idempotency
//
// A result is identified by (run_id, scenario). Writing the same result
// twice is a no-op.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
