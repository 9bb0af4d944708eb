package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/arroschaves/brandaocontador-e2e/internal/scenario"
)

// timeLayout is used for every stored timestamp. Times are stored in UTC.
const timeLayout = time.RFC3339Nano

// ErrNoRunID is returned when a result without a run id is written.
var ErrNoRunID = errors.New("result has no run id")

// Run describes one suite invocation.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	BaseURL    string
	APIURL     string
}

// CreateRun inserts a run record. Uses ON CONFLICT(id) DO NOTHING for
// idempotency.
func (s *Store) CreateRun(ctx context.Context, run Run) error {
	if run.ID == "" {
		return fmt.Errorf("create run: %w", ErrNoRunID)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, base_url, api_url)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		run.ID,
		run.StartedAt.UTC().Format(timeLayout),
		run.BaseURL,
		run.APIURL,
	)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// FinishRun records when a run ended.
func (s *Store) FinishRun(ctx context.Context, runID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET finished_at = ? WHERE id = ?
	`, at.UTC().Format(timeLayout), runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finish run %s: %w", runID, ErrRunNotFound)
	}
	return nil
}

// WriteResult inserts a result and its steps in one transaction.
// Returns whether a new record was inserted; a result already stored under
// (run_id, scenario) is left untouched.
//
// Note: The run referenced by r.RunID must exist (foreign key constraint).
func (s *Store) WriteResult(ctx context.Context, r scenario.ExecutionResult) (inserted bool, err error) {
	if r.RunID == "" {
		return false, fmt.Errorf("write result %s: %w", r.Scenario, ErrNoRunID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("write result: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var seq int64
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) + 1 FROM results WHERE run_id = ?
	`, r.RunID).Scan(&seq); err != nil {
		return false, fmt.Errorf("write result: next seq: %w", err)
	}

	var code, message sql.NullString
	var step sql.NullInt64
	if f := r.Failure; f != nil {
		code = sql.NullString{String: string(f.Code), Valid: true}
		message = sql.NullString{String: f.Message, Valid: true}
		step = sql.NullInt64{Int64: int64(f.Step), Valid: true}
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO results
		(run_id, scenario, seq, source, state, outcome, started_at, duration_ms,
		 final_evaluated, final_pass, final_message, final_diff,
		 failure_code, failure_message, failure_step)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, scenario) DO NOTHING
	`,
		r.RunID,
		r.Scenario,
		seq,
		r.Source,
		string(r.State),
		string(r.Outcome),
		r.StartedAt.UTC().Format(timeLayout),
		r.Duration.Milliseconds(),
		r.Final.Evaluated,
		r.Final.Pass,
		r.Final.Message,
		r.Final.Diff,
		code,
		message,
		step,
	)
	if err != nil {
		return false, fmt.Errorf("write result: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("write result: rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	for _, st := range r.Steps {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO steps
			(run_id, scenario, idx, name, action, status, tolerated, code, error, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			r.RunID,
			r.Scenario,
			st.Index,
			st.Name,
			string(st.Action),
			string(st.Status),
			st.Tolerated,
			string(st.Code),
			st.Error,
			st.Duration.Milliseconds(),
		)
		if err != nil {
			return false, fmt.Errorf("write step %d: %w", st.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("write result: commit: %w", err)
	}
	return true, nil
}

// Record implements report.Recorder.
func (s *Store) Record(ctx context.Context, r scenario.ExecutionResult) error {
	_, err := s.WriteResult(ctx, r)
	return err
}
