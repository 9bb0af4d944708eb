package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/arroschaves/brandaocontador-e2e/internal/failure"
	"github.com/arroschaves/brandaocontador-e2e/internal/report"
	"github.com/arroschaves/brandaocontador-e2e/internal/scenario"
)

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("run not found")

// RunInfo is a stored run with its outcome counts.
type RunInfo struct {
	Run
	Summary report.Summary
}

// ListRuns returns up to limit runs, newest first. A limit <= 0 returns all
// runs.
//
// Ordering: started_at DESC, id DESC COLLATE BINARY. UUIDv7 ids break ties
// in creation order.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunInfo, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.started_at, r.finished_at, r.base_url, r.api_url,
		       COUNT(x.scenario),
		       COALESCE(SUM(x.outcome = 'pass'), 0),
		       COALESCE(SUM(x.outcome = 'fail'), 0),
		       COALESCE(SUM(x.outcome NOT IN ('pass', 'fail')), 0)
		FROM runs r
		LEFT JOIN results x ON x.run_id = r.id
		GROUP BY r.id
		ORDER BY r.started_at DESC, r.id COLLATE BINARY DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []RunInfo{}
	for rows.Next() {
		var info RunInfo
		var started string
		var finished sql.NullString
		if err := rows.Scan(&info.ID, &started, &finished, &info.BaseURL, &info.APIURL,
			&info.Summary.Total, &info.Summary.Passed, &info.Summary.Failed, &info.Summary.Errored); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if info.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if finished.Valid {
			if info.FinishedAt, err = parseTime(finished.String); err != nil {
				return nil, err
			}
			info.Summary.Duration = info.FinishedAt.Sub(info.StartedAt)
		}
		runs = append(runs, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// GetRun returns a single run, or ErrRunNotFound.
func (s *Store) GetRun(ctx context.Context, runID string) (Run, error) {
	var run Run
	var started string
	var finished sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, finished_at, base_url, api_url
		FROM runs WHERE id = ?
	`, runID).Scan(&run.ID, &started, &finished, &run.BaseURL, &run.APIURL)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("get run %s: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run: %w", err)
	}
	if run.StartedAt, err = parseTime(started); err != nil {
		return Run{}, err
	}
	if finished.Valid {
		if run.FinishedAt, err = parseTime(finished.String); err != nil {
			return Run{}, err
		}
	}
	return run, nil
}

// ReadResults returns the results of a run in append order, each with its
// steps ordered by index.
//
// Returns an empty slice (not nil) if the run has no results.
func (s *Store) ReadResults(ctx context.Context, runID string) ([]scenario.ExecutionResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT scenario, source, state, outcome, started_at, duration_ms,
		       final_evaluated, final_pass, final_message, final_diff,
		       failure_code, failure_message, failure_step
		FROM results
		WHERE run_id = ?
		ORDER BY seq ASC, scenario COLLATE BINARY ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}

	results := []scenario.ExecutionResult{}
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		r.RunID = runID
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	// Single connection: release it before querying steps.
	rows.Close()

	for i := range results {
		steps, err := s.readSteps(ctx, runID, results[i].Scenario)
		if err != nil {
			return nil, err
		}
		results[i].Steps = steps
	}
	return results, nil
}

func (s *Store) readSteps(ctx context.Context, runID, name string) ([]scenario.StepOutcome, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT idx, name, action, status, tolerated, code, error, duration_ms
		FROM steps
		WHERE run_id = ? AND scenario = ?
		ORDER BY idx ASC
	`, runID, name)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	steps := []scenario.StepOutcome{}
	for rows.Next() {
		var st scenario.StepOutcome
		var action, status, code string
		var ms int64
		if err := rows.Scan(&st.Index, &st.Name, &action, &status, &st.Tolerated, &code, &st.Error, &ms); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		st.Action = scenario.Action(action)
		st.Status = scenario.StepStatus(status)
		st.Code = failure.Code(code)
		st.Duration = time.Duration(ms) * time.Millisecond
		steps = append(steps, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate steps: %w", err)
	}
	return steps, nil
}

func scanResult(rows *sql.Rows) (scenario.ExecutionResult, error) {
	var r scenario.ExecutionResult
	var state, outcome, started string
	var ms int64
	var code, message sql.NullString
	var step sql.NullInt64
	if err := rows.Scan(&r.Scenario, &r.Source, &state, &outcome, &started, &ms,
		&r.Final.Evaluated, &r.Final.Pass, &r.Final.Message, &r.Final.Diff,
		&code, &message, &step); err != nil {
		return r, fmt.Errorf("scan result: %w", err)
	}

	var err error
	if r.StartedAt, err = parseTime(started); err != nil {
		return r, err
	}
	r.State = scenario.State(state)
	r.Outcome = scenario.Outcome(outcome)
	r.Duration = time.Duration(ms) * time.Millisecond
	if code.Valid {
		r.Failure = &scenario.Failure{
			Code:    failure.Code(code.String),
			Message: message.String,
			Step:    int(step.Int64),
		}
	}
	return r, nil
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t, nil
}
