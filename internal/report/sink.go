// Package report collects execution results and renders them as text,
// JSON and JUnit XML.
package report

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/arroschaves/brandaocontador-e2e/internal/scenario"
)

// Recorder persists results as they are appended.
type Recorder interface {
	Record(ctx context.Context, r scenario.ExecutionResult) error
}

// Summary aggregates the outcome counts of a set of results.
type Summary struct {
	Total    int           `json:"total"`
	Passed   int           `json:"passed"`
	Failed   int           `json:"failed"`
	Errored  int           `json:"errored"`
	Duration time.Duration `json:"-"`
}

// OK reports whether every result passed.
func (s Summary) OK() bool {
	return s.Passed == s.Total
}

// Summarize counts outcomes. Duration is the wall-clock span from the
// earliest start to the latest finish.
func Summarize(results []scenario.ExecutionResult) Summary {
	var sum Summary
	var first, last time.Time
	for i, r := range results {
		sum.Total++
		switch r.Outcome {
		case scenario.OutcomePass:
			sum.Passed++
		case scenario.OutcomeFail:
			sum.Failed++
		default:
			sum.Errored++
		}

		end := r.StartedAt.Add(r.Duration)
		if i == 0 || r.StartedAt.Before(first) {
			first = r.StartedAt
		}
		if i == 0 || end.After(last) {
			last = end
		}
	}
	if sum.Total > 0 {
		sum.Duration = last.Sub(first)
	}
	return sum
}

// Sink is the append-only collection of a suite's results. Appends are
// serialized; readers get copies, so recorded results are never mutated.
type Sink struct {
	mu        sync.Mutex
	results   []scenario.ExecutionResult
	recorders []Recorder
	logger    *slog.Logger
}

// NewSink creates a sink that forwards every appended result to recorders.
func NewSink(logger *slog.Logger, recorders ...Recorder) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{recorders: recorders, logger: logger}
}

// Append stores a copy of r and forwards it to the recorders. Recorder
// failures are logged and returned, but the result stays in the sink.
func (s *Sink) Append(ctx context.Context, r scenario.ExecutionResult) error {
	r = clone(r)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, r)

	s.logger.Info("scenario finished",
		"scenario", r.Scenario,
		"state", r.State,
		"outcome", r.Outcome,
		"duration", r.Duration)

	var errs []error
	for _, rec := range s.recorders {
		if err := rec.Record(ctx, clone(r)); err != nil {
			s.logger.Error("failed to record result", "scenario", r.Scenario, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Results returns a copy of the appended results in append order.
func (s *Sink) Results() []scenario.ExecutionResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]scenario.ExecutionResult, len(s.results))
	for i, r := range s.results {
		out[i] = clone(r)
	}
	return out
}

// Summary aggregates the appended results.
func (s *Sink) Summary() Summary {
	return Summarize(s.Results())
}

func clone(r scenario.ExecutionResult) scenario.ExecutionResult {
	if r.Steps != nil {
		r.Steps = append([]scenario.StepOutcome(nil), r.Steps...)
	}
	if r.Failure != nil {
		f := *r.Failure
		r.Failure = &f
	}
	return r
}
