package harness

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/arroschaves/brandaocontador-e2e/internal/config"
	"github.com/arroschaves/brandaocontador-e2e/internal/failure"
	"github.com/arroschaves/brandaocontador-e2e/internal/report"
	"github.com/arroschaves/brandaocontador-e2e/internal/resolver"
	"github.com/arroschaves/brandaocontador-e2e/internal/scenario"
)

// Suite runs a set of scenarios with bounded parallelism under a suite
// deadline, appending every result to a sink.
type Suite struct {
	cfg    config.Config
	runner *Runner
	sink   *report.Sink
	client *http.Client
	logger *slog.Logger
}

// NewSuite creates a Suite.
func NewSuite(cfg config.Config, runner *Runner, sink *report.Sink, logger *slog.Logger) *Suite {
	if logger == nil {
		logger = slog.Default()
	}
	return &Suite{
		cfg:    cfg,
		runner: runner,
		sink:   sink,
		client: &http.Client{Timeout: cfg.Timeouts.Step},
		logger: logger,
	}
}

// Run executes scenarios and appends one result per scenario to the sink,
// tagged with runID. Scenario failures are never returned as errors; the
// error is non-nil only when the harness itself misbehaves.
//
// When the target is unreachable every scenario is recorded as errored
// without opening a session. Scenarios still pending when the suite
// deadline elapses are recorded as aborted.
func (s *Suite) Run(ctx context.Context, runID string, scenarios []*scenario.Scenario) error {
	sctx, cancel := context.WithTimeoutCause(ctx, s.cfg.Timeouts.Suite, errSuiteDeadline)
	defer cancel()

	s.logger.Info("suite started", "run_id", runID, "scenarios", len(scenarios), "parallelism", s.cfg.Parallelism)

	record := func(res scenario.ExecutionResult) {
		res.RunID = runID
		// Results of interrupted scenarios must still be recorded.
		if err := s.sink.Append(context.WithoutCancel(ctx), res); err != nil {
			s.logger.Error("failed to record result", "scenario", res.Scenario, "error", err)
		}
	}

	if err := s.Preflight(sctx); err != nil {
		s.logger.Error("target unreachable, skipping suite", "error", err)
		f := &scenario.Failure{
			Code:    failure.CodeUnreachable,
			Message: fmt.Sprintf("target unreachable: %v", err),
			Step:    failure.NoStep,
		}
		for _, sc := range scenarios {
			record(s.runner.Skip(sc, f))
		}
		return nil
	}

	g, gctx := errgroup.WithContext(sctx)
	g.SetLimit(s.cfg.Parallelism)

	for _, sc := range scenarios {
		sc := sc
		g.Go(func() error {
			if gctx.Err() != nil {
				record(s.runner.Skip(sc, &scenario.Failure{
					Code:    failure.CodeAborted,
					Message: fmt.Sprintf("cancelled before start: %v", context.Cause(gctx)),
					Step:    failure.NoStep,
				}))
				return nil
			}
			res, err := s.runner.Run(gctx, sc)
			if err != nil {
				return fmt.Errorf("scenario %s: %w", sc.Name, err)
			}
			record(res)
			return nil
		})
	}

	err := g.Wait()
	sum := s.sink.Summary()
	s.logger.Info("suite finished",
		"run_id", runID,
		"passed", sum.Passed,
		"failed", sum.Failed,
		"errored", sum.Errored)
	return err
}

// Preflight checks that the API answers on the probe path. Any HTTP
// response counts as reachable; only transport errors fail. An empty probe
// path disables the check.
func (s *Suite) Preflight(ctx context.Context) error {
	if s.cfg.ProbePath == "" {
		return nil
	}
	url, err := resolver.JoinURL(s.cfg.APIURL, s.cfg.ProbePath)
	if err != nil {
		return failure.Wrap(failure.CodeUnreachable, "probe url", err)
	}

	pctx, cancel := context.WithTimeout(ctx, s.cfg.Timeouts.Step)
	defer cancel()

	req, err := http.NewRequestWithContext(pctx, http.MethodGet, url, nil)
	if err != nil {
		return failure.Wrap(failure.CodeUnreachable, "GET "+url, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return failure.Wrap(failure.CodeUnreachable, "GET "+url, err)
	}
	resp.Body.Close()
	s.logger.Debug("preflight ok", "url", url, "status", resp.StatusCode)
	return nil
}
