package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/arroschaves/brandaocontador-e2e/internal/config"
	"github.com/arroschaves/brandaocontador-e2e/internal/expect"
	"github.com/arroschaves/brandaocontador-e2e/internal/failure"
	"github.com/arroschaves/brandaocontador-e2e/internal/scenario"
	"github.com/arroschaves/brandaocontador-e2e/internal/session"
)

// Clock provides the timestamps results are measured with.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

var (
	errScenarioCeiling = errors.New("scenario ceiling elapsed")
	errSuiteDeadline   = errors.New("suite deadline elapsed")
)

// Runner executes scenarios one at a time, each in a fresh session.
//
// Thread-safety: a Runner holds no per-scenario state and may run many
// scenarios concurrently.
type Runner struct {
	cfg     config.Config
	factory session.Factory
	clock   Clock
	logger  *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithClock replaces the wall clock, for deterministic durations in tests.
func WithClock(c Clock) Option {
	return func(r *Runner) { r.clock = c }
}

// NewRunner creates a Runner that opens sessions through factory.
func NewRunner(cfg config.Config, factory session.Factory, logger *slog.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{cfg: cfg, factory: factory, clock: systemClock{}, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// run is the in-flight state of one scenario execution.
type run struct {
	s       *scenario.Scenario
	m       *machine
	res     scenario.ExecutionResult
	ceiling time.Duration
	logger  *slog.Logger
}

// Run executes s and returns its result. The returned error is non-nil
// only for invalid state transitions, which indicate a bug; every failure
// of the scenario itself is reported in the result.
func (r *Runner) Run(ctx context.Context, s *scenario.Scenario) (scenario.ExecutionResult, error) {
	x := &run{
		s:       s,
		m:       newMachine(),
		ceiling: s.Timeout.Or(r.cfg.Timeouts.Scenario),
		logger:  r.logger.With("scenario", s.Name),
	}
	x.res = scenario.ExecutionResult{
		Scenario:  s.Name,
		Source:    s.Source,
		State:     scenario.StatePending,
		Steps:     []scenario.StepOutcome{},
		StartedAt: r.clock.Now(),
	}

	sctx, cancel := context.WithTimeoutCause(ctx, x.ceiling, errScenarioCeiling)
	defer cancel()

	sess, err := r.open(sctx, s)
	if err != nil {
		x.res.Steps = scenario.NotRunSteps(s, 0)
		if state, f := interruption(sctx, x.ceiling, failure.NoStep); f != nil {
			return r.finish(x, state, f)
		}
		x.logger.Error("failed to open session", "session", s.Session, "error", err)
		return r.finish(x, scenario.StateAborted, &scenario.Failure{
			Code:    failure.CodeAborted,
			Message: fmt.Sprintf("could not open %s session: %v", s.Session, err),
			Step:    failure.NoStep,
		})
	}
	defer r.close(ctx, sess, x.logger)

	if err := x.m.to(scenario.StateRunning); err != nil {
		return x.res, err
	}
	x.res.State = scenario.StateRunning
	x.logger.Info("scenario started", "session", sess.Kind(), "steps", len(s.Steps))

	for i, step := range s.Steps {
		if state, f := interruption(sctx, x.ceiling, i); f != nil {
			x.res.Steps = append(x.res.Steps, scenario.NotRunSteps(s, i)...)
			return r.finish(x, state, f)
		}

		out, err := r.runStep(sctx, sess, step, i)
		if err == nil {
			x.logger.Debug("step completed", "step", i, "name", out.Name, "duration", out.Duration)
			x.res.Steps = append(x.res.Steps, out)
			continue
		}

		if state, f := interruption(sctx, x.ceiling, i); f != nil {
			out.Status = scenario.StepError
			if state == scenario.StateTimedOut {
				out.Status = scenario.StepTimeout
			}
			out.Code = f.Code
			out.Error = err.Error()
			x.res.Steps = append(x.res.Steps, out)
			x.res.Steps = append(x.res.Steps, scenario.NotRunSteps(s, i+1)...)
			r.screenshot(ctx, sess, x, i)
			return r.finish(x, state, f)
		}

		fe := failure.AtStep(err, i)
		out.Status = statusFor(fe.Code)
		out.Code = fe.Code
		out.Error = fe.Error()

		if step.BestEffort && failure.Recoverable(fe) {
			out.Tolerated = true
			x.logger.Warn("best-effort step failed, continuing",
				"step", i,
				"name", out.Name,
				"code", fe.Code,
				"error", fe.Message)
			x.res.Steps = append(x.res.Steps, out)
			continue
		}

		x.logger.Info("step failed", "step", i, "name", out.Name, "code", fe.Code, "error", fe.Message)
		x.res.Steps = append(x.res.Steps, out)
		x.res.Steps = append(x.res.Steps, scenario.NotRunSteps(s, i+1)...)
		r.screenshot(ctx, sess, x, i)
		return r.finish(x, scenario.StateAborted, &scenario.Failure{Code: fe.Code, Message: fe.Message, Step: i})
	}

	if s.Expect != nil {
		verdict, err := r.poll(sctx, sess, s.Expect)
		if state, f := interruption(sctx, x.ceiling, failure.NoStep); f != nil {
			return r.finish(x, state, f)
		}
		if err != nil {
			fe := failure.AtStep(err, failure.NoStep)
			return r.finish(x, scenario.StateAborted, &scenario.Failure{Code: fe.Code, Message: fe.Message, Step: failure.NoStep})
		}
		x.res.Final = verdict.Outcome()
		if !verdict.Pass {
			r.screenshot(ctx, sess, x, len(s.Steps))
		}
	}
	return r.finish(x, scenario.StateCompleted, nil)
}

// Skip returns the result of a scenario that never started: Aborted with
// every step not_run.
func (r *Runner) Skip(s *scenario.Scenario, f *scenario.Failure) scenario.ExecutionResult {
	return scenario.ExecutionResult{
		Scenario:  s.Name,
		Source:    s.Source,
		State:     scenario.StateAborted,
		Outcome:   scenario.Classify(scenario.StateAborted, f, scenario.AssertionOutcome{}),
		Steps:     scenario.NotRunSteps(s, 0),
		Failure:   f,
		StartedAt: r.clock.Now(),
	}
}

func (r *Runner) finish(x *run, state scenario.State, f *scenario.Failure) (scenario.ExecutionResult, error) {
	if err := x.m.to(state); err != nil {
		return x.res, err
	}
	x.res.State = state
	x.res.Failure = f
	x.res.Outcome = scenario.Classify(state, f, x.res.Final)
	x.res.Duration = r.clock.Now().Sub(x.res.StartedAt)
	if x.res.Steps == nil {
		x.res.Steps = []scenario.StepOutcome{}
	}
	x.logger.Debug("scenario ended", "state", state, "outcome", x.res.Outcome, "duration", x.res.Duration)
	return x.res, nil
}

// interruption classifies a done scenario context: the scenario's own
// ceiling is TimedOut, anything else (suite deadline, caller cancel) is
// Aborted. It returns a nil failure while ctx is live.
func interruption(ctx context.Context, ceiling time.Duration, step int) (scenario.State, *scenario.Failure) {
	if ctx.Err() == nil {
		return "", nil
	}
	cause := context.Cause(ctx)
	if errors.Is(cause, errScenarioCeiling) {
		return scenario.StateTimedOut, &scenario.Failure{
			Code:    failure.CodeTimedOut,
			Message: fmt.Sprintf("scenario exceeded its %s ceiling", ceiling),
			Step:    step,
		}
	}
	return scenario.StateAborted, &scenario.Failure{
		Code:    failure.CodeAborted,
		Message: fmt.Sprintf("cancelled: %v", cause),
		Step:    step,
	}
}

func statusFor(code failure.Code) scenario.StepStatus {
	if code == failure.CodeResolutionTimeout {
		return scenario.StepTimeout
	}
	return scenario.StepError
}

// open acquires a session within the session timeout.
func (r *Runner) open(ctx context.Context, s *scenario.Scenario) (session.Session, error) {
	openCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeouts.Session)
	defer cancel()
	return r.factory.Open(openCtx, s.Session)
}

// close releases the session with a fresh bounded context, so cancelled
// and timed-out scenarios still shut their browser down.
func (r *Runner) close(ctx context.Context, sess session.Session, logger *slog.Logger) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.Timeouts.Session)
	defer cancel()
	if err := sess.Close(cctx); err != nil {
		logger.Warn("failed to close session", "error", err)
	}
}

func (r *Runner) runStep(ctx context.Context, sess session.Session, step scenario.Step, i int) (scenario.StepOutcome, error) {
	out := scenario.StepOutcome{
		Index:  i,
		Name:   step.Label(),
		Action: step.Action,
		Status: scenario.StepSuccess,
	}
	start := r.clock.Now()
	err := r.execute(ctx, sess, step)
	out.Duration = r.clock.Now().Sub(start)
	return out, err
}

// execute performs one step and checks its expectations. A panic in an
// action is converted to an ABORTED error.
func (r *Runner) execute(ctx context.Context, sess session.Session, step scenario.Step) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = failure.New(failure.CodeAborted, fmt.Sprintf("step panicked: %v", p))
		}
	}()

	switch step.Action {
	case scenario.ActionRequest:
		return r.request(ctx, sess, step)
	case scenario.ActionAssert:
		return r.check(ctx, sess, step.Expect)
	default:
		if _, err := sess.Execute(ctx, step); err != nil {
			return err
		}
		if step.Expect.Empty() {
			return nil
		}
		return r.check(ctx, sess, step.Expect)
	}
}

// request sends a request step. A status outside the expected set is
// REJECTED; the remaining predicates run once against the response.
func (r *Runner) request(ctx context.Context, sess session.Session, step scenario.Step) error {
	obs, err := sess.Execute(ctx, step)
	if err != nil {
		return err
	}

	want := scenario.DefaultStatus
	if step.Expect != nil && len(step.Expect.Status) > 0 {
		want = step.Expect.Status
	}
	preds, err := expect.Compile(step.Expect, expect.Options{DefaultStatus: want})
	if err != nil {
		return failure.Wrap(failure.CodeInvalidStep, "invalid expect", err)
	}

	status, rest := expect.StatusOnly(preds)
	if !expect.Evaluate(status, obs).Pass {
		return failure.NewRejected(step.HTTPMethod(), obs.URL, obs.Status, want.String())
	}
	if err := expect.Evaluate(rest, obs).Err(); err != nil {
		return err
	}
	return sess.Capture(obs, step.Capture)
}

func (r *Runner) check(ctx context.Context, sess session.Session, e *scenario.Expect) error {
	verdict, err := r.poll(ctx, sess, e)
	if err != nil {
		return err
	}
	return verdict.Err()
}

// poll evaluates e until it holds or the assert ceiling elapses. HTTP
// observations cannot change without a new request, so they are evaluated
// once.
func (r *Runner) poll(ctx context.Context, sess session.Session, e *scenario.Expect) (expect.Verdict, error) {
	preds, err := expect.Compile(e, expect.Options{})
	if err != nil {
		return expect.Verdict{}, failure.Wrap(failure.CodeInvalidStep, "invalid expect", err)
	}
	ceiling := e.Timeout.Or(r.cfg.Timeouts.Assert)
	if sess.Kind() == scenario.SessionHTTP {
		ceiling = 0
	}
	probe := func(ctx context.Context) (*expect.Observation, error) {
		return sess.Observe(ctx, e)
	}
	return expect.Poll(ctx, probe, preds, ceiling, r.cfg.PollInterval)
}

// screenshot captures the screen of sessions that support it.
func (r *Runner) screenshot(ctx context.Context, sess session.Session, x *run, step int) {
	shooter, ok := sess.(session.Screenshotter)
	if !ok || r.cfg.ArtifactsDir == "" {
		return
	}
	path := session.ScreenshotPath(r.cfg.ArtifactsDir, x.s.Name, step, r.clock.Now())
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.Timeouts.Step)
	defer cancel()
	if err := shooter.Screenshot(sctx, path); err != nil {
		x.logger.Warn("failed to capture screenshot", "step", step, "error", err)
		return
	}
	x.logger.Info("saved failure screenshot", "step", step, "path", path)
}
