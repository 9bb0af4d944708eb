package harness

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arroschaves/brandaocontador-e2e/internal/config"
	"github.com/arroschaves/brandaocontador-e2e/internal/expect"
	"github.com/arroschaves/brandaocontador-e2e/internal/failure"
	"github.com/arroschaves/brandaocontador-e2e/internal/scenario"
	"github.com/arroschaves/brandaocontador-e2e/internal/session"
	"github.com/arroschaves/brandaocontador-e2e/internal/testutil"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(apiURL string) config.Config {
	cfg := config.DefaultConfig()
	cfg.BaseURL = apiURL
	cfg.APIURL = apiURL
	cfg.Timeouts.Step = 2 * time.Second
	cfg.Timeouts.Assert = 200 * time.Millisecond
	cfg.Timeouts.Scenario = 5 * time.Second
	cfg.Timeouts.Session = 2 * time.Second
	cfg.PollInterval = 10 * time.Millisecond
	cfg.ArtifactsDir = ""
	cfg.Vars = map[string]string{
		"admin_email":    testutil.AdminEmail,
		"admin_password": testutil.AdminPassword,
	}
	return cfg
}

func parse(t *testing.T, doc string) *scenario.Scenario {
	t.Helper()
	s, err := scenario.Parse([]byte(doc))
	require.NoError(t, err)
	return s
}

// fakeSession replays scripted step behavior.
type fakeSession struct {
	kind scenario.SessionKind
	exec func(ctx context.Context, step scenario.Step) (*expect.Observation, error)
	obs  *expect.Observation

	mu     sync.Mutex
	closed int
	shots  []string
}

func (f *fakeSession) Kind() scenario.SessionKind { return f.kind }

func (f *fakeSession) Execute(ctx context.Context, step scenario.Step) (*expect.Observation, error) {
	if f.exec == nil {
		return f.obs, nil
	}
	return f.exec(ctx, step)
}

func (f *fakeSession) Observe(ctx context.Context, e *scenario.Expect) (*expect.Observation, error) {
	if f.obs == nil {
		return &expect.Observation{}, nil
	}
	return f.obs, nil
}

func (f *fakeSession) Capture(obs *expect.Observation, capture map[string]string) error {
	return nil
}

func (f *fakeSession) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeSession) Screenshot(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shots = append(f.shots, path)
	return nil
}

func (f *fakeSession) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeFactory struct {
	sess *fakeSession
	err  error

	mu     sync.Mutex
	opened int
}

func (f *fakeFactory) Open(ctx context.Context, kind scenario.SessionKind) (session.Session, error) {
	f.mu.Lock()
	f.opened++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.sess, nil
}

func (f *fakeFactory) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened
}

func browserScenario(name string, steps ...scenario.Step) *scenario.Scenario {
	return &scenario.Scenario{Name: name, Session: scenario.SessionBrowser, Steps: steps}
}

func click(sel string) scenario.Step {
	return scenario.Step{Action: scenario.ActionClick, Selector: sel}
}

func statuses(res scenario.ExecutionResult) []scenario.StepStatus {
	out := make([]scenario.StepStatus, len(res.Steps))
	for i, s := range res.Steps {
		out[i] = s.Status
	}
	return out
}

func TestRunner_HTTPScenarioPasses(t *testing.T) {
	app := testutil.NewTargetApp(t)
	cfg := testConfig(app.URL())
	r := NewRunner(cfg, session.NewFactory(cfg.SessionOptions(), discardLogger()), discardLogger())

	s := parse(t, `
name: admin_lists_users
steps:
  - action: request
    method: POST
    path: /auth/login
    json:
      email: ${admin_email}
      senha: ${admin_password}
    expect:
      status: 200
      jwt: token
    capture:
      token: token
  - action: request
    path: /admin/usuarios
    bearer: ${token}
    expect:
      text: `+testutil.UserEmail+`
expect:
  shape:
    fields:
      sucesso: "true"
      total: int
      usuarios: list
`)

	res, err := r.Run(context.Background(), s)
	require.NoError(t, err)

	assert.Equal(t, scenario.StateCompleted, res.State)
	assert.Equal(t, scenario.OutcomePass, res.Outcome)
	assert.Nil(t, res.Failure)
	assert.Equal(t, []scenario.StepStatus{scenario.StepSuccess, scenario.StepSuccess}, statuses(res))
	assert.True(t, res.Final.Evaluated)
	assert.True(t, res.Final.Pass)
	assert.Equal(t, 1, app.Requests("/admin/usuarios"))
}

func TestRunner_Golden(t *testing.T) {
	app := testutil.NewTargetApp(t)
	cfg := testConfig(app.URL())
	r := NewRunner(cfg, session.NewFactory(cfg.SessionOptions(), discardLogger()), discardLogger())

	t.Run("rejected login", func(t *testing.T) {
		s := parse(t, `
name: login_with_stale_password
steps:
  - action: request
    method: POST
    path: /auth/login
    json:
      email: ${admin_email}
      senha: stale-password
    capture:
      token: token
  - action: request
    path: /auth/validate
    bearer: ${token}
`)
		res := RunWithGolden(t, r, s, app.URL(), "{api}")
		assert.Equal(t, scenario.StateAborted, res.State)
		assert.Equal(t, 0, app.Requests("/auth/validate"))
	})

	t.Run("final assertion", func(t *testing.T) {
		s := parse(t, `
name: health_reports_version
steps:
  - action: request
    path: /health
expect:
  shape:
    fields:
      status: string
      versao: string
`)
		res := RunWithGolden(t, r, s, app.URL(), "{api}")
		assert.Equal(t, scenario.StateCompleted, res.State)
		assert.Equal(t, scenario.OutcomeFail, res.Outcome)
		assert.Nil(t, res.Failure)
	})
}

func TestRunner_StepAssertionFailureAborts(t *testing.T) {
	sess := &fakeSession{kind: scenario.SessionBrowser, obs: &expect.Observation{Text: "Bem-vindo"}}
	r := NewRunner(testConfig("http://app.test"), &fakeFactory{sess: sess}, discardLogger())

	s := browserScenario("dashboard_greets",
		scenario.Step{Action: scenario.ActionNavigate, URL: "/dashboard",
			Expect: &scenario.Expect{Text: scenario.StringList{"Olá, Administrador"}, Timeout: scenario.Duration(30 * time.Millisecond)}},
		click("#sair"),
	)

	res, err := r.Run(context.Background(), s)
	require.NoError(t, err)

	assert.Equal(t, scenario.StateAborted, res.State)
	assert.Equal(t, scenario.OutcomeFail, res.Outcome)
	require.NotNil(t, res.Failure)
	assert.Equal(t, failure.CodeAssertionFailed, res.Failure.Code)
	assert.Equal(t, 0, res.Failure.Step)
	assert.Equal(t, []scenario.StepStatus{scenario.StepError, scenario.StepNotRun}, statuses(res))
	assert.Equal(t, 1, sess.closeCount())
}

func TestRunner_BestEffortNeverAborts(t *testing.T) {
	sess := &fakeSession{kind: scenario.SessionBrowser}
	sess.exec = func(ctx context.Context, step scenario.Step) (*expect.Observation, error) {
		switch step.Selector {
		case "text=Aceitar cookies":
			return nil, failure.NewResolutionTimeout(step.Selector, time.Second)
		case "text=Fechar":
			return nil, failure.NewAmbiguous(step.Selector, 2)
		}
		return nil, nil
	}
	r := NewRunner(testConfig("http://app.test"), &fakeFactory{sess: sess}, discardLogger())

	cookies := click("text=Aceitar cookies")
	cookies.BestEffort = true
	closeBtn := click("text=Fechar")
	closeBtn.BestEffort = true
	s := browserScenario("tolerates_optional_popups", cookies, click("#entrar"), closeBtn)

	res, err := r.Run(context.Background(), s)
	require.NoError(t, err)

	assert.Equal(t, scenario.StateCompleted, res.State)
	assert.Equal(t, scenario.OutcomePass, res.Outcome)
	assert.Equal(t, []scenario.StepStatus{scenario.StepTimeout, scenario.StepSuccess, scenario.StepError}, statuses(res))
	assert.True(t, res.Steps[0].Tolerated)
	assert.Equal(t, failure.CodeResolutionTimeout, res.Steps[0].Code)
	assert.True(t, res.Steps[2].Tolerated)
	assert.Equal(t, failure.CodeAmbiguous, res.Steps[2].Code)
}

func TestRunner_BestEffortDoesNotSwallowRejection(t *testing.T) {
	app := testutil.NewTargetApp(t)
	cfg := testConfig(app.URL())
	r := NewRunner(cfg, session.NewFactory(cfg.SessionOptions(), discardLogger()), discardLogger())

	s := parse(t, `
name: optional_step_still_checked
steps:
  - action: request
    path: /status/500
    best_effort: true
  - action: request
    path: /health
`)
	res, err := r.Run(context.Background(), s)
	require.NoError(t, err)

	assert.Equal(t, scenario.StateAborted, res.State)
	assert.Equal(t, scenario.OutcomeFail, res.Outcome)
	require.NotNil(t, res.Failure)
	assert.Equal(t, failure.CodeRejected, res.Failure.Code)
	assert.Contains(t, res.Failure.Message, "returned 500, expected 2xx")
	assert.False(t, res.Steps[0].Tolerated)
	assert.Equal(t, 0, app.Requests("/health"))
}

func TestRunner_OneOutcomePerStep(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name    string
		failAt  int
		failErr error
		want    []scenario.StepStatus
		outcome scenario.Outcome
	}{
		{"all succeed", -1, nil,
			[]scenario.StepStatus{scenario.StepSuccess, scenario.StepSuccess, scenario.StepSuccess, scenario.StepSuccess},
			scenario.OutcomePass},
		{"first fails", 0, failure.NewResolutionTimeout("#a", time.Second),
			[]scenario.StepStatus{scenario.StepTimeout, scenario.StepNotRun, scenario.StepNotRun, scenario.StepNotRun},
			scenario.OutcomeError},
		{"middle unreachable", 2, failure.New(failure.CodeUnreachable, "navigation failed"),
			[]scenario.StepStatus{scenario.StepSuccess, scenario.StepSuccess, scenario.StepError, scenario.StepNotRun},
			scenario.OutcomeError},
		{"last plain error", 3, boom,
			[]scenario.StepStatus{scenario.StepSuccess, scenario.StepSuccess, scenario.StepSuccess, scenario.StepError},
			scenario.OutcomeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := browserScenario("four_steps", click("#a"), click("#b"), click("#c"), click("#d"))
			sess := &fakeSession{kind: scenario.SessionBrowser}
			sess.exec = func(ctx context.Context, step scenario.Step) (*expect.Observation, error) {
				if tt.failAt >= 0 && step.Selector == s.Steps[tt.failAt].Selector {
					return nil, tt.failErr
				}
				return nil, nil
			}
			r := NewRunner(testConfig("http://app.test"), &fakeFactory{sess: sess}, discardLogger())

			res, err := r.Run(context.Background(), s)
			require.NoError(t, err)

			require.Len(t, res.Steps, len(s.Steps))
			for i, step := range res.Steps {
				assert.Equal(t, i, step.Index)
			}
			assert.Equal(t, tt.want, statuses(res))
			assert.Equal(t, tt.outcome, res.Outcome)
		})
	}
}

func TestRunner_ScenarioCeilingTimesOut(t *testing.T) {
	sess := &fakeSession{kind: scenario.SessionBrowser}
	sess.exec = func(ctx context.Context, step scenario.Step) (*expect.Observation, error) {
		if step.Selector == "#lento" {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return nil, nil
	}
	cfg := testConfig("http://app.test")
	cfg.ArtifactsDir = t.TempDir()
	r := NewRunner(cfg, &fakeFactory{sess: sess}, discardLogger())

	s := browserScenario("slow_upload", click("#abrir"), click("#lento"), click("#confirmar"))
	s.Timeout = scenario.Duration(50 * time.Millisecond)

	res, err := r.Run(context.Background(), s)
	require.NoError(t, err)

	assert.Equal(t, scenario.StateTimedOut, res.State)
	assert.Equal(t, scenario.OutcomeError, res.Outcome)
	require.NotNil(t, res.Failure)
	assert.Equal(t, failure.CodeTimedOut, res.Failure.Code)
	assert.Equal(t, 1, res.Failure.Step)
	assert.Equal(t, "scenario exceeded its 50ms ceiling", res.Failure.Message)
	assert.Equal(t, []scenario.StepStatus{scenario.StepSuccess, scenario.StepTimeout, scenario.StepNotRun}, statuses(res))
	assert.Equal(t, 1, sess.closeCount())
	require.Len(t, sess.shots, 1)
	assert.True(t, strings.HasPrefix(sess.shots[0], cfg.ArtifactsDir))
}

func TestRunner_ParentCancelAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess := &fakeSession{kind: scenario.SessionBrowser}
	sess.exec = func(sctx context.Context, step scenario.Step) (*expect.Observation, error) {
		cancel()
		<-sctx.Done()
		return nil, sctx.Err()
	}
	r := NewRunner(testConfig("http://app.test"), &fakeFactory{sess: sess}, discardLogger())

	res, err := r.Run(ctx, browserScenario("interrupted", click("#a"), click("#b")))
	require.NoError(t, err)

	assert.Equal(t, scenario.StateAborted, res.State)
	assert.Equal(t, scenario.OutcomeError, res.Outcome)
	require.NotNil(t, res.Failure)
	assert.Equal(t, failure.CodeAborted, res.Failure.Code)
	assert.Equal(t, "cancelled: context canceled", res.Failure.Message)
	assert.Equal(t, []scenario.StepStatus{scenario.StepError, scenario.StepNotRun}, statuses(res))
	assert.Equal(t, 1, sess.closeCount())
}

func TestRunner_SessionOpenFailure(t *testing.T) {
	factory := &fakeFactory{err: errors.New("chrome not found")}
	r := NewRunner(testConfig("http://app.test"), factory, discardLogger())

	res, err := r.Run(context.Background(), browserScenario("needs_browser", click("#a"), click("#b")))
	require.NoError(t, err)

	assert.Equal(t, scenario.StateAborted, res.State)
	assert.Equal(t, scenario.OutcomeError, res.Outcome)
	require.NotNil(t, res.Failure)
	assert.Equal(t, failure.CodeAborted, res.Failure.Code)
	assert.Equal(t, failure.NoStep, res.Failure.Step)
	assert.Equal(t, "could not open browser session: chrome not found", res.Failure.Message)
	assert.Equal(t, []scenario.StepStatus{scenario.StepNotRun, scenario.StepNotRun}, statuses(res))
}

func TestRunner_PanicIsAborted(t *testing.T) {
	sess := &fakeSession{kind: scenario.SessionBrowser}
	sess.exec = func(ctx context.Context, step scenario.Step) (*expect.Observation, error) {
		panic("kaboom")
	}
	r := NewRunner(testConfig("http://app.test"), &fakeFactory{sess: sess}, discardLogger())

	res, err := r.Run(context.Background(), browserScenario("panics", click("#a")))
	require.NoError(t, err)

	assert.Equal(t, scenario.StateAborted, res.State)
	require.NotNil(t, res.Failure)
	assert.Equal(t, failure.CodeAborted, res.Failure.Code)
	assert.Equal(t, "step panicked: kaboom", res.Failure.Message)
	assert.Equal(t, 1, sess.closeCount())
}

func TestRunner_DeterministicDurations(t *testing.T) {
	sess := &fakeSession{kind: scenario.SessionBrowser}
	clock := testutil.NewDeterministicClock(10 * time.Millisecond)
	r := NewRunner(testConfig("http://app.test"), &fakeFactory{sess: sess}, discardLogger(), WithClock(clock))

	res, err := r.Run(context.Background(), browserScenario("timed", click("#a"), click("#b")))
	require.NoError(t, err)

	assert.True(t, res.StartedAt.Equal(testutil.Epoch))
	assert.Equal(t, 50*time.Millisecond, res.Duration)
	for _, step := range res.Steps {
		assert.Equal(t, 10*time.Millisecond, step.Duration)
	}
}

func TestRunner_Skip(t *testing.T) {
	r := NewRunner(testConfig("http://app.test"), &fakeFactory{}, discardLogger())
	f := &scenario.Failure{Code: failure.CodeUnreachable, Message: "target unreachable", Step: failure.NoStep}

	res := r.Skip(browserScenario("skipped", click("#a"), click("#b")), f)
	assert.Equal(t, scenario.StateAborted, res.State)
	assert.Equal(t, scenario.OutcomeError, res.Outcome)
	assert.Same(t, f, res.Failure)
	assert.Equal(t, []scenario.StepStatus{scenario.StepNotRun, scenario.StepNotRun}, statuses(res))
}

func TestTransition(t *testing.T) {
	tests := []struct {
		from, to scenario.State
		ok       bool
	}{
		{scenario.StatePending, scenario.StateRunning, true},
		{scenario.StatePending, scenario.StateAborted, true},
		{scenario.StatePending, scenario.StateTimedOut, true},
		{scenario.StatePending, scenario.StateCompleted, false},
		{scenario.StateRunning, scenario.StateCompleted, true},
		{scenario.StateRunning, scenario.StateAborted, true},
		{scenario.StateRunning, scenario.StateTimedOut, true},
		{scenario.StateRunning, scenario.StatePending, false},
		{scenario.StateCompleted, scenario.StateRunning, false},
		{scenario.StateAborted, scenario.StateCompleted, false},
		{scenario.StateTimedOut, scenario.StateAborted, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := Transition(tt.from, tt.to)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
