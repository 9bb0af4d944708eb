package session

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arroschaves/brandaocontador-e2e/internal/expect"
	"github.com/arroschaves/brandaocontador-e2e/internal/failure"
	"github.com/arroschaves/brandaocontador-e2e/internal/scenario"
	"github.com/arroschaves/brandaocontador-e2e/internal/testutil"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOptions(app *testutil.TargetApp) Options {
	return Options{
		BaseURL:      app.URL(),
		APIURL:       app.URL(),
		StepTimeout:  2 * time.Second,
		PollInterval: 10 * time.Millisecond,
		Vars: map[string]string{
			"ADMIN_EMAIL":    testutil.AdminEmail,
			"ADMIN_PASSWORD": testutil.AdminPassword,
		},
	}
}

func TestHTTPSession_LoginCaptureAndReuse(t *testing.T) {
	app := testutil.NewTargetApp(t)
	s := NewHTTPSession(testOptions(app), discardLogger())
	defer s.Close(context.Background())
	ctx := context.Background()

	obs, err := s.Execute(ctx, scenario.Step{
		Action: scenario.ActionRequest,
		Method: "post",
		Path:   "/auth/login",
		JSON:   map[string]any{"email": "${ADMIN_EMAIL}", "senha": "${ADMIN_PASSWORD}"},
	})
	require.NoError(t, err)
	assert.Equal(t, 200, obs.Status)
	assert.True(t, expect.IsJWT(obs.JSON.(map[string]any)["token"].(string)))

	require.NoError(t, s.Capture(obs, map[string]string{"token": "token", "uid": "usuario.id"}))
	assert.Equal(t, "1", s.Vars()["uid"])

	obs, err = s.Execute(ctx, scenario.Step{
		Action: scenario.ActionRequest,
		Path:   "/admin/usuarios",
		Bearer: "${token}",
	})
	require.NoError(t, err)
	assert.Equal(t, 200, obs.Status)
	assert.Contains(t, obs.Text, testutil.UserEmail)

	last, err := s.Observe(ctx, nil)
	require.NoError(t, err)
	assert.Same(t, obs, last)
}

func TestHTTPSession_SessionsDoNotShareVariables(t *testing.T) {
	app := testutil.NewTargetApp(t)
	f := NewFactory(testOptions(app), discardLogger())

	a, err := f.Open(context.Background(), scenario.SessionHTTP)
	require.NoError(t, err)
	b, err := f.Open(context.Background(), scenario.SessionHTTP)
	require.NoError(t, err)

	obs := &expect.Observation{Body: []byte(`{"token":"abc"}`)}
	obs.DecodeJSON()
	require.NoError(t, a.Capture(obs, map[string]string{"token": "token"}))

	_, err = b.Execute(context.Background(), scenario.Step{Action: scenario.ActionRequest, Path: "/health", Bearer: "${token}"})
	require.Error(t, err)
	assert.Equal(t, failure.CodeInvalidStep, failure.CodeOf(err))
}

func TestHTTPSession_CaptureMissingField(t *testing.T) {
	s := NewHTTPSession(Options{}, discardLogger())

	obs := &expect.Observation{Body: []byte(`{"erro":"Credenciais inválidas"}`)}
	obs.DecodeJSON()
	err := s.Capture(obs, map[string]string{"token": "token"})
	require.Error(t, err)
	assert.True(t, failure.IsAssertionFailed(err))

	err = s.Capture(&expect.Observation{Body: []byte("oops")}, map[string]string{"token": "token"})
	assert.True(t, failure.IsAssertionFailed(err))
}

func TestHTTPSession_Unreachable(t *testing.T) {
	dead := httptest.NewServer(nil)
	url := dead.URL
	dead.Close()

	s := NewHTTPSession(Options{APIURL: url, StepTimeout: time.Second}, discardLogger())
	_, err := s.Execute(context.Background(), scenario.Step{Action: scenario.ActionRequest, Path: "/health"})
	require.Error(t, err)
	assert.True(t, failure.IsUnreachable(err))
	assert.True(t, failure.Recoverable(err))
}

func TestHTTPSession_StepTimeoutIsUnreachable(t *testing.T) {
	app := testutil.NewTargetApp(t)
	s := NewHTTPSession(testOptions(app), discardLogger())

	_, err := s.Execute(context.Background(), scenario.Step{
		Action:  scenario.ActionRequest,
		Path:    "/slow?ms=2000",
		Timeout: scenario.Duration(50 * time.Millisecond),
	})
	require.Error(t, err)
	assert.True(t, failure.IsUnreachable(err))
}

func TestHTTPSession_RejectsBrowserActions(t *testing.T) {
	s := NewHTTPSession(Options{}, discardLogger())
	_, err := s.Execute(context.Background(), scenario.Step{Action: scenario.ActionClick, Selector: "#x"})
	assert.Equal(t, failure.CodeInvalidStep, failure.CodeOf(err))
}

func TestHTTPSession_RawBodyAndHeaders(t *testing.T) {
	app := testutil.NewTargetApp(t)
	s := NewHTTPSession(testOptions(app), discardLogger())

	obs, err := s.Execute(context.Background(), scenario.Step{
		Action:  scenario.ActionRequest,
		Method:  "POST",
		Path:    "/auth/login",
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    `{"email":"admin@example.com"}`,
	})
	require.NoError(t, err)
	assert.Equal(t, 400, obs.Status)
	assert.Equal(t, "Email e senha são obrigatórios", obs.JSON.(map[string]any)["erro"])
}

func TestFactory_UnknownKind(t *testing.T) {
	f := NewFactory(Options{}, discardLogger())
	_, err := f.Open(context.Background(), "desktop")
	assert.Equal(t, failure.CodeInvalidStep, failure.CodeOf(err))
}

func TestScreenshotPath(t *testing.T) {
	at := time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)
	assert.Equal(t,
		filepath.Join("artifacts", "ui_login_admin-step03-20250115T103000.png"),
		ScreenshotPath("artifacts", "ui login/admin", 3, at))
}

// Browser tests need a local Chrome; enable with E2E_CHROME=1.
func requireChrome(t *testing.T) {
	t.Helper()
	if os.Getenv("E2E_CHROME") != "1" {
		t.Skip("E2E_CHROME=1 not set")
	}
}

func TestBrowserSession_LoginFlow(t *testing.T) {
	requireChrome(t)
	app := testutil.NewTargetApp(t)
	opts := testOptions(app)
	opts.Browser = BrowserOptions{Headless: true}
	ctx := context.Background()

	b, err := NewBrowserSession(ctx, opts, discardLogger())
	require.NoError(t, err)
	defer b.Close(ctx)

	steps := []scenario.Step{
		{Action: scenario.ActionNavigate, URL: "/login"},
		{Action: scenario.ActionFill, Selector: "#email", Value: "${ADMIN_EMAIL}"},
		{Action: scenario.ActionFill, Selector: "id=senha", Value: "${ADMIN_PASSWORD}"},
		{Action: scenario.ActionClick, Selector: "text=Entrar", Exact: false},
		{Action: scenario.ActionWait, Selector: "#menu"},
	}
	for i, step := range steps {
		_, err := b.Execute(ctx, step)
		require.NoError(t, err, "step %d", i)
	}

	e := &scenario.Expect{Text: scenario.StringList{"Dashboard"}, Visible: scenario.StringList{"#menu"}, URLContains: "/dashboard"}
	preds, err := expect.Compile(e, expect.Options{})
	require.NoError(t, err)
	v, err := expect.Poll(ctx, func(ctx context.Context) (*expect.Observation, error) { return b.Observe(ctx, e) }, preds, 5*time.Second, 100*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, v.Pass, v.Message())

	path := filepath.Join(t.TempDir(), "shot.png")
	require.NoError(t, b.Screenshot(ctx, path))
	assert.FileExists(t, path)
}

func TestBrowserSession_ResolutionTimeout(t *testing.T) {
	requireChrome(t)
	app := testutil.NewTargetApp(t)
	opts := testOptions(app)
	opts.Browser = BrowserOptions{Headless: true}
	ctx := context.Background()

	b, err := NewBrowserSession(ctx, opts, discardLogger())
	require.NoError(t, err)
	defer b.Close(ctx)

	_, err = b.Execute(ctx, scenario.Step{Action: scenario.ActionNavigate, URL: "/login"})
	require.NoError(t, err)
	_, err = b.Execute(ctx, scenario.Step{Action: scenario.ActionClick, Selector: "#does-not-exist", Timeout: scenario.Duration(300 * time.Millisecond)})
	assert.True(t, failure.IsResolutionTimeout(err))
}

func TestConsoleText(t *testing.T) {
	tests := []struct {
		name string
		arg  *runtime.RemoteObject
		want string
	}{
		{"string", &runtime.RemoteObject{Value: []byte(`"falha no login"`)}, "falha no login"},
		{"number", &runtime.RemoteObject{Value: []byte(`401`)}, "401"},
		{"error object", &runtime.RemoteObject{Description: "TypeError: x is undefined\n    at app.js:1:1"}, "TypeError: x is undefined\n    at app.js:1:1"},
		{"nothing", &runtime.RemoteObject{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, consoleText(tt.arg))
		})
	}
}
