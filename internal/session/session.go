// Package session provides the isolated automation sessions a scenario
// runs in: a plain HTTP client for API scenarios and a chromedp-driven
// browser for UI scenarios.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/arroschaves/brandaocontador-e2e/internal/expect"
	"github.com/arroschaves/brandaocontador-e2e/internal/failure"
	"github.com/arroschaves/brandaocontador-e2e/internal/resolver"
	"github.com/arroschaves/brandaocontador-e2e/internal/scenario"
)

// Session is one scenario's private view of the target. Implementations
// are not safe for concurrent use; steps run strictly in order.
type Session interface {
	// Kind reports which session implementation this is.
	Kind() scenario.SessionKind

	// Execute performs one step and returns what it observed. Request steps
	// observe the response; browser actions observe nothing (nil).
	Execute(ctx context.Context, step scenario.Step) (*expect.Observation, error)

	// Observe captures the current state for e's predicates.
	Observe(ctx context.Context, e *scenario.Expect) (*expect.Observation, error)

	// Capture binds JSON fields of obs to variables for later steps.
	Capture(obs *expect.Observation, capture map[string]string) error

	// Close releases the session. It must be called on every exit path.
	Close(ctx context.Context) error
}

// Options configure the sessions a Factory opens.
type Options struct {
	// BaseURL is the UI origin browser navigation is relative to.
	BaseURL string

	// APIURL is the origin request paths are relative to.
	APIURL string

	// Vars seed every session's variable scope.
	Vars map[string]string

	// StepTimeout bounds resolver waits and network calls.
	StepTimeout time.Duration

	// PollInterval is the resolver polling interval.
	PollInterval time.Duration

	// Browser configures browser sessions.
	Browser BrowserOptions

	// ArtifactsDir receives failure screenshots. Empty disables them.
	ArtifactsDir string
}

// BrowserOptions configure the chromedp allocator.
type BrowserOptions struct {
	Headless     bool
	RemoteURL    string
	ExecPath     string
	WindowWidth  int
	WindowHeight int
}

// Factory opens sessions.
type Factory interface {
	Open(ctx context.Context, kind scenario.SessionKind) (Session, error)
}

// DefaultFactory opens HTTP and browser sessions from Options.
type DefaultFactory struct {
	opts   Options
	logger *slog.Logger
}

// NewFactory creates a DefaultFactory.
func NewFactory(opts Options, logger *slog.Logger) *DefaultFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{opts: opts, logger: logger}
}

// Open creates a fresh session of the given kind. Failures to start a
// browser are reported as UNREACHABLE.
func (f *DefaultFactory) Open(ctx context.Context, kind scenario.SessionKind) (Session, error) {
	switch kind {
	case scenario.SessionHTTP, "":
		return NewHTTPSession(f.opts, f.logger), nil
	case scenario.SessionBrowser:
		return NewBrowserSession(ctx, f.opts, f.logger)
	default:
		return nil, failure.New(failure.CodeInvalidStep, fmt.Sprintf("unknown session kind %q", kind))
	}
}

// capture implements Session.Capture for both session kinds.
func capture(vars resolver.Vars, obs *expect.Observation, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	if obs == nil || obs.JSON == nil {
		return failure.New(failure.CodeAssertionFailed, "capture needs a JSON response")
	}
	for name, path := range fields {
		v, ok := expect.Lookup(obs.JSON, path)
		if !ok {
			return failure.New(failure.CodeAssertionFailed, fmt.Sprintf("capture %s: field %q missing from response", name, path))
		}
		switch x := v.(type) {
		case string:
			vars[name] = x
		case nil:
			vars[name] = ""
		default:
			vars[name] = fmt.Sprint(x)
		}
	}
	return nil
}
