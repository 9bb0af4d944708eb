package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/arroschaves/brandaocontador-e2e/internal/expect"
	"github.com/arroschaves/brandaocontador-e2e/internal/failure"
	"github.com/arroschaves/brandaocontador-e2e/internal/resolver"
	"github.com/arroschaves/brandaocontador-e2e/internal/scenario"
)

// BrowserSession drives a fresh Chrome tab over CDP. Request steps are
// delegated to an embedded HTTPSession sharing the variable scope.
type BrowserSession struct {
	*HTTPSession

	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
}

// NewBrowserSession starts a browser (or attaches to RemoteURL), opens a
// tab and clears its cookies. ctx bounds the startup only.
func NewBrowserSession(ctx context.Context, opts Options, logger *slog.Logger) (*BrowserSession, error) {
	// The browser outlives the startup ctx; Close tears it down.
	parent := context.WithoutCancel(ctx)

	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if opts.Browser.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(parent, opts.Browser.RemoteURL)
	} else {
		width, height := opts.Browser.WindowWidth, opts.Browser.WindowHeight
		if width <= 0 || height <= 0 {
			width, height = 1280, 800
		}
		allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", opts.Browser.Headless),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.WindowSize(width, height),
		)
		if opts.Browser.ExecPath != "" {
			allocOpts = append(allocOpts, chromedp.ExecPath(opts.Browser.ExecPath))
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(parent, allocOpts...)
	}

	tabCtx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			logger.Debug(fmt.Sprintf(format, args...), "component", "chromedp")
		}),
		chromedp.WithErrorf(func(format string, args ...any) {
			logger.Warn(fmt.Sprintf(format, args...), "component", "chromedp")
		}),
	)

	b := &BrowserSession{
		HTTPSession: NewHTTPSession(opts, logger),
		ctx:         tabCtx,
		cancel:      cancel,
		allocCancel: allocCancel,
	}

	chromedp.ListenTarget(tabCtx, func(ev any) {
		switch ev := ev.(type) {
		case *runtime.EventConsoleAPICalled:
			if ev.Type != runtime.APITypeError {
				return
			}
			args := make([]string, len(ev.Args))
			for i, arg := range ev.Args {
				args[i] = consoleText(arg)
			}
			logger.Warn("browser console error", "message", strings.Join(args, " "))
		case *runtime.EventExceptionThrown:
			logger.Warn("uncaught browser exception", "message", ev.ExceptionDetails.Error())
		}
	})

	// The first Run starts the browser.
	if err := b.run(ctx, network.ClearBrowserCookies()); err != nil {
		b.teardown()
		return nil, failure.Wrap(failure.CodeUnreachable, "failed to start browser", err)
	}
	return b, nil
}

// consoleText renders a console.error argument. Objects and errors carry no
// JSON value, only a description.
func consoleText(arg *runtime.RemoteObject) string {
	if len(arg.Value) == 0 {
		return arg.Description
	}
	var s string
	if err := json.Unmarshal(arg.Value, &s); err == nil {
		return s
	}
	return string(arg.Value)
}

// Kind implements Session.
func (b *BrowserSession) Kind() scenario.SessionKind { return scenario.SessionBrowser }

// run executes actions on the tab, aborting when ctx is done.
func (b *BrowserSession) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(b.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Mark implements resolver.Querier.
func (b *BrowserSession) Mark(ctx context.Context, loc resolver.Locator, mark string, allowHidden bool) (int, error) {
	var n int
	if err := b.run(ctx, chromedp.Evaluate(resolver.Script(loc, mark, allowHidden), &n)); err != nil {
		return 0, err
	}
	return n, nil
}

func (b *BrowserSession) resolve(ctx context.Context, step scenario.Step, allowHidden bool) (*resolver.Target, error) {
	loc, err := resolver.ParseLocator(step.Selector)
	if err != nil {
		return nil, failure.Wrap(failure.CodeInvalidStep, "invalid selector", err)
	}
	return resolver.Resolve(ctx, b, loc, resolver.Options{
		Timeout:     step.Timeout.Or(b.opts.StepTimeout),
		Interval:    b.opts.PollInterval,
		Exact:       step.Exact,
		AllowHidden: allowHidden,
	})
}

// Execute implements Session.
func (b *BrowserSession) Execute(ctx context.Context, step scenario.Step) (*expect.Observation, error) {
	step, err := b.vars.ExpandStep(step)
	if err != nil {
		return nil, err
	}

	switch step.Action {
	case scenario.ActionRequest:
		return b.Request(ctx, step)

	case scenario.ActionNavigate:
		url, err := resolver.JoinURL(b.opts.BaseURL, step.URL)
		if err != nil {
			return nil, err
		}
		navCtx, cancel := context.WithTimeout(ctx, step.Timeout.Or(b.opts.StepTimeout))
		defer cancel()
		if err := b.run(navCtx, chromedp.Navigate(url)); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, failure.Wrap(failure.CodeUnreachable, "navigate "+url, err)
		}
		return nil, nil

	case scenario.ActionWait:
		_, err := b.resolve(ctx, step, false)
		return nil, err

	case scenario.ActionFill:
		target, err := b.resolve(ctx, step, false)
		if err != nil {
			return nil, err
		}
		return nil, b.act(ctx, step, chromedp.SetValue(target.Selector, "", chromedp.ByQuery),
			chromedp.SendKeys(target.Selector, step.Value, chromedp.ByQuery))

	case scenario.ActionClick:
		target, err := b.resolve(ctx, step, false)
		if err != nil {
			return nil, err
		}
		return nil, b.act(ctx, step, chromedp.Click(target.Selector, chromedp.ByQuery))

	case scenario.ActionUpload:
		if _, err := os.Stat(step.File); err != nil {
			return nil, failure.Wrap(failure.CodeInvalidStep, "upload file", err)
		}
		target, err := b.resolve(ctx, step, true)
		if err != nil {
			return nil, err
		}
		return nil, b.act(ctx, step, chromedp.SetUploadFiles(target.Selector, []string{step.File}, chromedp.ByQuery))

	default:
		return nil, failure.New(failure.CodeInvalidStep, fmt.Sprintf("action %q is not supported by browser sessions", step.Action))
	}
}

// act runs the interaction on a resolved element within the step timeout.
func (b *BrowserSession) act(ctx context.Context, step scenario.Step, actions ...chromedp.Action) error {
	actCtx, cancel := context.WithTimeout(ctx, step.Timeout.Or(b.opts.StepTimeout))
	defer cancel()
	if err := b.run(actCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return failure.Wrap(failure.CodeUnreachable, step.Label(), err)
	}
	return nil
}

// Observe implements Session: the page text, URL and the visible match
// counts of e's selectors.
func (b *BrowserSession) Observe(ctx context.Context, e *scenario.Expect) (*expect.Observation, error) {
	obs := &expect.Observation{Visible: make(map[string]int)}
	actions := []chromedp.Action{
		chromedp.Evaluate(`document.body ? document.body.innerText : ''`, &obs.Text),
		chromedp.Location(&obs.URL),
	}

	var counts []int
	if e != nil {
		counts = make([]int, len(e.Visible))
		for i, sel := range e.Visible {
			loc, err := resolver.ParseLocator(sel)
			if err != nil {
				return nil, failure.Wrap(failure.CodeInvalidStep, "invalid selector", err)
			}
			actions = append(actions, chromedp.Evaluate(resolver.Script(loc, "", false), &counts[i]))
		}
	}

	if err := b.run(ctx, actions...); err != nil {
		return nil, err
	}
	if e != nil {
		for i, sel := range e.Visible {
			obs.Visible[sel] = counts[i]
		}
	}
	return obs, nil
}

// Screenshot writes a PNG of the viewport to path.
func (b *BrowserSession) Screenshot(ctx context.Context, path string) error {
	var buf []byte
	if err := b.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return fmt.Errorf("failed to capture screenshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for screenshot: %w", err)
	}
	if err := os.WriteFile(path, buf, 0644); err != nil {
		return fmt.Errorf("failed to write screenshot to file: %w", err)
	}
	return nil
}

// Close implements Session. It waits for the browser to shut down until
// ctx is done.
func (b *BrowserSession) Close(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- chromedp.Cancel(b.ctx) }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = fmt.Errorf("browser did not close in time: %w", ctx.Err())
	}
	b.teardown()
	_ = b.HTTPSession.Close(ctx)
	return err
}

func (b *BrowserSession) teardown() {
	b.cancel()
	b.allocCancel()
}

// Screenshotter is implemented by sessions that can capture the screen.
type Screenshotter interface {
	Screenshot(ctx context.Context, path string) error
}

// ScreenshotPath returns where a failure screenshot for a step is stored.
func ScreenshotPath(dir, scenarioName string, step int, now time.Time) string {
	name := fmt.Sprintf("%s-step%02d-%s.png", sanitize(scenarioName), step, now.UTC().Format("20060102T150405"))
	return filepath.Join(dir, name)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}
