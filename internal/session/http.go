package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/arroschaves/brandaocontador-e2e/internal/expect"
	"github.com/arroschaves/brandaocontador-e2e/internal/failure"
	"github.com/arroschaves/brandaocontador-e2e/internal/resolver"
	"github.com/arroschaves/brandaocontador-e2e/internal/scenario"
)

// maxBody bounds how much of a response is read.
const maxBody = 10 << 20

// HTTPSession drives the API with its own client, cookie jar and variable
// scope.
type HTTPSession struct {
	opts   Options
	client *http.Client
	vars   resolver.Vars
	last   *expect.Observation
	logger *slog.Logger
}

// NewHTTPSession creates a session seeded with opts.Vars.
func NewHTTPSession(opts Options, logger *slog.Logger) *HTTPSession {
	jar, _ := cookiejar.New(nil)
	vars := make(resolver.Vars, len(opts.Vars))
	for k, v := range opts.Vars {
		vars[k] = v
	}
	return &HTTPSession{
		opts:   opts,
		client: &http.Client{Jar: jar},
		vars:   vars,
		logger: logger,
	}
}

// Kind implements Session.
func (s *HTTPSession) Kind() scenario.SessionKind { return scenario.SessionHTTP }

// Vars returns the session's variable scope.
func (s *HTTPSession) Vars() resolver.Vars { return s.vars }

// Execute implements Session. Only request steps are supported.
func (s *HTTPSession) Execute(ctx context.Context, step scenario.Step) (*expect.Observation, error) {
	if step.Action != scenario.ActionRequest {
		return nil, failure.New(failure.CodeInvalidStep, fmt.Sprintf("action %q is not supported by http sessions", step.Action))
	}
	step, err := s.vars.ExpandStep(step)
	if err != nil {
		return nil, err
	}
	return s.Request(ctx, step)
}

// Request sends an already expanded request step.
func (s *HTTPSession) Request(ctx context.Context, step scenario.Step) (*expect.Observation, error) {
	url, err := resolver.JoinURL(s.opts.APIURL, step.Path)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	contentType := ""
	switch {
	case step.JSON != nil:
		data, err := json.Marshal(step.JSON)
		if err != nil {
			return nil, failure.Wrap(failure.CodeInvalidStep, "failed to encode json body", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	case step.Body != "":
		body = bytes.NewReader([]byte(step.Body))
	}

	reqCtx, cancel := context.WithTimeout(ctx, step.Timeout.Or(s.opts.StepTimeout))
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, step.HTTPMethod(), url, body)
	if err != nil {
		return nil, failure.Wrap(failure.CodeInvalidStep, "failed to build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range step.Headers {
		req.Header.Set(k, v)
	}
	if step.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+step.Bearer)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, failure.Wrap(failure.CodeUnreachable, fmt.Sprintf("%s %s", req.Method, url), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, failure.Wrap(failure.CodeUnreachable, fmt.Sprintf("%s %s: reading response", req.Method, url), err)
	}

	s.logger.Debug("request completed",
		"method", req.Method,
		"url", url,
		"status", resp.StatusCode,
		"bytes", len(data),
		"duration", time.Since(start))

	obs := &expect.Observation{
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
		Body:   data,
		Text:   string(data),
		URL:    url,
	}
	obs.DecodeJSON()
	s.last = obs
	return obs, nil
}

// Observe implements Session. HTTP sessions observe the last response.
func (s *HTTPSession) Observe(ctx context.Context, e *scenario.Expect) (*expect.Observation, error) {
	if s.last == nil {
		return &expect.Observation{}, nil
	}
	return s.last, nil
}

// Capture implements Session.
func (s *HTTPSession) Capture(obs *expect.Observation, fields map[string]string) error {
	return capture(s.vars, obs, fields)
}

// Close implements Session.
func (s *HTTPSession) Close(ctx context.Context) error {
	s.client.CloseIdleConnections()
	return nil
}
