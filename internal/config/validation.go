package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks the configuration for semantic errors.
func Validate(cfg Config) error {
	var errs []string

	if err := validateOrigin(cfg.BaseURL); err != nil {
		errs = append(errs, "base_url "+err.Error())
	}
	if err := validateOrigin(cfg.APIURL); err != nil {
		errs = append(errs, "api_url "+err.Error())
	}

	timeouts := []struct {
		name string
		val  int64
	}{
		{"timeouts.step", int64(cfg.Timeouts.Step)},
		{"timeouts.assert", int64(cfg.Timeouts.Assert)},
		{"timeouts.scenario", int64(cfg.Timeouts.Scenario)},
		{"timeouts.suite", int64(cfg.Timeouts.Suite)},
		{"timeouts.session", int64(cfg.Timeouts.Session)},
		{"poll_interval", int64(cfg.PollInterval)},
	}
	for _, t := range timeouts {
		if t.val <= 0 {
			errs = append(errs, t.name+" must be > 0")
		}
	}

	if cfg.Parallelism < 1 {
		errs = append(errs, "parallelism must be >= 1")
	}
	if cfg.ProbePath != "" && !strings.HasPrefix(cfg.ProbePath, "/") {
		errs = append(errs, "probe_path must start with /")
	}
	if cfg.Browser.WindowWidth < 0 || cfg.Browser.WindowHeight < 0 {
		errs = append(errs, "browser window size cannot be negative")
	}
	if cfg.Browser.RemoteURL != "" {
		if _, err := url.Parse(cfg.Browser.RemoteURL); err != nil {
			errs = append(errs, "browser.remote_url is not a valid URL")
		}
	}
	if !oneOf(strings.ToLower(cfg.LogLevel), "debug", "info", "warn", "error") {
		errs = append(errs, "log_level must be one of debug|info|warn|error")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateOrigin(raw string) error {
	if raw == "" {
		return fmt.Errorf("is required")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("must be an absolute http(s) URL, got %q", raw)
	}
	return nil
}

func oneOf(val string, options ...string) bool {
	for _, opt := range options {
		if val == opt {
			return true
		}
	}
	return false
}
