// Package config implements layered configuration for the e2e harness.
// Precedence: defaults < config file (e2e.yaml) < .env < env (E2E_*) < flags.
package config

import (
	"time"

	"github.com/arroschaves/brandaocontador-e2e/internal/session"
)

// Config is the top-level configuration structure. One Config is loaded per
// invocation and passed explicitly to the suite; nothing reads it globally.
type Config struct {
	BaseURL      string            `mapstructure:"base_url"`
	APIURL       string            `mapstructure:"api_url"`
	Vars         map[string]string `mapstructure:"vars"`
	Timeouts     TimeoutConfig     `mapstructure:"timeouts"`
	PollInterval time.Duration     `mapstructure:"poll_interval"`
	Parallelism  int               `mapstructure:"parallelism"`
	ProbePath    string            `mapstructure:"probe_path"` // empty disables the preflight probe
	Browser      BrowserConfig     `mapstructure:"browser"`
	ArtifactsDir string            `mapstructure:"artifacts_dir"`
	LogLevel     string            `mapstructure:"log_level"` // debug | info | warn | error
}

// TimeoutConfig bounds every suspension point of a run.
type TimeoutConfig struct {
	Step     time.Duration `mapstructure:"step"`
	Assert   time.Duration `mapstructure:"assert"`
	Scenario time.Duration `mapstructure:"scenario"`
	Suite    time.Duration `mapstructure:"suite"`
	Session  time.Duration `mapstructure:"session"`
}

// BrowserConfig configures the chromedp allocator.
type BrowserConfig struct {
	Headless     bool   `mapstructure:"headless"`
	RemoteURL    string `mapstructure:"remote_url"`
	ExecPath     string `mapstructure:"exec_path"`
	WindowWidth  int    `mapstructure:"window_width"`
	WindowHeight int    `mapstructure:"window_height"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:4173",
		APIURL:  "http://localhost:3001",
		Vars:    map[string]string{},
		Timeouts: TimeoutConfig{
			Step:     5 * time.Second,
			Assert:   30 * time.Second,
			Scenario: 2 * time.Minute,
			Suite:    15 * time.Minute,
			Session:  30 * time.Second,
		},
		PollInterval: 200 * time.Millisecond,
		Parallelism:  4,
		ProbePath:    "/health",
		Browser: BrowserConfig{
			Headless:     true,
			WindowWidth:  1280,
			WindowHeight: 800,
		},
		ArtifactsDir: "artifacts",
		LogLevel:     "info",
	}
}

// SessionOptions derives the options sessions are opened with.
func (c Config) SessionOptions() session.Options {
	vars := make(map[string]string, len(c.Vars))
	for k, v := range c.Vars {
		vars[k] = v
	}
	return session.Options{
		BaseURL:      c.BaseURL,
		APIURL:       c.APIURL,
		Vars:         vars,
		StepTimeout:  c.Timeouts.Step,
		PollInterval: c.PollInterval,
		Browser: session.BrowserOptions{
			Headless:     c.Browser.Headless,
			RemoteURL:    c.Browser.RemoteURL,
			ExecPath:     c.Browser.ExecPath,
			WindowWidth:  c.Browser.WindowWidth,
			WindowHeight: c.Browser.WindowHeight,
		},
		ArtifactsDir: c.ArtifactsDir,
	}
}
