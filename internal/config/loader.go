package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// LoadOptions controls configuration loading.
type LoadOptions struct {
	// Dir is searched for e2e.{yaml,yml,toml,json} and .env. Defaults to CWD.
	Dir string
	// ConfigPath overrides the config file search. The file must exist.
	ConfigPath string
	// EnvFile overrides the .env path. A missing default .env is ignored.
	EnvFile string
	// FlagOverrides are highest-priority overrides from CLI flags (dot-notated keys).
	FlagOverrides map[string]any
	// Environ replaces os.Environ, for tests.
	Environ []string
}

// EnvPrefix prefixes every environment override.
const EnvPrefix = "E2E_"

// VarEnvPrefix prefixes environment variables that seed scenario variables:
// E2E_VAR_ADMIN_EMAIL sets ${admin_email}.
const VarEnvPrefix = EnvPrefix + "VAR_"

type valueKind int

const (
	kindString valueKind = iota
	kindInt
	kindBool
	kindDuration
)

type envBinding struct {
	Env  string
	Key  string
	Kind valueKind
}

var envBindings = []envBinding{
	{"E2E_BASE_URL", "base_url", kindString},
	{"E2E_API_URL", "api_url", kindString},
	{"E2E_STEP_TIMEOUT", "timeouts.step", kindDuration},
	{"E2E_ASSERT_TIMEOUT", "timeouts.assert", kindDuration},
	{"E2E_SCENARIO_TIMEOUT", "timeouts.scenario", kindDuration},
	{"E2E_SUITE_TIMEOUT", "timeouts.suite", kindDuration},
	{"E2E_SESSION_TIMEOUT", "timeouts.session", kindDuration},
	{"E2E_POLL_INTERVAL", "poll_interval", kindDuration},
	{"E2E_PARALLELISM", "parallelism", kindInt},
	{"E2E_PROBE_PATH", "probe_path", kindString},
	{"E2E_HEADLESS", "browser.headless", kindBool},
	{"E2E_BROWSER_REMOTE_URL", "browser.remote_url", kindString},
	{"E2E_CHROME_PATH", "browser.exec_path", kindString},
	{"E2E_ARTIFACTS_DIR", "artifacts_dir", kindString},
	{"E2E_LOG_LEVEL", "log_level", kindString},
}

var configNames = []string{"e2e.yaml", "e2e.yml", "e2e.toml", "e2e.json"}

// Load returns the effective configuration after applying precedence:
// defaults < config file < .env < environment (E2E_*) < flags.
func Load(opts LoadOptions) (Config, error) {
	v := viper.New()
	setDefaults(v)

	dir := opts.Dir
	if dir == "" {
		if cwd, err := os.Getwd(); err == nil {
			dir = cwd
		}
	}

	// 1) Config file
	path, required := opts.ConfigPath, true
	if path == "" {
		path, required = findConfigFile(dir), false
	}
	if err := mergeConfigFile(v, path, required); err != nil {
		return Config{}, err
	}

	// 2) .env, then 3) the process environment on top of it
	env, err := readEnv(dir, opts.EnvFile)
	if err != nil {
		return Config{}, err
	}
	environ := opts.Environ
	if environ == nil {
		environ = os.Environ()
	}
	for _, kv := range environ {
		if k, val, ok := strings.Cut(kv, "="); ok && strings.HasPrefix(k, EnvPrefix) {
			env[k] = val
		}
	}
	if err := applyEnvOverrides(v, env); err != nil {
		return Config{}, err
	}

	// 4) CLI flags (highest)
	applyFlagOverrides(v, opts.FlagOverrides)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Vars == nil {
		cfg.Vars = map[string]string{}
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults seeds viper with built-in defaults.
func setDefaults(v *viper.Viper) {
	def := DefaultConfig()

	v.SetDefault("base_url", def.BaseURL)
	v.SetDefault("api_url", def.APIURL)

	v.SetDefault("timeouts.step", def.Timeouts.Step)
	v.SetDefault("timeouts.assert", def.Timeouts.Assert)
	v.SetDefault("timeouts.scenario", def.Timeouts.Scenario)
	v.SetDefault("timeouts.suite", def.Timeouts.Suite)
	v.SetDefault("timeouts.session", def.Timeouts.Session)

	v.SetDefault("poll_interval", def.PollInterval)
	v.SetDefault("parallelism", def.Parallelism)
	v.SetDefault("probe_path", def.ProbePath)

	v.SetDefault("browser.headless", def.Browser.Headless)
	v.SetDefault("browser.remote_url", def.Browser.RemoteURL)
	v.SetDefault("browser.exec_path", def.Browser.ExecPath)
	v.SetDefault("browser.window_width", def.Browser.WindowWidth)
	v.SetDefault("browser.window_height", def.Browser.WindowHeight)

	v.SetDefault("artifacts_dir", def.ArtifactsDir)
	v.SetDefault("log_level", def.LogLevel)
}

func findConfigFile(dir string) string {
	for _, name := range configNames {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

// mergeConfigFile merges the config file if it exists. The format follows
// the file extension.
func mergeConfigFile(v *viper.Viper, path string, required bool) error {
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("stat config %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config path %s is a directory", path)
	}
	v.SetConfigFile(path)
	if err := v.MergeInConfig(); err != nil {
		return fmt.Errorf("merge config %s: %w", path, err)
	}
	return nil
}

// readEnv parses the .env file without touching the process environment.
func readEnv(dir, override string) (map[string]string, error) {
	path := override
	if path == "" {
		path = filepath.Join(dir, ".env")
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
	}
	env, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("read env file %s: %w", path, err)
	}
	return env, nil
}

// applyEnvOverrides applies E2E_* bindings and E2E_VAR_* variables.
func applyEnvOverrides(v *viper.Viper, env map[string]string) error {
	for _, binding := range envBindings {
		val, ok := env[binding.Env]
		if !ok || val == "" {
			continue
		}
		parsed, err := parseValueByKind(val, binding.Kind)
		if err != nil {
			return fmt.Errorf("env %s: %w", binding.Env, err)
		}
		v.Set(binding.Key, parsed)
	}
	for k, val := range env {
		if name, ok := strings.CutPrefix(k, VarEnvPrefix); ok && name != "" {
			v.Set("vars."+strings.ToLower(name), val)
		}
	}
	return nil
}

// applyFlagOverrides applies CLI overrides as highest-precedence values.
func applyFlagOverrides(v *viper.Viper, overrides map[string]any) {
	for k, val := range overrides {
		v.Set(k, val)
	}
}

func parseValueByKind(raw string, kind valueKind) (any, error) {
	switch kind {
	case kindInt:
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", raw)
		}
		return n, nil
	case kindBool:
		b, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid boolean %q", raw)
		}
		return b, nil
	case kindDuration:
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid duration %q", raw)
		}
		return d, nil
	default:
		return raw, nil
	}
}
