package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/arroschaves/brandaocontador-e2e/internal/config"
	"github.com/arroschaves/brandaocontador-e2e/internal/harness"
	"github.com/arroschaves/brandaocontador-e2e/internal/report"
	"github.com/arroschaves/brandaocontador-e2e/internal/scenario"
	"github.com/arroschaves/brandaocontador-e2e/internal/session"
	"github.com/arroschaves/brandaocontador-e2e/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ConfigPath string
	EnvFile    string
	BaseURL    string
	APIURL     string
	Filter     string
	Tags       []string
	Parallel   int
	JUnit      string
	JSONOut    string
	Database   string

	// IDGenerator allows overriding the run id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	IDGenerator store.IDGenerator

	// Factory allows overriding the session factory (for testing).
	// If nil, sessions are opened from the loaded config.
	Factory session.Factory
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [scenario-paths...]",
		Short: "Run scenarios against the target application",
		Long: `Load configuration and scenarios, run the suite and report the results.

Scenario paths may be files or directories (default: ./scenarios). The
process exits 0 when every scenario passed, 1 when any failed or errored
and 2 when the command itself could not run.

Example:
  e2e run
  e2e run --api-url https://api.example.com --tag smoke scenarios/api
  e2e run --junit reports/junit.xml --db e2e.db --parallel 2`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSuite(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "config file (default: e2e.yaml in the working directory)")
	cmd.Flags().StringVar(&opts.EnvFile, "env-file", "", "env file (default: .env in the working directory)")
	cmd.Flags().StringVar(&opts.BaseURL, "base-url", "", "UI origin")
	cmd.Flags().StringVar(&opts.APIURL, "api-url", "", "API origin")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "only run scenarios whose name matches this glob")
	cmd.Flags().StringSliceVar(&opts.Tags, "tag", nil, "only run scenarios with one of these tags")
	cmd.Flags().IntVar(&opts.Parallel, "parallel", 0, "number of scenarios run concurrently")
	cmd.Flags().StringVar(&opts.JUnit, "junit", "", "write a JUnit XML report to this path")
	cmd.Flags().StringVar(&opts.JSONOut, "json-out", "", "write a JSON report to this path")
	cmd.Flags().StringVar(&opts.Database, "db", "", "store results in this SQLite database")

	return cmd
}

// flagOverrides maps explicitly set flags to config keys.
func (o *RunOptions) flagOverrides(cmd *cobra.Command) map[string]any {
	overrides := map[string]any{}
	if cmd.Flags().Changed("base-url") {
		overrides["base_url"] = o.BaseURL
	}
	if cmd.Flags().Changed("api-url") {
		overrides["api_url"] = o.APIURL
	}
	if cmd.Flags().Changed("parallel") {
		overrides["parallelism"] = o.Parallel
	}
	return overrides
}

func runSuite(opts *RunOptions, paths []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	cfg, err := config.Load(config.LoadOptions{
		ConfigPath:    opts.ConfigPath,
		EnvFile:       opts.EnvFile,
		FlagOverrides: opts.flagOverrides(cmd),
	})
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "failed to load config", err)
	}
	logger := opts.Logger(cmd.ErrOrStderr(), cfg.LogLevel)

	loaded, loadErrs := LoadScenarios(paths, LoadModeFailFast, Selection{Filter: opts.Filter, Tags: opts.Tags})
	if len(loadErrs) > 0 {
		code := ErrCodeGeneric
		if le, ok := loadErrs[0].(*LoadError); ok {
			code = le.Code
		}
		return formatter.Fail(ExitCommandError, code, "failed to load scenarios", loadErrs[0])
	}
	if len(loaded.Scenarios) == 0 {
		return formatter.Fail(ExitCommandError, ErrCodeNoScenarios, "no scenarios matched the selection", nil)
	}
	logger.Info("scenarios loaded", "files", loaded.FileCount, "selected", len(loaded.Scenarios))

	idGen := opts.IDGenerator
	if idGen == nil {
		idGen = store.UUIDv7Generator{}
	}
	runID := idGen.Generate()

	var recorders []report.Recorder
	var st *store.Store
	if opts.Database != "" {
		st, err = store.Open(opts.Database)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing database", "error", closeErr)
			}
		}()
		if err := st.CreateRun(cmd.Context(), store.Run{
			ID:        runID,
			StartedAt: time.Now(),
			BaseURL:   cfg.BaseURL,
			APIURL:    cfg.APIURL,
		}); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to create run", err)
		}
		recorders = append(recorders, st)
	}

	factory := opts.Factory
	if factory == nil {
		factory = session.NewFactory(cfg.SessionOptions(), logger)
	}
	sink := report.NewSink(logger, recorders...)
	runner := harness.NewRunner(cfg, factory, logger)
	suite := harness.NewSuite(cfg, runner, sink, logger)

	// Ctrl-C cancels the suite; results recorded so far are still reported.
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := suite.Run(ctx, runID, loaded.Scenarios); err != nil {
		return WrapExitError(ExitCommandError, "suite failed", err)
	}

	results := sink.Results()
	if st != nil {
		if err := st.FinishRun(context.WithoutCancel(ctx), runID, time.Now()); err != nil {
			logger.Error("failed to finish run", "run_id", runID, "error", err)
		}
	}

	if opts.JUnit != "" {
		if err := writeReportFile(opts.JUnit, report.FormatJUnit, results); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeWriteFailed, "failed to write junit report", err)
		}
		formatter.VerboseLog("JUnit report written to %s", opts.JUnit)
	}
	if opts.JSONOut != "" {
		if err := writeReportFile(opts.JSONOut, report.FormatJSON, results); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeWriteFailed, "failed to write json report", err)
		}
		formatter.VerboseLog("JSON report written to %s", opts.JSONOut)
	}

	if err := outputResults(formatter, runID, results); err != nil {
		return err
	}

	sum := report.Summarize(results)
	if !sum.OK() {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenarios did not pass", sum.Total-sum.Passed, sum.Total))
	}
	return nil
}

// outputResults prints the report of a run. JSON output is a CLIResponse
// carrying the run id and a report.Document.
func outputResults(f *OutputFormatter, runID string, results []scenario.ExecutionResult) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   report.NewDocument(results),
			RunID:  runID,
		})
	}
	return report.WriteText(f.Writer, results, f.Verbose)
}

func writeReportFile(path, format string, results []scenario.ExecutionResult) (err error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer func() {
		if closeErr := file.Close(); err == nil {
			err = closeErr
		}
	}()
	return report.Write(file, format, results, false)
}
