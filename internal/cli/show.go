package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/arroschaves/brandaocontador-e2e/internal/report"
	"github.com/arroschaves/brandaocontador-e2e/internal/store"
)

// ShowOptions holds flags for the show command.
type ShowOptions struct {
	*RootOptions
	Database string
	JUnit    string
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ShowOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Re-render a stored run",
		Long: `Render the results of a stored run exactly as the run command printed
them, in text or JSON, optionally writing a JUnit XML report.

Examples:
  e2e show --db ./e2e.db 01928c3e-5f1a-7b2c-9d4e-0a1b2c3d4e5f
  e2e show --db ./e2e.db --junit reports/junit.xml <run-id>`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.JUnit, "junit", "", "also write a JUnit XML report to this path")

	return cmd
}

func runShow(opts *ShowOptions, runID string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	st, err := openExisting(opts.Database)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "cannot open results database", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	if _, err := st.GetRun(ctx, runID); err != nil {
		if errors.Is(err, store.ErrRunNotFound) {
			return formatter.Fail(ExitCommandError, ErrCodeNotFound, "run not found: "+runID, nil)
		}
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to read run", err)
	}

	results, err := st.ReadResults(ctx, runID)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to read results", err)
	}

	if opts.JUnit != "" {
		if err := writeReportFile(opts.JUnit, report.FormatJUnit, results); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeWriteFailed, "failed to write junit report", err)
		}
		formatter.VerboseLog("JUnit report written to %s", opts.JUnit)
	}
	return outputResults(formatter, runID, results)
}
