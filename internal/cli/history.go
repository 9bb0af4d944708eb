package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/arroschaves/brandaocontador-e2e/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Database string
	Limit    int
}

// RunEntry is one row of the history output.
type RunEntry struct {
	ID         string `json:"id"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at,omitempty"`
	APIURL     string `json:"api_url"`
	Total      int    `json:"total"`
	Passed     int    `json:"passed"`
	Failed     int    `json:"failed"`
	Errored    int    `json:"errored"`
	DurationMS int64  `json:"duration_ms"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List stored runs",
		Long: `List the runs stored in a results database, newest first, with their
pass/fail/error counts.

Examples:
  e2e history --db ./e2e.db
  e2e history --db ./e2e.db --limit 5 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum number of runs (0 for all)")

	return cmd
}

// openExisting opens a results database that must already exist; Open would
// otherwise create an empty one.
func openExisting(path string) (*store.Store, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("database not found: %s", path)
	}
	return store.Open(path)
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	st, err := openExisting(opts.Database)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "cannot open results database", err)
	}
	defer st.Close()

	runs, err := st.ListRuns(cmd.Context(), opts.Limit)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to list runs", err)
	}

	entries := make([]RunEntry, len(runs))
	for i, r := range runs {
		entries[i] = RunEntry{
			ID:         r.ID,
			StartedAt:  r.StartedAt.UTC().Format(time.RFC3339),
			APIURL:     r.APIURL,
			Total:      r.Summary.Total,
			Passed:     r.Summary.Passed,
			Failed:     r.Summary.Failed,
			Errored:    r.Summary.Errored,
			DurationMS: r.Summary.Duration.Milliseconds(),
		}
		if !r.FinishedAt.IsZero() {
			entries[i].FinishedAt = r.FinishedAt.UTC().Format(time.RFC3339)
		}
	}

	if opts.Format == "json" {
		return formatter.Success(entries)
	}

	if len(entries) == 0 {
		fmt.Fprintln(formatter.Writer, "No runs stored")
		return nil
	}
	tw := tabwriter.NewWriter(formatter.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tPASSED\tFAILED\tERRORED\tDURATION")
	for _, e := range entries {
		duration := "running"
		if e.FinishedAt != "" {
			duration = (time.Duration(e.DurationMS) * time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n", e.ID, e.StartedAt, e.Passed, e.Failed, e.Errored, duration)
	}
	return tw.Flush()
}
