package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/arroschaves/brandaocontador-e2e/internal/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// Logger builds the command logger. Verbose forces debug; otherwise level
// applies. JSON output keeps logs machine-readable on w.
func (o *RootOptions) Logger(w io.Writer, level string) *slog.Logger {
	opts := logging.DefaultOptions()
	opts.Output = w
	opts.Level = level
	if o.Verbose {
		opts.Level = "debug"
	}
	opts.JSON = o.Format == "json"
	return logging.New(opts)
}

// NewRootCommand creates the root command for the e2e CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "e2e",
		Short: "End-to-end test harness for the Brandão Contador platform",
		Long: `Runs declarative YAML scenarios against the Brandão Contador web
application and API: HTTP scenarios through a plain client, UI scenarios
through a headless Chrome. Results are reported as text, JSON or JUnit XML
and can be stored in SQLite for later inspection.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Validate format flag
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	// Add subcommands
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
