package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	Database   string
	Document   string
	Author     string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the revsync CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "revsync",
		Short: "revsync - replicated revision-log documents",
		Long: `revsync keeps a shared text document as an append-only log of revisions
in SQLite or Redis. Every client replays the log in revision order, submits
its own edits with first-writer-wins conditional writes, and checkpoints the
document periodically.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to YAML config file")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config store)")
	cmd.PersistentFlags().StringVar(&opts.Document, "doc", "", "document id (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.Author, "author", "", "author id (overrides config)")

	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewEditCommand(opts))
	cmd.AddCommand(NewCheckpointCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))

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

// Execute runs the CLI with args and returns the process exit code. Errors
// are reported on stderr, or on stdout as a JSON response with --format json.
func Execute(args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.Execute()
	if err == nil {
		return ExitSuccess
	}

	format, _ := cmd.PersistentFlags().GetString("format")
	verbose, _ := cmd.PersistentFlags().GetBool("verbose")
	f := &OutputFormatter{Format: format, Writer: stderr, Verbose: true}
	if format == "json" {
		f.Writer = stdout
	} else {
		f.Format = "text"
		f.Verbose = verbose || GetExitCode(err) == ExitCommandError
	}
	return ReportError(f, err)
}
