package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/revsync/internal/revid"
)

// ShowOptions holds flags for the show command.
type ShowOptions struct {
	*RootOptions
	At string
}

// ShowResult is the JSON payload of the show command.
type ShowResult struct {
	Document string `json:"document"`
	Revision int64  `json:"revision"`
	Text     string `json:"text"`
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ShowOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print a document",
		Long: `Print the current text of a document, or its text as of an earlier
revision with --at. Reconstruction starts from the newest checkpoint taken
before that revision.

Example:
  revsync show --db ./revsync.db --doc notes
  revsync show --db ./revsync.db --doc notes --at B1c`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.At, "at", "", "revision id to reconstruct")

	return cmd
}

func runShow(opts *ShowOptions, cmd *cobra.Command) error {
	at := revid.None
	if opts.At != "" {
		rev, err := revid.DecodeRevision(opts.At)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --at", err)
		}
		at = rev
	}

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	logger := opts.newLogger(cfg, cmd.ErrOrStderr())
	ctx := commandContext(cmd)

	e, err := opts.openEnv(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer e.Close()

	result := ShowResult{Document: cfg.Document}
	if at == revid.None {
		result.Revision = int64(e.session.Revision())
		result.Text, err = e.session.Text()
	} else {
		result.Revision = int64(at)
		result.Text, err = e.session.DocumentAt(ctx, at)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "failed to build document", err)
	}

	f := opts.formatter(cmd)
	f.Logf("%s at revision %d", result.Document, result.Revision)
	return f.Result(result, result.Text)
}
