package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/revsync/internal/engine"
	"github.com/roach88/revsync/internal/session"
)

// EditOptions holds flags for the edit command.
type EditOptions struct {
	*RootOptions
	Insert   string
	Delete   int
	Pos      int
	Attempts int
}

// EditResult is the JSON payload of the edit command.
type EditResult struct {
	Document string `json:"document"`
	Result   string `json:"result"`
	ID       string `json:"id"`
	Revision int64  `json:"revision"`
	Attempts int    `json:"attempts"`
	Text     string `json:"text"`
}

// NewEditCommand creates the edit command.
func NewEditCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EditOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "edit",
		Short: "Submit an edit to a document",
		Long: `Delete --delete characters at --pos and insert --insert there, as one
revision. When another writer takes the revision first, the edit is rebuilt
against the new document and submitted again, up to --attempts times.

Example:
  revsync edit --db ./revsync.db --doc notes --insert "hello" --pos 0
  revsync edit --db ./revsync.db --doc notes --delete 5 --pos 0`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEdit(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Insert, "insert", "", "text to insert")
	cmd.Flags().IntVar(&opts.Delete, "delete", 0, "number of characters to delete")
	cmd.Flags().IntVar(&opts.Pos, "pos", 0, "position of the edit in characters")
	cmd.Flags().IntVar(&opts.Attempts, "attempts", session.DefaultEditAttempts, "maximum submissions before giving up")

	return cmd
}

func runEdit(opts *EditOptions, cmd *cobra.Command) error {
	if opts.Insert == "" && opts.Delete == 0 {
		return NewExitError(ExitCommandError, "nothing to edit: pass --insert or --delete")
	}
	if opts.Delete < 0 || opts.Pos < 0 || opts.Attempts < 1 {
		return NewExitError(ExitCommandError, "--delete and --pos must be non-negative and --attempts positive")
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

	res, err := e.session.Edit(ctx, opts.Pos, opts.Insert, opts.Delete, opts.Attempts)
	if err != nil {
		return WrapExitError(ExitFailure, "edit failed", err)
	}
	switch res.Outcome {
	case engine.OutcomeRetry:
		return NewExitError(ExitFailure, fmt.Sprintf("edit lost its revision %d times, giving up", res.Attempts))
	case engine.OutcomeFatal:
		return WrapExitError(ExitFailure, "edit rejected by store", res.Err)
	}

	text, err := e.session.Text()
	if err != nil {
		return WrapExitError(ExitFailure, "failed to render document", err)
	}
	result := EditResult{
		Document: cfg.Document,
		Result:   res.Outcome.String(),
		ID:       res.Revision.Key(),
		Revision: int64(res.Revision),
		Attempts: res.Attempts,
		Text:     text,
	}

	f := opts.formatter(cmd)
	f.Logf("document now: %q", text)
	return f.Result(result, fmt.Sprintf("ack %s (revision %d, %d attempt(s))", result.ID, result.Revision, result.Attempts))
}
