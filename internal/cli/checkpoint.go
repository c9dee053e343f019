package cli

import (
	"fmt"

	"github.com/sanity-io/litter"
	"github.com/spf13/cobra"

	"github.com/roach88/revsync/internal/revid"
	"github.com/roach88/revsync/internal/textop"
)

// CheckpointView is the decoded checkpoint slot.
type CheckpointView struct {
	Document string `json:"document"`
	Found    bool   `json:"found"`
	ID       string `json:"id,omitempty"`
	Revision int64  `json:"revision"`
	Author   string `json:"author,omitempty"`
	Length   int    `json:"length"`
	Text     string `json:"text,omitempty"`
}

// NewCheckpointCommand creates the checkpoint command.
func NewCheckpointCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Print the checkpoint of a document",
		Long: `Print the checkpoint slot of a document: the revision it was taken at,
the client that wrote it and the document text it holds. With --verbose the
decoded record is dumped in full.

Example:
  revsync checkpoint --db ./revsync.db --doc notes -v`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckpoint(rootOpts, cmd)
		},
	}
	return cmd
}

func runCheckpoint(opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)

	driver, closeDriver, err := openDriver(ctx, cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer func() { _ = closeDriver() }()

	rec, found, err := driver.ReadCheckpoint(ctx, cfg.Document)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read checkpoint", err)
	}

	view := CheckpointView{Document: cfg.Document, Found: found, Revision: int64(revid.None)}
	if found {
		rev, err := revid.DecodeRevision(rec.RevisionKey)
		if err != nil {
			return WrapExitError(ExitFailure, "checkpoint has a malformed revision id", err)
		}
		op, err := textop.Codec{}.Decode(rec.Operation)
		if err != nil {
			return WrapExitError(ExitFailure, "checkpoint operation does not decode", err)
		}
		text, err := textop.DocumentText(op)
		if err != nil {
			return WrapExitError(ExitFailure, "checkpoint is not a document", err)
		}
		view.ID = rec.RevisionKey
		view.Revision = int64(rev)
		view.Author = rec.Author
		view.Length = op.TargetLength()
		view.Text = text
	}

	f := opts.formatter(cmd)
	if !found {
		return f.Result(view, fmt.Sprintf("%s: no checkpoint", cfg.Document))
	}
	if opts.Verbose && opts.Format != "json" {
		dump := litter.Options{HidePrivateFields: true, StripPackageNames: true}
		fmt.Fprintln(cmd.OutOrStdout(), dump.Sdump(view))
		return nil
	}
	return f.Result(view, fmt.Sprintf("%s: checkpoint %s (revision %d) by %s, %d characters",
		view.Document, view.ID, view.Revision, view.Author, view.Length))
}
