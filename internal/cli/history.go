package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/revsync/internal/revid"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Since string
}

// HistoryEntry is one line of history output.
type HistoryEntry struct {
	ID        string    `json:"id"`
	Revision  int64     `json:"revision"`
	Author    string    `json:"author"`
	WrittenAt time.Time `json:"written_at"`
}

// HistoryResult is the JSON payload of the history command.
type HistoryResult struct {
	Document string         `json:"document"`
	Entries  []HistoryEntry `json:"entries"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List revisions of a document",
		Long: `List the revisions of a document in order with their author and the time
the store accepted them.

Example:
  revsync history --db ./revsync.db --doc notes
  revsync history --db ./revsync.db --doc notes --since A9 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Since, "since", "", "only list revisions after this revision id")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	since := revid.None
	if opts.Since != "" {
		rev, err := revid.DecodeRevision(opts.Since)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --since", err)
		}
		since = rev
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

	infos, err := e.session.History(ctx, since)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read history", err)
	}

	result := HistoryResult{Document: cfg.Document, Entries: make([]HistoryEntry, len(infos))}
	for i, info := range infos {
		result.Entries[i] = HistoryEntry{
			ID:        info.Key,
			Revision:  int64(info.Revision),
			Author:    info.Author,
			WrittenAt: info.WrittenAt,
		}
	}

	return opts.formatter(cmd).Result(result, formatHistory(result))
}

func formatHistory(r HistoryResult) string {
	if len(r.Entries) == 0 {
		return fmt.Sprintf("%s: no revisions", r.Document)
	}
	var b strings.Builder
	for i, e := range r.Entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%-6s %6d  %-24s %s", e.ID, e.Revision, e.Author, e.WrittenAt.Format(time.RFC3339Nano))
	}
	return b.String()
}
