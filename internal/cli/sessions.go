package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/storeweave/internal/journal"
)

// SessionsResult lists the journaled sessions.
type SessionsResult struct {
	Sessions []journal.SessionInfo `json:"sessions"`
}

// NewSessionsCommand creates the sessions command.
func NewSessionsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List journaled sessions",
		Long: `List every session recorded in the journal, oldest first.

Examples:
  storeweave sessions --db ./storeweave.db
  storeweave sessions --db ./storeweave.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessions(rootOpts, cmd)
		},
	}
}

func runSessions(opts *RootOptions, cmd *cobra.Command) error {
	if err := requireJournal(opts); err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	j, err := journal.Open(opts.Journal, journal.WithLogger(slog.Default()))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer j.Close()

	sessions, err := j.ListSessions(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list sessions", err)
	}
	if sessions == nil {
		sessions = []journal.SessionInfo{}
	}

	if formatter.JSON() {
		return formatter.Success(SessionsResult{Sessions: sessions})
	}

	w := formatter.Writer
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No sessions recorded.")
		return nil
	}
	for _, s := range sessions {
		fmt.Fprintf(w, "%s  %-12s  %s  %d actions (last seq %d)\n", s.ID, s.Label, s.StartedAt, s.Actions, s.LastSeq)
	}
	return nil
}
