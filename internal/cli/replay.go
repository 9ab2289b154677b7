package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/storeweave/internal/demo"
	"github.com/roach88/storeweave/internal/engine"
	"github.com/roach88/storeweave/internal/ir"
	"github.com/roach88/storeweave/internal/journal"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Models    []string
	Manifests string
}

// ReplaySessionResult holds the replay result for a single session.
type ReplaySessionResult struct {
	Session       string   `json:"session"`
	Label         string   `json:"label"`
	Models        []string `json:"models"`
	Replayed      int      `json:"replayed"`
	Skipped       int      `json:"skipped"`
	FinalHash     string   `json:"final_hash,omitempty"`
	State         ir.State `json:"state,omitempty"`
	Deterministic bool     `json:"deterministic"`
	Divergence    string   `json:"divergence,omitempty"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Sessions         []ReplaySessionResult `json:"sessions"`
	TotalSessions    int                   `json:"total_sessions"`
	AllDeterministic bool                  `json:"all_deterministic"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay [session-id]",
		Short: "Replay journaled sessions and verify their state hashes",
		Long: `Re-dispatch the journaled actions of a session into a fresh store and
check the state hash after every action against the recorded one.

Effects and subscriptions do not run during replay: the actions they put
were journaled too. Without --models or --manifests the models are the demo
models whose namespaces appear in the session. Without a session ID every
session is replayed.

Exit codes:
  0 - Every replayed session reproduced its recorded states
  1 - A session diverged
  2 - Command error (journal not found, etc.)

Examples:
  storeweave replay --db ./storeweave.db
  storeweave replay 01J9Z... --db ./storeweave.db
  storeweave replay --db ./storeweave.db --manifests ./models --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID := ""
			if len(args) == 1 {
				sessionID = args[0]
			}
			return runReplay(opts, sessionID, cmd)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Models, "models", nil, "demo models to replay into (default: inferred from the session)")
	cmd.Flags().StringVar(&opts.Manifests, "manifests", "", "directory of CUE manifests to replay into")

	return cmd
}

func runReplay(opts *ReplayOptions, sessionID string, cmd *cobra.Command) error {
	if err := requireJournal(opts.RootOptions); err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	j, err := journal.Open(opts.Journal, journal.WithLogger(slog.Default()))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer j.Close()

	var sessions []journal.SessionInfo
	if sessionID != "" {
		info, err := resolveSession(ctx, j, sessionID)
		if err != nil {
			return err
		}
		sessions = []journal.SessionInfo{info}
	} else {
		sessions, err = j.ListSessions(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list sessions", err)
		}
	}

	result := ReplayResult{
		Sessions:         make([]ReplaySessionResult, 0, len(sessions)),
		TotalSessions:    len(sessions),
		AllDeterministic: true,
	}

	for _, info := range sessions {
		sr, err := replaySession(ctx, j, info, opts)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to replay session %s", info.ID), err)
		}
		result.Sessions = append(result.Sessions, sr)
		if !sr.Deterministic {
			result.AllDeterministic = false
		}
	}

	if formatter.JSON() {
		if !result.AllDeterministic {
			if err := formatter.Failure("E_REPLAY_DIVERGED", "replay diverged from the recorded states", result); err != nil {
				return err
			}
			return NewExitError(ExitFailure, "replay diverged")
		}
		return formatter.Success(result)
	}
	return outputReplayText(formatter.Writer, result, opts.Verbose)
}

// replaySession replays one session into a fresh effect-free store. A
// divergence is reported in the result; only setup failures are errors.
func replaySession(ctx context.Context, j *journal.Journal, info journal.SessionInfo, opts *ReplayOptions) (ReplaySessionResult, error) {
	sr := ReplaySessionResult{Session: info.ID, Label: info.Label}

	entries, err := j.ReadSession(ctx, info.ID)
	if err != nil {
		return sr, err
	}

	src := ModelSource{Demo: opts.Models, Manifests: opts.Manifests}
	if src.empty() {
		src.Demo = sessionModels(entries)
		if len(src.Demo) == 0 {
			// Nothing but runtime actions; an empty store reproduces them.
			sr.Deterministic = true
			sr.Skipped = len(entries)
			sr.State = ir.State{}
			return sr, nil
		}
	}

	models, err := loadModels(src, demo.Config{})
	if err != nil {
		return sr, err
	}
	records, err := compileRecords(models)
	if err != nil {
		return sr, err
	}

	target := newReplayStore(records)
	for _, rec := range records {
		sr.Models = append(sr.Models, rec.Namespace)
	}

	replayed, err := journal.Replay(ctx, entries, target)
	sr.Replayed = replayed.Replayed
	sr.Skipped = replayed.Skipped

	var divergence *journal.DivergenceError
	switch {
	case errors.As(err, &divergence):
		sr.Divergence = divergence.Error()
		return sr, nil
	case err != nil:
		return sr, err
	}

	sr.Deterministic = true
	sr.FinalHash = replayed.FinalHash
	sr.State = replayed.State
	return sr, nil
}

// newReplayStore builds a bare store over the records' mutations. No
// effect runner or subscription is attached.
func newReplayStore(records []*ir.ModelRecord) *engine.Store {
	logger := slog.Default()
	onError := func(err error) {
		logger.Warn("replay handler failed", "error", err)
	}

	reducers := make(map[string]ir.ReducerFunc, len(records))
	for _, rec := range records {
		reducers[rec.Namespace] = engine.ModelReducer(rec, nil, onError)
	}
	return engine.New(nil,
		engine.ComposeReducer(reducers, nil, nil, nil, nil),
		engine.WithErrorHandler(onError),
		engine.WithStoreLogger(logger),
	)
}

// sessionModels returns the demo models whose namespaces were journaled.
func sessionModels(entries []journal.Entry) []string {
	known := demo.Names()
	var out []string
	for _, e := range entries {
		if strings.HasPrefix(e.Namespace, "@@") {
			continue
		}
		if slices.Contains(known, e.Namespace) && !slices.Contains(out, e.Namespace) {
			out = append(out, e.Namespace)
		}
	}
	slices.Sort(out)
	return out
}

// outputReplayText outputs the replay result in human-readable format.
func outputReplayText(w io.Writer, result ReplayResult, verbose bool) error {
	if result.TotalSessions == 0 {
		fmt.Fprintln(w, "No sessions recorded.")
		return nil
	}

	fmt.Fprintf(w, "Replay Summary: %d session(s)\n", result.TotalSessions)
	fmt.Fprintln(w)

	for _, s := range result.Sessions {
		status := "✓"
		if !s.Deterministic {
			status = "✗"
		}
		fmt.Fprintf(w, "%s Session: %s (%s)\n", status, s.Session, s.Label)
		fmt.Fprintf(w, "  Models: %s\n", strings.Join(s.Models, ", "))
		fmt.Fprintf(w, "  Replayed: %d, skipped: %d\n", s.Replayed, s.Skipped)
		if verbose && s.FinalHash != "" {
			fmt.Fprintf(w, "  State hash: %s\n", s.FinalHash)
		}
		if s.Divergence != "" {
			fmt.Fprintf(w, "  %s\n", s.Divergence)
		}
		fmt.Fprintln(w)
	}

	if result.AllDeterministic {
		fmt.Fprintln(w, "✓ All sessions reproduced")
		return nil
	}
	fmt.Fprintln(w, "✗ Replay diverged")
	return NewExitError(ExitFailure, "replay diverged")
}
