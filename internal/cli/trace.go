package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/storeweave/internal/journal"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Namespace string // optional - filter to one namespace
	Type      string // optional - filter to one action type
}

// TraceEvent is one journaled action in the timeline.
type TraceEvent struct {
	Seq       int64           `json:"seq"`
	Type      string          `json:"type"`
	Namespace string          `json:"namespace"`
	ActionID  string          `json:"action_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	StateHash string          `json:"state_hash"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Session  journal.SessionInfo `json:"session"`
	Timeline []TraceEvent        `json:"timeline"`
	Stats    TraceStats          `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	TotalEvents int            `json:"total_events"`
	Runtime     int            `json:"runtime"`
	Namespaces  map[string]int `json:"namespaces"`
	FinalHash   string         `json:"final_hash,omitempty"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace [session-id]",
		Short: "Show the journaled actions of a session",
		Long: `Show the actions a session reduced, in seq order.

Without a session ID the most recently started session is shown. Runtime
actions (init, reducer replacement, registry updates) are listed but not
counted per namespace.

Examples:
  storeweave trace --db ./storeweave.db
  storeweave trace 01J9Z... --db ./storeweave.db --namespace counter
  storeweave trace --db ./storeweave.db --type todos/fetchSucceed --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID := ""
			if len(args) == 1 {
				sessionID = args[0]
			}
			return runTrace(opts, sessionID, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Namespace, "namespace", "", "filter to one namespace")
	cmd.Flags().StringVar(&opts.Type, "type", "", "filter to one action type")

	return cmd
}

func runTrace(opts *TraceOptions, sessionID string, cmd *cobra.Command) error {
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

	info, err := resolveSession(ctx, j, sessionID)
	if err != nil {
		return err
	}

	var entries []journal.Entry
	if opts.Namespace != "" {
		entries, err = j.ReadNamespace(ctx, info.ID, opts.Namespace)
	} else {
		entries, err = j.ReadSession(ctx, info.ID)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read session", err)
	}

	result := buildTrace(info, entries, opts.Type)

	if formatter.JSON() {
		return formatter.Success(result)
	}
	return outputTraceText(formatter.Writer, result, opts.Verbose)
}

// resolveSession looks up sessionID, or the latest session when it is empty.
func resolveSession(ctx context.Context, j *journal.Journal, sessionID string) (journal.SessionInfo, error) {
	var info journal.SessionInfo
	var err error
	if sessionID == "" {
		info, err = j.LatestSession(ctx)
	} else {
		info, err = j.ReadSessionInfo(ctx, sessionID)
	}
	if errors.Is(err, journal.ErrSessionNotFound) {
		return info, WrapExitError(ExitFailure, "session not found", err)
	}
	if err != nil {
		return info, WrapExitError(ExitCommandError, "failed to read session", err)
	}
	return info, nil
}

// buildTrace converts journal entries to timeline events. When typeFilter
// is set only entries of that action type are kept.
func buildTrace(info journal.SessionInfo, entries []journal.Entry, typeFilter string) TraceResult {
	result := TraceResult{
		Session:  info,
		Timeline: make([]TraceEvent, 0, len(entries)),
		Stats:    TraceStats{Namespaces: make(map[string]int)},
	}

	for _, e := range entries {
		if typeFilter != "" && e.Type != typeFilter {
			continue
		}
		result.Timeline = append(result.Timeline, TraceEvent{
			Seq:       e.Seq,
			Type:      e.Type,
			Namespace: e.Namespace,
			ActionID:  e.ActionID,
			Payload:   json.RawMessage(e.Payload),
			StateHash: e.StateHash,
		})
		if strings.HasPrefix(e.Namespace, "@@") {
			result.Stats.Runtime++
		} else {
			result.Stats.Namespaces[e.Namespace]++
		}
	}

	result.Stats.TotalEvents = len(result.Timeline)
	if n := len(result.Timeline); n > 0 {
		result.Stats.FinalHash = result.Timeline[n-1].StateHash
	}
	return result
}

// outputTraceText outputs the trace in human-readable text format.
func outputTraceText(w io.Writer, result TraceResult, verbose bool) error {
	fmt.Fprintf(w, "Session: %s (%s)\n", result.Session.ID, result.Session.Label)
	fmt.Fprintf(w, "Started: %s\n", result.Session.StartedAt)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Timeline ===")
	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "  (no actions)")
	}
	for _, event := range result.Timeline {
		fmt.Fprintf(w, "  [%d] %s %s\n", event.Seq, event.Type, string(event.Payload))
		if verbose {
			fmt.Fprintf(w, "       ID: %s\n", truncateID(event.ActionID))
			fmt.Fprintf(w, "       State: %s\n", truncateID(event.StateHash))
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Total Events: %d\n", result.Stats.TotalEvents)
	fmt.Fprintf(w, "  Runtime:      %d\n", result.Stats.Runtime)
	for _, ns := range slices.Sorted(maps.Keys(result.Stats.Namespaces)) {
		fmt.Fprintf(w, "  %s: %d\n", ns, result.Stats.Namespaces[ns])
	}
	return nil
}

// truncateID truncates a long ID for display.
func truncateID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:8] + "..." + id[len(id)-8:]
}
