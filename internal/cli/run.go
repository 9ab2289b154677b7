package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/storeweave/internal/app"
	"github.com/roach88/storeweave/internal/demo"
	"github.com/roach88/storeweave/internal/ir"
	"github.com/roach88/storeweave/internal/journal"
	"github.com/roach88/storeweave/internal/metrics"
	"github.com/roach88/storeweave/internal/plugin"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Models      []string
	Manifests   string
	Dispatch    []string      // "type" or "type=<json payload>"
	Duration    time.Duration // 0 runs until interrupted
	MetricsAddr string
	Label       string
	Tick        time.Duration
}

// RunSummary is printed when the app stops.
type RunSummary struct {
	Session string           `json:"session,omitempty"`
	State   map[string]any   `json:"state"`
	Metrics []metrics.Sample `json:"metrics"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run [manifest-dir]",
		Short: "Run models in a live app",
		Long: `Register models on a live app, start it and dispatch actions.

Subscriptions and effects run until --duration elapses or the process is
interrupted. With --db every reduced action is journaled to SQLite for
later inspection (trace) and verification (replay). With --metrics-addr
Prometheus metrics are served on /metrics.

Examples:
  storeweave run --models counter --dispatch counter/increment --duration 1s
  storeweave run --models todos --dispatch 'todos/fetch={"count":3}' --db ./sw.db --duration 1s
  storeweave run ./manifests --metrics-addr :9090`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src := ModelSource{Demo: opts.Models}
			if len(args) == 1 {
				src.Manifests = args[0]
			}
			return runApp(opts, src, cmd)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Models, "models", nil, "demo models to register (default: all)")
	cmd.Flags().StringArrayVar(&opts.Dispatch, "dispatch", nil, `action to dispatch after start, "type" or "type=<json>" (repeatable)`)
	cmd.Flags().DurationVar(&opts.Duration, "duration", 0, "stop after this long (default: run until interrupted)")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().StringVar(&opts.Label, "label", "run", "journal session label")
	cmd.Flags().DurationVar(&opts.Tick, "tick", time.Second, "clock model tick interval")

	return cmd
}

func runApp(opts *RunOptions, src ModelSource, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	dispatches, err := parseDispatches(opts.Dispatch)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --dispatch", err)
	}

	models, err := loadModels(src, demo.Config{TickInterval: opts.Tick})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load models", err)
	}

	reg := prometheus.NewRegistry()
	collector, err := metrics.New(reg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to register metrics", err)
	}
	// Installing any OnError hook replaces the app's default error log.
	hooks := []plugin.Hooks{logErrors(slog.Default()), collector.Hooks()}

	summary := RunSummary{}
	if opts.Journal != "" {
		j, err := journal.Open(opts.Journal, journal.WithLogger(slog.Default()))
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		defer func() {
			if closeErr := j.Close(); closeErr != nil {
				slog.Error("error closing journal", "error", closeErr)
			}
		}()

		session, err := j.StartSession(ctx, opts.Label)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to start journal session", err)
		}
		summary.Session = session.ID
		hooks = append(hooks, session.Hooks(nil))
		slog.Info("journaling", "db", opts.Journal, "session_id", session.ID)
	}

	if opts.MetricsAddr != "" {
		srv := &http.Server{Addr: opts.MetricsAddr, Handler: metrics.Handler(reg)}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", "addr", opts.MetricsAddr, "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		slog.Info("serving metrics", "addr", opts.MetricsAddr)
	}

	a := app.New(app.WithLogger(slog.Default()), app.WithHooks(hooks...))
	for _, m := range models {
		if err := a.Model(m); err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to register model %q", m.Namespace), err)
		}
	}
	if err := a.Render(nil, nil); err != nil {
		return WrapExitError(ExitFailure, "failed to start app", err)
	}
	formatter.VerboseLog("App started with %d model(s)", len(models))

	for _, d := range dispatches {
		dispatchAction(a, d.Type, d.Payload)
	}

	waitForStop(ctx, opts.Duration)

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCancel()
	if err := a.Close(closeCtx); err != nil {
		slog.Warn("app did not stop cleanly", "error", err)
	}

	summary.State = journal.UserState(a.GetState())
	summary.Metrics, err = metrics.Snapshot(reg)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to gather metrics", err)
	}
	return outputRunSummary(formatter, summary)
}

// waitForStop blocks until ctx ends, the duration elapses or the process
// receives SIGINT/SIGTERM.
// logErrors returns an OnError hook that logs every funneled error.
func logErrors(logger *slog.Logger) plugin.Hooks {
	return plugin.Hooks{
		OnError: func(err error) {
			logger.Error("runtime error", "code", string(ir.CodeOf(err)), "error", err)
		},
	}
}

func waitForStop(ctx context.Context, d time.Duration) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var timeout <-chan time.Time
	if d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case sig := <-sigChan:
		slog.Info("received signal, shutting down", "signal", sig)
	case <-timeout:
	case <-ctx.Done():
	}
}

type dispatchSpec struct {
	Type    string
	Payload any
}

// parseDispatches parses "type" and "type=<json>" arguments.
func parseDispatches(args []string) ([]dispatchSpec, error) {
	out := make([]dispatchSpec, 0, len(args))
	for _, arg := range args {
		typ, raw, hasPayload := strings.Cut(arg, "=")
		if typ == "" {
			return nil, fmt.Errorf("%q: missing action type", arg)
		}
		spec := dispatchSpec{Type: typ}
		if hasPayload {
			if err := json.Unmarshal([]byte(raw), &spec.Payload); err != nil {
				return nil, fmt.Errorf("%q: payload is not JSON: %w", arg, err)
			}
		}
		out = append(out, spec)
	}
	return out, nil
}

// dispatchAction goes through the model's action creator when one exists so
// Handler Group callbacks are stamped; other types are dispatched as-is.
func dispatchAction(a *app.App, actionType string, payload any) ir.Action {
	ns, name, _ := ir.SplitType(actionType)
	if create, ok := a.Actions()[ns][name]; ok {
		return create(payload)
	}
	slog.Warn("dispatching action no model declares", "type", actionType)
	return a.Dispatch(ir.NewAction(actionType, payload))
}

func outputRunSummary(formatter *OutputFormatter, summary RunSummary) error {
	if formatter.JSON() {
		return formatter.Success(summary)
	}

	w := formatter.Writer
	if summary.Session != "" {
		fmt.Fprintf(w, "Session: %s\n", summary.Session)
	}
	state, err := json.MarshalIndent(summary.State, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "State:\n%s\n", state)

	fmt.Fprintln(w, "Metrics:")
	for _, s := range summary.Metrics {
		if s.Value == 0 {
			continue
		}
		fmt.Fprintf(w, "  %s%s %g\n", s.Name, formatLabels(s.Labels), s.Value)
	}
	return nil
}

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	parts := make([]string, 0, len(labels))
	for _, k := range slices.Sorted(maps.Keys(labels)) {
		parts = append(parts, fmt.Sprintf("%s=%q", k, labels[k]))
	}
	return "{" + strings.Join(parts, ",") + "}"
}
