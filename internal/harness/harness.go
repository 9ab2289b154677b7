package harness

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/agnivade/levenshtein"

	"github.com/roach88/storeweave/internal/app"
	"github.com/roach88/storeweave/internal/compiler"
	"github.com/roach88/storeweave/internal/demo"
	"github.com/roach88/storeweave/internal/engine"
	"github.com/roach88/storeweave/internal/ir"
	"github.com/roach88/storeweave/internal/journal"
	"github.com/roach88/storeweave/internal/plugin"
	"github.com/roach88/storeweave/internal/testutil"
)

// Options configures a scenario run.
type Options struct {
	// Demo configures the demo model bindings.
	Demo demo.Config

	// Hooks are installed on the app in addition to the harness's own
	// tracing hooks (e.g. a journal session or metrics).
	Hooks []plugin.Hooks

	// Logger receives the app's logs. Default: discard.
	Logger *slog.Logger
}

// Option configures Options.
type Option func(*Options)

// WithDemoConfig sets the demo model configuration.
func WithDemoConfig(cfg demo.Config) Option {
	return func(o *Options) {
		o.Demo = cfg
	}
}

// WithHooks adds plugin hooks to the app under test.
func WithHooks(hooks ...plugin.Hooks) Option {
	return func(o *Options) {
		o.Hooks = append(o.Hooks, hooks...)
	}
}

// WithLogger sets the app logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// Harness drives one scenario run.
//
// Thread-safety: trace and error recording happen on dispatching and
// effect goroutines; every field below mu is guarded by it.
type Harness struct {
	scenario *Scenario
	opts     Options
	app      *app.App

	mu      sync.Mutex
	trace   []TraceEvent
	codes   []string
	changed chan struct{} // signalled after every trace append
}

// Run executes a scenario and returns the result.
//
// Execution flow:
//  1. Compile the selected demo models and manifests
//  2. Register them on a fresh app and Render it
//  3. Execute the steps
//  4. Close the app, capture trace, state and errors
//  5. Evaluate assertions
//
// An error is returned only when the scenario cannot be set up; step and
// assertion failures are reported in the Result.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	o := Options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	h := &Harness{
		scenario: scenario,
		opts:     o,
		changed:  make(chan struct{}, 1),
	}

	models, err := h.models()
	if err != nil {
		return nil, err
	}

	appOpts := []app.Option{
		app.WithValidation(scenario.Validating()),
		app.WithIDGenerator(testutil.NewSequenceGenerator("task")),
		app.WithLogger(o.Logger),
		app.WithHooks(h.hooks()),
		app.WithHooks(o.Hooks...),
	}
	if scenario.InitialState != nil {
		appOpts = append(appOpts, app.WithInitialState(ir.State(scenario.InitialState)))
	}
	h.app = app.New(appOpts...)

	for _, m := range models {
		if err := h.app.Model(m); err != nil {
			return nil, fmt.Errorf("register model %q: %w", m.Namespace, err)
		}
	}
	if err := h.app.Render(nil, nil); err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}

	result := NewResult()
	h.executeSteps(result)

	ctx, cancel := context.WithTimeout(context.Background(), scenario.WaitTimeout())
	defer cancel()
	if err := h.app.Close(ctx); err != nil {
		result.AddError(fmt.Sprintf("close: %v", err))
	}

	h.mu.Lock()
	result.Trace = append(result.Trace, h.trace...)
	// Effects dispatch from their own goroutines, so a nested dispatch can
	// be recorded before the dispatch that triggered it returns.
	slices.SortFunc(result.Trace, func(a, b TraceEvent) int { return cmp.Compare(a.Seq, b.Seq) })
	result.ErrorCodes = append(result.ErrorCodes, h.codes...)
	h.mu.Unlock()
	result.State = journal.UserState(h.app.GetState())

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// models compiles the scenario's demo models and manifest files.
func (h *Harness) models() ([]ir.Model, error) {
	var out []ir.Model
	if len(h.scenario.Models) > 0 {
		models, err := demo.Select(h.opts.Demo, h.scenario.Models...)
		if err != nil {
			return nil, err
		}
		out = append(out, models...)
	}

	bindings := demo.Bindings(h.opts.Demo)
	for _, path := range h.scenario.Manifests {
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read manifest: %w", err)
		}
		models, errs := compiler.CompileSource(path, src, bindings, compiler.LoadModeFailFast)
		if len(errs) > 0 {
			return nil, errs[0]
		}
		out = append(out, models...)
	}
	return out, nil
}

// hooks records the trace and the funneled error codes.
func (h *Harness) hooks() plugin.Hooks {
	return plugin.Hooks{
		OnError: func(err error) {
			h.mu.Lock()
			h.codes = append(h.codes, string(ir.CodeOf(err)))
			h.mu.Unlock()
		},
		OnAction: []engine.Middleware{h.traceMiddleware},
	}
}

func (h *Harness) traceMiddleware(engine.API) func(engine.DispatchFunc) engine.DispatchFunc {
	return func(next engine.DispatchFunc) engine.DispatchFunc {
		return func(action ir.Action) ir.Action {
			reduced := next(action)
			if !traced(reduced) {
				return reduced
			}
			h.mu.Lock()
			h.trace = append(h.trace, TraceEvent{Type: reduced.Type, Payload: reduced.Payload, Seq: reduced.Seq()})
			h.mu.Unlock()
			select {
			case h.changed <- struct{}{}:
			default:
			}
			return reduced
		}
	}
}

// traced reports whether a reduced action belongs in the trace: rejected
// actions, runtime actions and effect cancellations are left out.
func traced(action ir.Action) bool {
	if action.Seq() == 0 || strings.HasPrefix(action.Type, ir.InternalNamespace+ir.Separator) {
		return false
	}
	_, cancel := ir.IsCancel(action.Type)
	return !cancel
}

// executeSteps runs every step. A failing wait_for stops the run, since
// later steps usually depend on what it waited for.
func (h *Harness) executeSteps(result *Result) {
	for i, step := range h.scenario.Steps {
		var err error
		switch step.Kind() {
		case "dispatch":
			h.dispatch(step, result)
		case "wait_for":
			err = h.waitFor(step.WaitFor, max(step.Count, 1), h.scenario.WaitTimeout())
			if err != nil {
				result.AddError(fmt.Sprintf("steps[%d]: %v", i, err))
				return
			}
		case "model":
			var models []ir.Model
			models, err = demo.Select(h.opts.Demo, step.Model)
			if err == nil {
				err = h.app.Model(models[0])
			}
		case "eject":
			err = h.app.Eject(step.Eject)
		}
		if err != nil {
			result.AddError(fmt.Sprintf("steps[%d] %s: %v", i, step.Kind(), err))
		}
	}
}

// dispatch goes through the model's action creator when one exists, so
// Handler Group callbacks are stamped. Unknown types are still dispatched
// and produce a warning with the closest known type.
func (h *Harness) dispatch(step Step, result *Result) {
	ns, name, _ := ir.SplitType(step.Dispatch)
	if create, ok := h.app.Actions()[ns][name]; ok {
		create(step.Payload)
		return
	}

	msg := fmt.Sprintf("action %q is not declared by any model", step.Dispatch)
	if suggestion := suggest(step.Dispatch, h.knownTypes()); suggestion != "" {
		msg += fmt.Sprintf(" (did you mean %q?)", suggestion)
	}
	result.AddWarning(msg)
	h.app.Dispatch(ir.NewAction(step.Dispatch, step.Payload))
}

func (h *Harness) knownTypes() []string {
	var out []string
	for _, ns := range h.app.Models() {
		out = append(out, h.app.ActionTypes(ns)...)
	}
	slices.Sort(out)
	return out
}

// waitFor blocks until the trace holds count actions of actionType.
func (h *Harness) waitFor(actionType string, count int, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		h.mu.Lock()
		got := countType(h.trace, actionType)
		h.mu.Unlock()
		if got >= count {
			return nil
		}

		select {
		case <-h.changed:
		case <-deadline.C:
			return fmt.Errorf("timed out after %s waiting for %d x %s (saw %d)", timeout, count, actionType, got)
		}
	}
}

// suggest returns the known type closest to actionType, or "" when nothing
// is close enough to be a plausible typo.
func suggest(actionType string, known []string) string {
	best, bestDist := "", -1
	for _, k := range known {
		d := levenshtein.ComputeDistance(actionType, k)
		if bestDist < 0 || d < bestDist {
			best, bestDist = k, d
		}
	}
	if bestDist < 0 || bestDist > max(2, len(actionType)/3) {
		return ""
	}
	return best
}
