package app

import (
	"log/slog"

	"github.com/roach88/storeweave/internal/compiler"
	"github.com/roach88/storeweave/internal/engine"
	"github.com/roach88/storeweave/internal/ir"
	"github.com/roach88/storeweave/internal/plugin"
	"github.com/roach88/storeweave/internal/saga"
)

// Extensions replace parts of store composition.
type Extensions struct {
	// CreateReducer replaces the default handler-table reducer of every
	// model that does not bring its own.
	CreateReducer ir.ReducerCreator

	// CombineReducers replaces engine.CombineReducers.
	CombineReducers engine.Combiner
}

// Option configures an App.
type Option func(*App)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(a *App) {
		a.logger = logger
	}
}

// WithValidation turns construction-time invariant checks on or off.
// Default: on, unless built with the "production" tag.
//
// With validation on, ambiguous Handler Groups, invalid handler entries,
// records failing compiler.Validate and duplicate namespaces are rejected.
// With it off, the last effect of a group wins, invalid entries are
// skipped and a duplicate namespace shadows the earlier model.
func WithValidation(enabled bool) Option {
	return func(a *App) {
		a.validate = enabled
	}
}

// WithHooks installs plugin hooks before start. Equivalent to Use.
func WithHooks(hooks ...plugin.Hooks) Option {
	return func(a *App) {
		for _, h := range hooks {
			a.plugin.Use(h)
		}
	}
}

// WithInitialState seeds the store's state.
func WithInitialState(state ir.State) Option {
	return func(a *App) {
		a.initialState = state.Clone()
	}
}

// WithInitialReducers pre-registers slice reducers keyed by namespace.
func WithInitialReducers(reducers map[string]ir.ReducerFunc) Option {
	return func(a *App) {
		for ns, r := range reducers {
			a.reducers[ns] = r
		}
	}
}

// WithExtensions sets the composition extensions.
func WithExtensions(ext Extensions) Option {
	return func(a *App) {
		a.ext = ext
	}
}

// WithIDGenerator sets the task ID generator. Default: saga.UUIDv7Generator.
func WithIDGenerator(gen saga.IDGenerator) Option {
	return func(a *App) {
		a.ids = gen
	}
}

func (a *App) compileOptions() compiler.Options {
	return compiler.Options{Validate: a.validate}
}
