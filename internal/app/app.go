// Package app is the application object: the model registry, its
// Configuring -> Running lifecycle, and live composition of models added or
// ejected while the store runs.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/roach88/storeweave/internal/compiler"
	"github.com/roach88/storeweave/internal/engine"
	"github.com/roach88/storeweave/internal/ir"
	"github.com/roach88/storeweave/internal/plugin"
	"github.com/roach88/storeweave/internal/saga"
	"github.com/roach88/storeweave/internal/subscription"
	"github.com/roach88/storeweave/internal/view"
)

// App is the application object.
//
// Thread-safety model:
//   - Model(), Eject(), Render(), Close(): serialized; each completes its
//     rebuild (tables merged, reducer swapped) before returning
//   - Has(), Actions(), Models(), Dispatch(), GetState(): safe from any
//     goroutine, including store listeners and effects
//   - Listeners and hooks must not call Model/Eject/Render/Close
//     synchronously
type App struct {
	lifecycle sync.Mutex // serializes Model, Eject, Render, Close

	mu       sync.RWMutex // guards the fields below
	models   []*ir.ModelRecord
	actions  map[string]map[string]ir.ActionCreator
	running  bool
	closed   bool
	store    *engine.Store
	runner   *saga.Runner
	mounted  view.Mounter
	reducers map[string]ir.ReducerFunc // static: initial reducers + models present at start
	async    map[string]ir.ReducerFunc // models added after start

	// plugin contributions captured by start; later Use calls do not
	// change composition
	extra    map[string]ir.ReducerFunc
	enhancer engine.Enhancer

	handles *subscription.Handles
	errbuf  *engine.ErrorBuffer
	onError ir.ErrorFunc

	validate     bool
	initialState ir.State
	ext          Extensions
	plugin       *plugin.Plugin
	ids          saga.IDGenerator
	logger       *slog.Logger
}

// New creates an app in the Configuring state. The internal model is
// always registered.
func New(opts ...Option) *App {
	a := &App{
		actions:  make(map[string]map[string]ir.ActionCreator),
		reducers: make(map[string]ir.ReducerFunc),
		async:    make(map[string]ir.ReducerFunc),
		handles:  subscription.NewHandles(),
		errbuf:   engine.NewErrorBuffer(),
		validate: compiler.DefaultOptions().Validate,
		plugin:   plugin.New(),
		ids:      saga.UUIDv7Generator{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.onError = newErrorFunnel(a.plugin, a.logger)

	rec, err := compiler.CompileModel(internalModel(), compiler.Options{})
	if err != nil {
		panic(fmt.Sprintf("app: internal model: %v", err))
	}
	a.register(rec)
	return a
}

// Has reports whether a model with the canonical form of namespace is
// registered.
func (a *App) Has(namespace string) bool {
	ns, err := ir.Canonicalize(namespace)
	if err != nil {
		return false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.indexOf(ns) >= 0
}

// Models returns the registered namespaces in registration order, the
// internal model first.
func (a *App) Models() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, len(a.models))
	for i, rec := range a.models {
		out[i] = rec.Namespace
	}
	return out
}

// Record returns the compiled record of namespace.
func (a *App) Record(namespace string) (*ir.ModelRecord, bool) {
	ns, err := ir.Canonicalize(namespace)
	if err != nil {
		return nil, false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if i := a.indexOf(ns); i >= 0 {
		return a.models[i], true
	}
	return nil, false
}

// Model compiles and registers a model.
//
// Construction-time failures (*ir.InvalidNamespaceError,
// *ir.AmbiguousEffectError, *compiler.InvalidHandlerError,
// *InvalidModelError, *ir.DuplicateNamespaceError) are returned and leave
// the registry unchanged. Once the app is running the model's reducer is
// installed before its effects start, so an effect's first look at the
// store already sees the model's initial state.
func (a *App) Model(m ir.Model) error {
	rec, err := compiler.CompileModel(m, a.compileOptions())
	if err != nil {
		return err
	}
	if a.validate {
		if errs := compiler.Validate(rec); len(errs) > 0 {
			return &InvalidModelError{Namespace: rec.Namespace, Errors: errs}
		}
	}

	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	a.mu.RLock()
	exists := a.indexOf(rec.Namespace) >= 0
	running, closed := a.running, a.closed
	a.mu.RUnlock()

	if closed {
		return ErrClosed
	}
	if exists {
		if a.validate || rec.Namespace == ir.InternalNamespace {
			return &ir.DuplicateNamespaceError{Namespace: rec.Namespace}
		}
		a.logger.Warn("namespace shadowed by a later model", "namespace", rec.Namespace)
		if running {
			a.stopLive(rec.Namespace)
		}
	}

	a.register(rec)
	a.logger.Debug("model registered",
		"namespace", rec.Namespace,
		"mutations", len(rec.Mutations),
		"effects", len(rec.Effects),
		"running", running)

	if running {
		return a.startLive(rec)
	}
	return nil
}

// Eject removes a model. Ejecting an unknown namespace is a no-op.
//
// Once running, the model's reducer is removed and hot-swapped out (its
// state key stays in the snapshot), @@storeweave/UPDATE and
// <ns>/@@CANCEL_EFFECTS are dispatched, and its subscriptions are torn
// down, before the record and its action creators are dropped.
func (a *App) Eject(namespace string) error {
	ns, err := ir.Canonicalize(namespace)
	if err != nil {
		return err
	}
	if ns == ir.InternalNamespace {
		return ErrReservedNamespace
	}

	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	a.mu.RLock()
	exists := a.indexOf(ns) >= 0
	running := a.running && !a.closed
	a.mu.RUnlock()

	if !exists {
		return nil
	}

	if running {
		a.mu.Lock()
		delete(a.async, ns)
		delete(a.reducers, ns)
		a.mu.Unlock()

		a.store.ReplaceReducer(a.composeReducer())
		a.store.Dispatch(ir.NewAction(ir.ActionRegistryChanged, nil))
		a.store.Dispatch(ir.NewAction(ir.CancelType(ns), nil))
		subscription.Unlisten(a.handles, ns, a.onError)
	}

	a.mu.Lock()
	a.models = slices.DeleteFunc(a.models, func(rec *ir.ModelRecord) bool { return rec.Namespace == ns })
	delete(a.actions, ns)
	a.mu.Unlock()

	a.logger.Debug("model ejected", "namespace", ns, "running", running)
	return nil
}

// Render starts the app on its first call: it creates the store with every
// registered model, starts their effects, mounts the view and runs their
// subscriptions, then calls callback. Later calls only re-mount.
// mount and callback may be nil.
func (a *App) Render(mount view.Mounter, callback func()) error {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	a.mu.RLock()
	running, closed := a.running, a.closed
	a.mu.RUnlock()

	if closed {
		return ErrClosed
	}
	if !running {
		if err := a.start(); err != nil {
			return err
		}
	}

	if mount != nil {
		if err := mount.Mount(a); err != nil {
			return fmt.Errorf("mount: %w", err)
		}
		a.mu.Lock()
		a.mounted = mount
		a.mu.Unlock()
	}

	if !running {
		a.mu.RLock()
		models := slices.Clone(a.models)
		a.mu.RUnlock()
		for _, rec := range models {
			a.runSubscriptions(rec)
		}
	}

	if callback != nil {
		callback()
	}
	return nil
}

// start creates the store and starts every registered model's effects.
// The app is marked running only once every model's effects have started;
// on failure the runner and store are discarded so a later Render retries.
// CRITICAL: Called with a.lifecycle held.
func (a *App) start() error {
	runner := saga.New(
		saga.WithErrorHandler(a.onError),
		saga.WithEffectHooks(a.plugin.EffectHooks()...),
		saga.WithIDGenerator(a.ids),
		saga.WithLogger(a.logger),
	)

	a.mu.Lock()
	models := slices.Clone(a.models)
	for _, rec := range models {
		a.reducers[rec.Namespace] = a.modelReducer(rec)
	}
	a.extra = a.plugin.ExtraReducers()
	a.enhancer = a.plugin.ReducerEnhancer()
	a.runner = runner
	a.mu.Unlock()

	middleware := []engine.Middleware{a.errbuf.Middleware(a.onError)}
	middleware = append(middleware, a.plugin.Middleware()...)
	middleware = append(middleware, runner.Middleware())

	create := engine.Creator(engine.New)
	if enhance := a.plugin.StoreEnhancer(); enhance != nil {
		create = enhance(create)
	}
	store := create(a.initialState, a.composeReducer(),
		engine.WithMiddleware(middleware...),
		engine.WithErrorHandler(a.onError),
		engine.WithStoreLogger(a.logger),
	)
	if listener := a.plugin.StateListener(store.GetState); listener != nil {
		store.Subscribe(listener)
	}

	a.mu.Lock()
	a.store = store
	a.mu.Unlock()

	for _, rec := range models {
		if err := runner.Start(rec); err != nil {
			runner.Close()
			a.mu.Lock()
			a.store = nil
			a.mu.Unlock()
			return fmt.Errorf("start effects of %q: %w", rec.Namespace, err)
		}
	}

	a.mu.Lock()
	a.running = true
	a.mu.Unlock()

	a.logger.Info("app started", "models", len(models))
	return nil
}

// startLive installs a model into the running store.
// CRITICAL: Called with a.lifecycle held.
func (a *App) startLive(rec *ir.ModelRecord) error {
	a.mu.Lock()
	a.async[rec.Namespace] = a.modelReducer(rec)
	a.mu.Unlock()

	a.store.ReplaceReducer(a.composeReducer())
	if err := a.runner.Start(rec); err != nil {
		return fmt.Errorf("start effects of %q: %w", rec.Namespace, err)
	}
	a.runSubscriptions(rec)
	return nil
}

// stopLive stops the effects and subscriptions of a model about to be
// shadowed. Its reducer is replaced by the next startLive.
// CRITICAL: Called with a.lifecycle held.
func (a *App) stopLive(ns string) {
	a.runner.CancelNamespace(ns)
	subscription.Unlisten(a.handles, ns, a.onError)
}

func (a *App) runSubscriptions(rec *ir.ModelRecord) {
	if len(rec.Subscriptions) == 0 {
		return
	}
	a.handles.Set(subscription.Run(rec.Subscriptions, rec.Namespace, a.store, a.onError))
}

func (a *App) modelReducer(rec *ir.ModelRecord) ir.ReducerFunc {
	return engine.ModelReducer(rec, a.ext.CreateReducer, a.errbuf.Report)
}

// composeReducer rebuilds the composite reducer from the current tables
// and the plugin contributions captured by start.
func (a *App) composeReducer() engine.Reducing {
	a.mu.RLock()
	static := maps.Clone(a.reducers)
	async := maps.Clone(a.async)
	extra, enhancer := a.extra, a.enhancer
	a.mu.RUnlock()

	return engine.ComposeReducer(static, async, extra, enhancer, a.ext.CombineReducers)
}

// register appends rec, replacing a shadowed record of the same namespace,
// and derives its action creators.
func (a *App) register(rec *ir.ModelRecord) {
	creators := a.actionCreators(rec)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.models = slices.DeleteFunc(a.models, func(r *ir.ModelRecord) bool { return r.Namespace == rec.Namespace })
	a.models = append(a.models, rec)
	a.actions[rec.Namespace] = creators
}

// CRITICAL: Called with a.mu held.
func (a *App) indexOf(ns string) int {
	return slices.IndexFunc(a.models, func(rec *ir.ModelRecord) bool { return rec.Namespace == ns })
}

// Use installs plugin hooks. Render captures every other hook once, so
// only OnError hooks take effect once the app is running; using hooks then
// is reported as a warning.
func (a *App) Use(hooks plugin.Hooks) {
	a.mu.RLock()
	running := a.running
	a.mu.RUnlock()

	if running {
		a.logger.Warn("plugin hooks installed after start; only OnError takes effect")
	}
	a.plugin.Use(hooks)
}

// OnError hands err to the error funnel.
func (a *App) OnError(err error) {
	a.onError(err)
}

// Store returns the live store, or nil before Render.
func (a *App) Store() *engine.Store {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.store
}

// Running reports whether Render has started the app.
func (a *App) Running() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.running && !a.closed
}

// Dispatch sends an action to the store. Before Render there is no store:
// the action is dropped with a warning and returned unchanged.
func (a *App) Dispatch(action ir.Action) ir.Action {
	store := a.Store()
	if store == nil {
		a.logger.Warn("dispatch before render dropped", "action_type", action.Type)
		return action
	}
	return store.Dispatch(action)
}

// GetState returns the current state, or a copy of the initial state
// before Render.
func (a *App) GetState() ir.State {
	if store := a.Store(); store != nil {
		return store.GetState()
	}
	return a.initialState.Clone()
}

// Subscribe registers a store listener. Before Render it returns a no-op
// unsubscribe and the listener is never called.
func (a *App) Subscribe(listener func()) func() {
	if store := a.Store(); store != nil {
		return store.Subscribe(listener)
	}
	a.logger.Warn("subscribe before render ignored")
	return func() {}
}

// Close stops every subscription, cancels every effect task and waits for
// the tasks to finish or ctx to be done. The app cannot be used afterwards.
func (a *App) Close(ctx context.Context) error {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	running := a.running
	a.mu.Unlock()

	if !running {
		return nil
	}
	for _, ns := range a.handles.Namespaces() {
		subscription.Unlisten(a.handles, ns, a.onError)
	}
	a.runner.Close()
	if err := a.runner.Wait(ctx); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	a.logger.Info("app closed")
	return nil
}

var _ view.Context = (*App)(nil)
