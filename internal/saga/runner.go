package saga

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/roach88/storeweave/internal/engine"
	"github.com/roach88/storeweave/internal/ir"
)

// EffectHook wraps an effect function before its watcher starts. Hooks
// installed first are outermost.
type EffectHook func(next ir.EffectFunc, namespace, actionType string) ir.EffectFunc

// Runner is the cooperative task runner.
//
// Every task runs on its own goroutine, but only the goroutine holding the
// runner token executes effect code. A task gives the token up at each
// yield point (Take, Call, Delay, Race, All, Join) and takes it back before
// resuming, so effect bodies never interleave between yield points.
//
// Thread-safety model:
//   - Spawn(), Start(), CancelNamespace(), Close(): safe from any goroutine
//   - The middleware returned by Middleware() must be installed in exactly
//     one store; it binds the runner to that store
type Runner struct {
	token chan struct{}

	root       context.Context
	cancelRoot context.CancelFunc

	mu       sync.Mutex // guards api, scopes, channels, closed
	api      engine.API
	scopes   map[string]*scope
	channels map[*channel]struct{}
	closed   bool

	wg      sync.WaitGroup
	running atomic.Int64

	onError ir.ErrorFunc
	hooks   []EffectHook
	ids     IDGenerator
	logger  *slog.Logger
}

// scope groups the tasks and take channels of one namespace so they can be
// cancelled together.
type scope struct {
	ns       string
	ctx      context.Context
	cancel   context.CancelFunc
	channels []*channel
	closed   bool
}

// channel is one take subscription: the patterns it matches and the queue
// matching actions are delivered to.
type channel struct {
	scope    *scope
	patterns []string
	q        *actionQueue
}

// next blocks until an action is available, the channel is closed, or ctx
// is done.
func (c *channel) next(ctx context.Context) (ir.Action, error) {
	for {
		if a, ok := c.q.TryDequeue(); ok {
			return a, nil
		}
		if c.q.Closed() {
			return ir.Action{}, ErrCancelled
		}
		select {
		case <-ctx.Done():
			return ir.Action{}, ErrCancelled
		case <-c.q.Wait():
		}
	}
}

// Option configures a Runner.
type Option func(*Runner)

// WithErrorHandler sets the funnel failed tasks are reported to.
// Default: log and continue.
func WithErrorHandler(fn ir.ErrorFunc) Option {
	return func(r *Runner) {
		r.onError = fn
	}
}

// WithEffectHooks appends effect hooks.
func WithEffectHooks(hooks ...EffectHook) Option {
	return func(r *Runner) {
		r.hooks = append(r.hooks, hooks...)
	}
}

// WithIDGenerator sets the task ID generator. Default: UUIDv7Generator.
func WithIDGenerator(gen IDGenerator) Option {
	return func(r *Runner) {
		r.ids = gen
	}
}

// WithLogger sets the runner's logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// New creates a runner. It cannot spawn tasks until its middleware has been
// installed into a store.
func New(opts ...Option) *Runner {
	root, cancel := context.WithCancel(context.Background())
	r := &Runner{
		token:      make(chan struct{}, 1),
		root:       root,
		cancelRoot: cancel,
		scopes:     make(map[string]*scope),
		channels:   make(map[*channel]struct{}),
		ids:        UUIDv7Generator{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.onError == nil {
		r.onError = func(err error) {
			r.logger.Error("effect task failed", "error", err)
		}
	}
	return r
}

// Middleware binds the runner to the store it is installed in.
//
// After every reduction it cancels the namespace named by a
// <ns>/@@CANCEL_EFFECTS action, then delivers the reduced action to every
// matching take channel.
func (r *Runner) Middleware() engine.Middleware {
	return func(api engine.API) func(engine.DispatchFunc) engine.DispatchFunc {
		r.mu.Lock()
		r.api = api
		r.mu.Unlock()

		return func(next engine.DispatchFunc) engine.DispatchFunc {
			return func(action ir.Action) ir.Action {
				reduced := next(action)
				if reduced.Type == "" {
					return reduced
				}
				if ns, ok := ir.IsCancel(reduced.Type); ok {
					r.CancelNamespace(ns)
				}
				r.emit(reduced)
				return reduced
			}
		}
	}
}

// Spawn starts body as a root task of namespace ns.
func (r *Runner) Spawn(ns, name string, body func(fx ir.Effects) error) (ir.Task, error) {
	sc, err := r.scopeFor(ns)
	if err != nil {
		return nil, err
	}
	return r.start(sc, sc.ctx, name, ir.Action{}, body), nil
}

// Start spawns one watcher task per effect of rec, in lexical order of
// action type. Watchers subscribe to their trigger before Start returns,
// so no action dispatched afterwards is missed.
func (r *Runner) Start(rec *ir.ModelRecord) error {
	if len(rec.Effects) == 0 {
		return nil
	}
	sc, err := r.scopeFor(rec.Namespace)
	if err != nil {
		return err
	}

	for _, actionType := range slices.Sorted(maps.Keys(rec.Effects)) {
		h := rec.Effects[actionType]
		fn := h.Fn
		for _, hook := range slices.Backward(r.hooks) {
			fn = hook(fn, rec.Namespace, actionType)
		}
		if err := r.watch(sc, actionType, ir.EffectHandler{Fn: fn, Policy: h.Policy, Interval: h.Interval}); err != nil {
			return err
		}
	}
	return nil
}

// CancelNamespace cancels every task of ns and closes its take channels.
// Tasks observe the cancellation at their next yield point. A later Start
// for the same namespace gets a fresh scope.
func (r *Runner) CancelNamespace(ns string) {
	r.mu.Lock()
	sc, ok := r.scopes[ns]
	if ok {
		delete(r.scopes, ns)
		r.closeScopeLocked(sc)
	}
	r.mu.Unlock()

	if ok {
		sc.cancel()
		r.logger.Debug("namespace cancelled", "namespace", ns)
	}
}

// Close cancels every task and rejects further spawns. It does not wait;
// use Wait for that.
func (r *Runner) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	for ns, sc := range r.scopes {
		delete(r.scopes, ns)
		r.closeScopeLocked(sc)
	}
	r.mu.Unlock()

	r.cancelRoot()
}

// Wait blocks until every task has finished or ctx is done.
func (r *Runner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running returns the number of live tasks, watchers included.
func (r *Runner) Running() int {
	return int(r.running.Load())
}

// scopeFor returns the live scope of ns, creating it if needed.
func (r *Runner) scopeFor(ns string) (*scope, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	if r.api == nil {
		return nil, ErrNotBound
	}
	if sc, ok := r.scopes[ns]; ok {
		return sc, nil
	}
	ctx, cancel := context.WithCancel(r.root)
	sc := &scope{ns: ns, ctx: ctx, cancel: cancel}
	r.scopes[ns] = sc
	return sc, nil
}

// CRITICAL: Called with r.mu held.
func (r *Runner) closeScopeLocked(sc *scope) {
	sc.closed = true
	for _, ch := range sc.channels {
		delete(r.channels, ch)
		ch.q.Close()
	}
	sc.channels = nil
}

// subscribe registers a take channel in sc. Fails with ErrCancelled once
// the scope has been cancelled.
func (r *Runner) subscribe(sc *scope, patterns []string) (*channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sc.closed {
		return nil, ErrCancelled
	}
	ch := &channel{scope: sc, patterns: patterns, q: newActionQueue()}
	sc.channels = append(sc.channels, ch)
	r.channels[ch] = struct{}{}
	return ch, nil
}

func (r *Runner) unsubscribe(ch *channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.channels, ch)
	ch.scope.channels = slices.DeleteFunc(ch.scope.channels, func(c *channel) bool { return c == ch })
	ch.q.Close()
}

// emit delivers action to every matching channel.
func (r *Runner) emit(action ir.Action) {
	r.mu.Lock()
	var targets []*channel
	for ch := range r.channels {
		if matchAny(ch.patterns, action.Type) {
			targets = append(targets, ch)
		}
	}
	r.mu.Unlock()

	for _, ch := range targets {
		ch.q.Enqueue(action)
	}
}

func (r *Runner) dispatch(action ir.Action) ir.Action {
	r.mu.Lock()
	api := r.api
	r.mu.Unlock()
	return api.Dispatch(action)
}

func (r *Runner) getState() ir.State {
	r.mu.Lock()
	api := r.api
	r.mu.Unlock()
	return api.GetState()
}

// acquire takes the runner token, blocking until it is free.
func (r *Runner) acquire() {
	r.token <- struct{}{}
}

// release gives the runner token back.
func (r *Runner) release() {
	<-r.token
}

// start creates a task in sc and runs body on a new goroutine once the
// token is free.
func (r *Runner) start(sc *scope, parent context.Context, name string, trigger ir.Action, body func(fx ir.Effects) error) *task {
	ctx, cancel := context.WithCancel(parent)
	t := &task{
		r:       r,
		id:      r.ids.Generate(),
		scope:   sc,
		name:    name,
		trigger: trigger,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	r.wg.Add(1)
	r.running.Add(1)
	go r.run(t, body)
	return t
}

func (r *Runner) run(t *task, body func(fx ir.Effects) error) {
	defer r.wg.Done()
	defer r.running.Add(-1)

	r.acquire()
	r.logger.Debug("task started", "task_id", t.id, "namespace", t.scope.ns, "name", t.name)
	err := invoke(t, body)
	r.release()

	t.finish(err)
	r.report(t, err)
}

// invoke runs body, converting a panic into a *ir.PanicError.
func invoke(t *task, body func(fx ir.Effects) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &ir.PanicError{Value: rec}
		}
	}()
	return body(t)
}

// report funnels a failed task. Cancellation is logged, not funneled.
func (r *Runner) report(t *task, err error) {
	var pe *ir.PanicError
	switch {
	case err == nil:
		r.logger.Debug("task finished", "task_id", t.id, "namespace", t.scope.ns, "name", t.name)
	case IsCancelled(err):
		r.logger.Debug("task cancelled", "task_id", t.id, "namespace", t.scope.ns, "name", t.name)
	case errors.As(err, &pe):
		r.onError(&ir.HandlerError{
			Kind:       ir.HandlerKindEffect,
			Namespace:  t.scope.ns,
			ActionType: t.name,
			Err:        err,
		})
	default:
		r.onError(&ir.UnresolvedEffectRejection{
			Namespace: t.scope.ns,
			Effect:    t.name,
			TaskID:    t.id,
			Err:       err,
		})
	}
}
