package engine

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/roach88/storeweave/internal/ir"
)

// Reducing is the composite reducing function over the whole state.
type Reducing func(state ir.State, action ir.Action) ir.State

// DispatchFunc sends an action through (part of) the dispatch chain and
// returns the action as it was reduced, with its seq stamped.
type DispatchFunc func(action ir.Action) ir.Action

// API is the narrow store surface handed to middleware.
type API interface {
	Dispatch(action ir.Action) ir.Action
	GetState() ir.State
}

// Middleware wraps the dispatch chain. The first middleware is outermost.
type Middleware func(api API) func(next DispatchFunc) DispatchFunc

// Store is the live state container.
//
// Thread-safety model:
//   - Dispatch(), GetState(), Subscribe(): safe from any goroutine
//   - ReplaceReducer(): safe from any goroutine; the swap is atomic with
//     respect to reduction
//   - Reducers run under the store mutex and must not dispatch
type Store struct {
	mu      sync.Mutex // guards state and reducer; held during reduction
	state   ir.State
	reducer Reducing
	seq     atomic.Int64 // advanced under mu; read lock-free by Seq

	listenersMu sync.Mutex
	listeners   []listener
	nextID      uint64

	dispatch DispatchFunc
	onError  ir.ErrorFunc
	logger   *slog.Logger
}

type listener struct {
	id uint64
	fn func()
}

// StoreOption configures a Store.
type StoreOption func(*storeConfig)

type storeConfig struct {
	middleware []Middleware
	seqStart   int64
	onError    ir.ErrorFunc
	logger     *slog.Logger
}

// WithMiddleware appends middleware to the dispatch chain.
func WithMiddleware(mw ...Middleware) StoreOption {
	return func(c *storeConfig) {
		c.middleware = append(c.middleware, mw...)
	}
}

// WithSeqStart resumes seq stamping after n, so the init action is
// stamped n+1. Used when a store continues a recorded session.
// Default: 0.
func WithSeqStart(n int64) StoreOption {
	return func(c *storeConfig) {
		c.seqStart = n
	}
}

// WithErrorHandler receives panics raised by the composite reducer or by
// listeners. Default: log and continue.
func WithErrorHandler(fn ir.ErrorFunc) StoreOption {
	return func(c *storeConfig) {
		c.onError = fn
	}
}

// WithStoreLogger sets the store's logger. Default: slog.Default().
func WithStoreLogger(logger *slog.Logger) StoreOption {
	return func(c *storeConfig) {
		c.logger = logger
	}
}

// Creator builds a store. New is the base Creator.
type Creator func(initial ir.State, reducer Reducing, opts ...StoreOption) *Store

// StoreEnhancer wraps store creation, e.g. to seed state, add middleware
// or wrap the reducer before the store exists.
type StoreEnhancer func(next Creator) Creator

// ChainStoreEnhancers composes store enhancers so that the first one is
// outermost. Returns nil when none is given.
func ChainStoreEnhancers(enhancers ...StoreEnhancer) StoreEnhancer {
	if len(enhancers) == 0 {
		return nil
	}
	return func(next Creator) Creator {
		for _, e := range slices.Backward(enhancers) {
			next = e(next)
		}
		return next
	}
}

// New creates a store with the given initial state and reducer, then
// dispatches ir.ActionInit so every slice materializes its initial state.
func New(initial ir.State, reducer Reducing, opts ...StoreOption) *Store {
	cfg := storeConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	s := &Store{
		state:   initial.Clone(),
		reducer: reducer,
		onError: cfg.onError,
		logger:  cfg.logger,
	}
	s.seq.Store(cfg.seqStart)
	if s.onError == nil {
		s.onError = func(err error) {
			s.logger.Error("store error", "error", err)
		}
	}

	// Compose the middleware chain: first middleware is outermost.
	// Dispatching while constructing middleware is an error, as in the
	// reference container.
	s.dispatch = func(ir.Action) ir.Action {
		panic("dispatching while constructing middleware is not allowed")
	}
	chain := DispatchFunc(s.baseDispatch)
	for _, mw := range slices.Backward(cfg.middleware) {
		chain = mw(s)(chain)
	}
	s.dispatch = chain

	s.Dispatch(ir.NewAction(ir.ActionInit, nil))
	return s
}

// Dispatch sends an action through the middleware chain and returns the
// action as reduced. A panic inside the reducer is reported to the error
// handler and the previous state is kept; Dispatch itself never panics
// because of a handler failure.
func (s *Store) Dispatch(action ir.Action) ir.Action {
	return s.dispatch(action)
}

// GetState returns the current state snapshot. Callers must treat it as
// read-only.
func (s *Store) GetState() ir.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Seq returns the seq of the most recently reduced action.
func (s *Store) Seq() int64 {
	return s.seq.Load()
}

// Subscribe registers a listener invoked after every reduction. The
// returned function unsubscribes; calling it more than once is harmless.
func (s *Store) Subscribe(fn func()) (unsubscribe func()) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()

	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, listener{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			s.listenersMu.Lock()
			defer s.listenersMu.Unlock()
			s.listeners = slices.DeleteFunc(s.listeners, func(l listener) bool { return l.id == id })
		})
	}
}

// ReplaceReducer hot-swaps the composite reducer, then dispatches
// ir.ActionReplace so newly added slices materialize before anything else
// observes the store.
func (s *Store) ReplaceReducer(reducer Reducing) {
	s.mu.Lock()
	s.reducer = reducer
	s.mu.Unlock()

	s.logger.Debug("reducer replaced")
	s.Dispatch(ir.NewAction(ir.ActionReplace, nil))
}

// baseDispatch is the innermost link of the chain.
func (s *Store) baseDispatch(action ir.Action) ir.Action {
	if action.Type == "" {
		s.onError(fmt.Errorf("dispatch: action type is required"))
		return action
	}

	s.mu.Lock()
	action = action.WithMeta(ir.MetaSeq, s.seq.Add(1))
	next, err := s.reduce(action)
	if err == nil {
		s.state = next
	}
	s.mu.Unlock()

	if err != nil {
		s.onError(err)
		return action
	}

	s.notify()
	return action
}

// reduce runs the composite reducer, converting a panic into an error.
// CRITICAL: Called with s.mu held.
func (s *Store) reduce(action ir.Action) (next ir.State, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ir.HandlerError{
				Kind:       ir.HandlerKindMutation,
				ActionType: action.Type,
				Err:        &ir.PanicError{Value: r},
			}
		}
	}()

	next = s.reducer(s.state, action)
	if next == nil {
		next = ir.State{}
	}
	return next, nil
}

// notify calls every listener on a snapshot of the listener list, so a
// listener may subscribe or unsubscribe while being notified.
func (s *Store) notify() {
	s.listenersMu.Lock()
	snapshot := slices.Clone(s.listeners)
	s.listenersMu.Unlock()

	for _, l := range snapshot {
		s.callListener(l.fn)
	}
}

func (s *Store) callListener(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.onError(&ir.HandlerError{
				Kind: ir.HandlerKindListener,
				Err:  &ir.PanicError{Value: r},
			})
		}
	}()
	fn()
}
