// Package plugin collects the application hooks installed with App.Use.
package plugin

import (
	"maps"
	"slices"
	"sync"

	"github.com/roach88/storeweave/internal/engine"
	"github.com/roach88/storeweave/internal/ir"
	"github.com/roach88/storeweave/internal/saga"
)

// Hooks is one set of hooks. Every field is optional.
type Hooks struct {
	// OnError receives every funneled runtime error.
	OnError ir.ErrorFunc

	// OnAction wraps the dispatch chain.
	OnAction []engine.Middleware

	// OnEffect wraps every effect function before its watcher starts.
	OnEffect saga.EffectHook

	// OnReducer wraps the composite reducer.
	OnReducer engine.Enhancer

	// OnStateChange is called with the new state after every dispatch.
	OnStateChange func(state ir.State)

	// ExtraReducers contributes slice reducers keyed by namespace.
	ExtraReducers map[string]ir.ReducerFunc

	// ExtraEnhancers wrap store creation.
	ExtraEnhancers []engine.StoreEnhancer
}

// Plugin accumulates hooks in installation order.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Plugin struct {
	mu            sync.Mutex
	onError       []ir.ErrorFunc
	onAction      []engine.Middleware
	onEffect      []saga.EffectHook
	onReducer     []engine.Enhancer
	onStateChange []func(ir.State)
	extraReducers map[string]ir.ReducerFunc
	enhancers     []engine.StoreEnhancer
}

// New creates an empty plugin registry.
func New() *Plugin {
	return &Plugin{extraReducers: make(map[string]ir.ReducerFunc)}
}

// Use installs h. Extra reducers of later hook sets override earlier ones
// on the same namespace.
func (p *Plugin) Use(h Hooks) *Plugin {
	p.mu.Lock()
	defer p.mu.Unlock()

	if h.OnError != nil {
		p.onError = append(p.onError, h.OnError)
	}
	for _, mw := range h.OnAction {
		if mw != nil {
			p.onAction = append(p.onAction, mw)
		}
	}
	if h.OnEffect != nil {
		p.onEffect = append(p.onEffect, h.OnEffect)
	}
	if h.OnReducer != nil {
		p.onReducer = append(p.onReducer, h.OnReducer)
	}
	if h.OnStateChange != nil {
		p.onStateChange = append(p.onStateChange, h.OnStateChange)
	}
	maps.Copy(p.extraReducers, h.ExtraReducers)
	for _, e := range h.ExtraEnhancers {
		if e != nil {
			p.enhancers = append(p.enhancers, e)
		}
	}
	return p
}

// ErrorHandlers returns the installed OnError hooks.
func (p *Plugin) ErrorHandlers() []ir.ErrorFunc {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.onError)
}

// Middleware returns the OnAction hooks, first installed outermost.
func (p *Plugin) Middleware() []engine.Middleware {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.onAction)
}

// EffectHooks returns the OnEffect hooks, first installed outermost.
func (p *Plugin) EffectHooks() []saga.EffectHook {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.onEffect)
}

// ReducerEnhancer chains the OnReducer hooks, first installed outermost.
// Returns nil when none is installed.
func (p *Plugin) ReducerEnhancer() engine.Enhancer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return engine.ChainEnhancers(slices.Clone(p.onReducer)...)
}

// StateListener returns a store listener calling every OnStateChange hook
// with the current state, or nil when none is installed.
func (p *Plugin) StateListener(getState func() ir.State) func() {
	p.mu.Lock()
	hooks := slices.Clone(p.onStateChange)
	p.mu.Unlock()

	if len(hooks) == 0 {
		return nil
	}
	return func() {
		state := getState()
		for _, fn := range hooks {
			fn(state)
		}
	}
}

// ExtraReducers returns a copy of the contributed slice reducers.
func (p *Plugin) ExtraReducers() map[string]ir.ReducerFunc {
	p.mu.Lock()
	defer p.mu.Unlock()
	return maps.Clone(p.extraReducers)
}

// StoreEnhancer chains the ExtraEnhancers hooks, first installed
// outermost. Returns nil when none is installed.
func (p *Plugin) StoreEnhancer() engine.StoreEnhancer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return engine.ChainStoreEnhancers(slices.Clone(p.enhancers)...)
}
