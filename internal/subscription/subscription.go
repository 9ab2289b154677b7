// Package subscription starts and stops the long-lived observers declared
// by a model's subscriptions field.
package subscription

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/roach88/storeweave/internal/ir"
)

// Host is the live store surface subscriptions observe.
// Implemented by *engine.Store.
type Host interface {
	Dispatch(action ir.Action) ir.Action
	GetState() ir.State
	Subscribe(listener func()) (unsubscribe func())
}

// Handle holds the teardowns collected when a model's subscriptions were
// started.
type Handle struct {
	Namespace string
	teardowns []teardown
}

type teardown struct {
	name string
	fn   func()
}

// Len returns the number of collected teardowns.
func (h *Handle) Len() int {
	return len(h.teardowns)
}

// Handles maps namespaces to their subscription handles.
//
// Thread-safety: safe for concurrent use via internal mutex.
type Handles struct {
	mu sync.Mutex
	m  map[string]*Handle
}

// NewHandles creates an empty handle map.
func NewHandles() *Handles {
	return &Handles{m: make(map[string]*Handle)}
}

// Set stores h under its namespace, replacing any previous handle.
func (hs *Handles) Set(h *Handle) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	hs.m[h.Namespace] = h
}

// Has reports whether a handle is stored for ns.
func (hs *Handles) Has(ns string) bool {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	_, ok := hs.m[ns]
	return ok
}

// Namespaces returns the namespaces with a stored handle, sorted.
func (hs *Handles) Namespaces() []string {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return slices.Sorted(maps.Keys(hs.m))
}

func (hs *Handles) take(ns string) (*Handle, bool) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	h, ok := hs.m[ns]
	delete(hs.m, ns)
	return h, ok
}

// Run invokes every subscription of ns once, in lexical order of name, and
// collects the teardowns they return.
//
// Each subscription gets its own api whose Dispatch qualifies bare action
// types with ns. A panicking subscription, or an error it reports through
// its onError argument, reaches onError as a *ir.HandlerError of kind
// subscription; Run itself never panics.
func Run(subs map[string]ir.Subscription, ns string, host Host, onError ir.ErrorFunc) *Handle {
	h := &Handle{Namespace: ns}
	for _, name := range slices.Sorted(maps.Keys(subs)) {
		sub := subs[name]
		if sub == nil {
			continue
		}
		report := reporter(ns, name, onError)
		if fn := start(sub, &api{ns: ns, host: host}, report); fn != nil {
			h.teardowns = append(h.teardowns, teardown{name: name, fn: fn})
		}
		slog.Debug("subscription started", "namespace", ns, "subscription", name)
	}
	return h
}

// Unlisten invokes the teardowns collected for ns, then drops its handle.
// It is a no-op when no handle is stored. Teardown panics are funneled.
func Unlisten(handles *Handles, ns string, onError ir.ErrorFunc) {
	h, ok := handles.take(ns)
	if !ok {
		return
	}
	for _, td := range h.teardowns {
		stop(td, reporter(ns, td.name, onError))
	}
	slog.Debug("subscriptions stopped", "namespace", ns, "count", len(h.teardowns))
}

func start(sub ir.Subscription, a ir.SubscriptionAPI, report ir.ErrorFunc) (fn func()) {
	defer func() {
		if r := recover(); r != nil {
			fn = nil
			report(&ir.PanicError{Value: r})
		}
	}()
	return sub(a, report)
}

func stop(td teardown, report ir.ErrorFunc) {
	defer func() {
		if r := recover(); r != nil {
			report(&ir.PanicError{Value: r})
		}
	}()
	td.fn()
}

// reporter wraps errors raised by one subscription.
func reporter(ns, name string, onError ir.ErrorFunc) ir.ErrorFunc {
	return func(err error) {
		if err == nil || onError == nil {
			return
		}
		onError(&ir.HandlerError{
			Kind:      ir.HandlerKindSubscription,
			Namespace: ns,
			Err:       fmt.Errorf("subscription %q: %w", name, err),
		})
	}
}

// api is the namespaced handle given to one subscription.
type api struct {
	ns   string
	host Host
}

func (a *api) Namespace() string {
	return a.ns
}

func (a *api) Dispatch(action ir.Action) ir.Action {
	if action.Type != "" && !strings.Contains(action.Type, ir.Separator) {
		action.Type = ir.Qualify(a.ns, action.Type)
	}
	return a.host.Dispatch(action)
}

func (a *api) GetState() ir.State {
	return a.host.GetState()
}

func (a *api) Subscribe(listener func()) func() {
	return a.host.Subscribe(listener)
}
