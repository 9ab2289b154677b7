package ir

import (
	"fmt"
	"maps"
	"time"
)

// Action is the unit of dispatch.
type Action struct {
	Type    string         `json:"type"`
	Payload any            `json:"payload,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// NewAction creates an action with the given type and payload.
func NewAction(actionType string, payload any) Action {
	return Action{Type: actionType, Payload: payload}
}

// WithMeta returns a copy of the action with key set in its metadata.
// The receiver's metadata map is never mutated.
func (a Action) WithMeta(key string, value any) Action {
	meta := make(map[string]any, len(a.Meta)+1)
	maps.Copy(meta, a.Meta)
	meta[key] = value
	a.Meta = meta
	return a
}

// Seq returns the logical clock value stamped by the store, or 0.
func (a Action) Seq() int64 {
	if seq, ok := a.Meta[MetaSeq].(int64); ok {
		return seq
	}
	return 0
}

// Metadata keys written by the runtime.
const (
	MetaSeq       = "seq"
	MetaCallbacks = "callbacks"
)

// State is the whole application state: namespace -> slice state.
type State map[string]any

// Clone returns a shallow copy of the state map.
func (s State) Clone() State {
	out := make(State, len(s))
	maps.Copy(out, s)
	return out
}

// ReducerFunc is a synchronous mutation: old slice state + action -> new
// slice state. A nil slice state stands for "not yet materialized".
type ReducerFunc func(state any, action Action) any

// EffectFunc is an asynchronous effect. The Effects handle is its only way
// to suspend, which is what makes it suspension-capable.
type EffectFunc func(fx Effects, action Action) error

// ReducerEnhancer wraps a slice reducer (undo history, logging, ...).
type ReducerEnhancer func(ReducerFunc) ReducerFunc

// ReducerCreator replaces the default handler-table reducer of a model.
type ReducerCreator func(initialState any, handlers map[string]ReducerFunc) ReducerFunc

// ActionCreator builds an action of a fixed type and dispatches it. It
// returns the action as reduced.
type ActionCreator func(payload any) Action

// ErrorFunc receives every funneled runtime error.
type ErrorFunc func(err error)

// Subscription is a long-lived observer started against the live store.
// It may return a teardown function, which is invoked on ejection.
type Subscription func(api SubscriptionAPI, onError ErrorFunc) (teardown func())

// SubscriptionAPI is the dispatch-like handle given to subscriptions.
// Dispatch prefixes bare action names with the subscription's namespace.
type SubscriptionAPI interface {
	Namespace() string
	Dispatch(action Action) Action
	GetState() State
	Subscribe(listener func()) (unsubscribe func())
}

// Group is a Handler Group written as callback name -> callable.
type Group map[string]any

// Model is the raw model descriptor written by model authors.
//
// Namespace, State, Effects, Reducers, Subscriptions, Enhancers and
// CreateReducer are the reserved fields. Handlers holds the remaining
// free-form Handler Groups keyed by action name; each value is either a
// single callable or a Group.
type Model struct {
	Namespace     string
	State         any
	Effects       map[string]any
	Reducers      map[string]any
	Handlers      map[string]any
	Subscriptions map[string]Subscription
	Enhancers     []ReducerEnhancer
	CreateReducer ReducerCreator
}

// ModelRecord is the normalized, immutable output of compiling a Model.
//
// Mutations, Effects and Callbacks are keyed by fully namespaced action
// identifiers. Actions maps action-creator names (bare, callback-qualified)
// to the identifiers they dispatch.
type ModelRecord struct {
	Namespace     string
	InitialState  any
	Actions       map[string]string
	Mutations     map[string]ReducerFunc
	Effects       map[string]EffectHandler
	Callbacks     map[string][]string
	Subscriptions map[string]Subscription
	Enhancers     []ReducerEnhancer
	CreateReducer ReducerCreator
}

// ActionTypes returns every identifier reachable from the record's action
// creators.
func (r *ModelRecord) ActionTypes() []string {
	out := make([]string, 0, len(r.Actions))
	for _, t := range r.Actions {
		out = append(out, t)
	}
	return out
}

// Policy controls how an effect watcher reacts to repeated triggers.
type Policy string

const (
	// PolicyEvery runs every invocation concurrently.
	PolicyEvery Policy = "every"
	// PolicyLatest cancels the previous invocation when a new one arrives.
	PolicyLatest Policy = "latest"
	// PolicyLeading ignores triggers while an invocation is running.
	PolicyLeading Policy = "leading"
	// PolicySerial queues invocations and runs them one at a time.
	PolicySerial Policy = "serial"
	// PolicyThrottle runs at most one invocation per interval.
	PolicyThrottle Policy = "throttle"
	// PolicyWatcher runs the effect once at start as a long-lived task.
	PolicyWatcher Policy = "watcher"
)

// ParsePolicy parses a policy name. The empty string means PolicyEvery.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case "":
		return PolicyEvery, nil
	case PolicyEvery, PolicyLatest, PolicyLeading, PolicySerial, PolicyThrottle, PolicyWatcher:
		return p, nil
	default:
		return "", fmt.Errorf("unknown effect policy %q", s)
	}
}

// EffectSpec is the ordered pair form of an effect: the callable plus its
// execution policy descriptor.
type EffectSpec struct {
	Fn       EffectFunc
	Policy   Policy
	Interval time.Duration
}

// WithPolicy pairs an effect with an execution policy.
func WithPolicy(fn EffectFunc, policy Policy) EffectSpec {
	return EffectSpec{Fn: fn, Policy: policy}
}

// Throttled pairs an effect with PolicyThrottle and its interval.
func Throttled(fn EffectFunc, interval time.Duration) EffectSpec {
	return EffectSpec{Fn: fn, Policy: PolicyThrottle, Interval: interval}
}

// Handler is the closed set of classifications a raw handler value can
// receive. Only MutationHandler, EffectHandler and InvalidGroupEntry
// implement it.
type Handler interface {
	handler()
}

// MutationHandler is a synchronous state transition.
type MutationHandler struct {
	Fn ReducerFunc
}

// EffectHandler is an asynchronous effect with its execution policy.
type EffectHandler struct {
	Fn       EffectFunc
	Policy   Policy
	Interval time.Duration
}

// InvalidGroupEntry marks a value that is neither callable nor pair-shaped.
type InvalidGroupEntry struct {
	Reason string
}

func (MutationHandler) handler()   {}
func (EffectHandler) handler()     {}
func (InvalidGroupEntry) handler() {}
