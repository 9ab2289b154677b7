package compiler

import (
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/storeweave/internal/ir"
)

// Options controls model compilation.
type Options struct {
	// Validate enables construction-time invariant checks: a Handler Group
	// with more than one effect fails with *ir.AmbiguousEffectError, and
	// entries that are not handlers fail with *InvalidHandlerError. When
	// disabled, the last effect of a group wins and invalid entries are
	// skipped.
	Validate bool
}

// DefaultOptions returns the options for the current build. Validation is
// on unless the binary is built with the "production" tag.
func DefaultOptions() Options {
	return Options{Validate: validateByDefault}
}

// InvalidHandlerError reports a model entry that is neither a handler nor a
// Handler Group.
type InvalidHandlerError struct {
	Namespace string
	Action    string
	Callback  string
	Reason    string
}

func (e *InvalidHandlerError) Error() string {
	if e.Callback != "" {
		return fmt.Sprintf("model %q: %s.%s is not a handler: %s", e.Namespace, e.Action, e.Callback, e.Reason)
	}
	return fmt.Sprintf("model %q: %s is not a handler: %s", e.Namespace, e.Action, e.Reason)
}

// group accumulates the tables of one Handler Group before they are merged.
type group struct {
	name        string
	actions     map[string]string
	mutations   map[string]ir.ReducerFunc
	effects     map[string]ir.EffectHandler
	callbacks   []string
	effectCount int
}

func newGroup(name string) *group {
	return &group{
		name:      name,
		actions:   make(map[string]string),
		mutations: make(map[string]ir.ReducerFunc),
		effects:   make(map[string]ir.EffectHandler),
	}
}

// fill routes one classified handler into the group. callback is empty for
// a directly callable group value.
func (g *group) fill(h ir.Handler, callback string) bool {
	switch h := h.(type) {
	case ir.EffectHandler:
		g.actions[g.name] = g.name
		g.effects[g.name] = h
		g.effectCount++
		return true
	case ir.MutationHandler:
		if callback != "" && callback != ir.PrepareCallback {
			qualified := ir.QualifyName(g.name, callback)
			g.actions[qualified] = qualified
			g.mutations[qualified] = h.Fn
			g.callbacks = append(g.callbacks, callback)
			return true
		}
		g.actions[g.name] = g.name
		g.mutations[g.name] = h.Fn
		return true
	default:
		return false
	}
}

// CompileModel normalizes a raw model descriptor into a ModelRecord.
//
// The legacy flat Effects and Reducers tables are processed first, then the
// Handler Groups in lexical key order. Later groups overwrite earlier ones
// on key collision. Every table key of the result is a fully namespaced
// action identifier.
func CompileModel(m ir.Model, opts Options) (*ir.ModelRecord, error) {
	ns, err := ir.Canonicalize(m.Namespace)
	if err != nil {
		return nil, err
	}

	actions := make(map[string]string)
	mutations := make(map[string]ir.ReducerFunc)
	effects := make(map[string]ir.EffectHandler)
	callbacks := make(map[string][]string)

	// Legacy flat form: bare name is both identifier and action name.
	for _, table := range []map[string]any{m.Effects, m.Reducers} {
		for _, name := range slices.Sorted(maps.Keys(table)) {
			switch h := Classify(table[name]).(type) {
			case ir.EffectHandler:
				effects[name] = h
				actions[name] = name
			case ir.MutationHandler:
				mutations[name] = h.Fn
				actions[name] = name
			case ir.InvalidGroupEntry:
				if opts.Validate {
					return nil, &InvalidHandlerError{Namespace: ns, Action: name, Reason: h.Reason}
				}
			}
		}
	}

	for _, name := range slices.Sorted(maps.Keys(m.Handlers)) {
		g, err := parseGroup(ns, name, m.Handlers[name], opts)
		if err != nil {
			return nil, err
		}
		maps.Copy(actions, g.actions)
		maps.Copy(mutations, g.mutations)
		maps.Copy(effects, g.effects)
		if len(g.callbacks) > 0 {
			callbacks[name] = g.callbacks
		}
	}

	rec := &ir.ModelRecord{
		Namespace:     ns,
		InitialState:  m.State,
		Actions:       make(map[string]string, len(actions)),
		Mutations:     ir.PrefixKeys(ns, mutations),
		Effects:       ir.PrefixKeys(ns, effects),
		Callbacks:     ir.PrefixKeys(ns, callbacks),
		Subscriptions: maps.Clone(m.Subscriptions),
		Enhancers:     slices.Clone(m.Enhancers),
		CreateReducer: m.CreateReducer,
	}
	for creator, id := range actions {
		rec.Actions[creator] = ir.Qualify(ns, id)
	}
	if rec.Subscriptions == nil {
		rec.Subscriptions = make(map[string]ir.Subscription)
	}
	return rec, nil
}

// parseGroup classifies one Handler Group. A directly callable value is a
// single handler; otherwise every sub-entry is classified in lexical order.
func parseGroup(ns, name string, raw any, opts Options) (*group, error) {
	g := newGroup(name)

	h := Classify(raw)
	if g.fill(h, "") {
		return g, nil
	}

	entries, ok := groupEntries(raw)
	if !ok {
		if opts.Validate {
			return nil, &InvalidHandlerError{Namespace: ns, Action: name, Reason: h.(ir.InvalidGroupEntry).Reason}
		}
		return g, nil
	}

	for _, cb := range slices.Sorted(maps.Keys(entries)) {
		sub := Classify(entries[cb])
		if !g.fill(sub, cb) && opts.Validate {
			return nil, &InvalidHandlerError{Namespace: ns, Action: name, Callback: cb, Reason: sub.(ir.InvalidGroupEntry).Reason}
		}
	}

	if opts.Validate && g.effectCount > 1 {
		return nil, &ir.AmbiguousEffectError{Namespace: ns, Action: name, Count: g.effectCount}
	}
	return g, nil
}
