// Package undo provides an undo/redo reducer enhancer for models.
//
// Installed through a model's Enhancers, it replaces the slice state with a
// History whose Present is what the model's mutations see and produce:
//
//	ir.Model{
//		Namespace: "counter",
//		Enhancers: []ir.ReducerEnhancer{undo.Enhancer(undo.ForNamespace("counter"))},
//	}
package undo

import (
	"bytes"
	"reflect"

	"github.com/roach88/storeweave/internal/ir"
)

// DefaultLimit bounds the number of past states kept.
const DefaultLimit = 100

// Bare action names handled by the enhancer.
const (
	ActionUndo  = "undo"
	ActionRedo  = "redo"
	ActionClear = "clearHistory"
)

// History is the enhanced slice state.
type History struct {
	Past    []any `json:"past"`
	Present any   `json:"present"`
	Future  []any `json:"future"`
}

// CanUndo reports whether an undo would change the present.
func (h History) CanUndo() bool { return len(h.Past) > 0 }

// CanRedo reports whether a redo would change the present.
func (h History) CanRedo() bool { return len(h.Future) > 0 }

// Config names the control actions and bounds the history.
type Config struct {
	Undo  string
	Redo  string
	Clear string

	// Limit caps len(Past). Zero means DefaultLimit.
	Limit int

	// Filter, when set, decides whether the state change caused by an
	// action is recorded. Unrecorded changes replace the present without
	// touching the past.
	Filter func(action ir.Action) bool
}

// ForNamespace returns the Config whose control actions live in namespace.
func ForNamespace(namespace string) Config {
	return Config{
		Undo:  ir.Qualify(namespace, ActionUndo),
		Redo:  ir.Qualify(namespace, ActionRedo),
		Clear: ir.Qualify(namespace, ActionClear),
	}
}

// Enhancer returns the reducer enhancer for cfg.
func Enhancer(cfg Config) ir.ReducerEnhancer {
	limit := cfg.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	return func(next ir.ReducerFunc) ir.ReducerFunc {
		return func(state any, action ir.Action) any {
			h := asHistory(state)

			switch action.Type {
			case cfg.Undo:
				if !h.CanUndo() {
					return h
				}
				last := len(h.Past) - 1
				return History{
					Past:    clip(h.Past[:last]),
					Present: h.Past[last],
					Future:  prepend(h.Present, h.Future),
				}
			case cfg.Redo:
				if !h.CanRedo() {
					return h
				}
				return History{
					Past:    appendLimited(h.Past, h.Present, limit),
					Present: h.Future[0],
					Future:  clip(h.Future[1:]),
				}
			case cfg.Clear:
				return History{Present: h.Present}
			}

			present := next(h.Present, action)
			if equal(present, h.Present) {
				return h
			}
			if cfg.Filter != nil && !cfg.Filter(action) {
				return History{Past: h.Past, Present: present, Future: h.Future}
			}
			return History{
				Past:    appendLimited(h.Past, h.Present, limit),
				Present: present,
			}
		}
	}
}

// Present returns the present value of an enhanced slice. Non-History
// values are returned unchanged.
func Present(slice any) any {
	return asHistory(slice).Present
}

// asHistory lifts a raw slice state (the model's initial state on first
// reduction) into a History.
func asHistory(state any) History {
	switch h := state.(type) {
	case History:
		return h
	case *History:
		if h != nil {
			return *h
		}
		return History{}
	default:
		return History{Present: state}
	}
}

func appendLimited(past []any, v any, limit int) []any {
	out := make([]any, 0, min(len(past)+1, limit))
	if len(past)+1 > limit {
		past = past[len(past)+1-limit:]
	}
	out = append(out, past...)
	return append(out, v)
}

func prepend(v any, rest []any) []any {
	out := make([]any, 0, len(rest)+1)
	out = append(out, v)
	return append(out, rest...)
}

// clip copies s so later appends never alias a previous History.
func clip(s []any) []any {
	if len(s) == 0 {
		return nil
	}
	return append([]any(nil), s...)
}

func equal(a, b any) bool {
	ca, errA := ir.MarshalCanonical(a)
	cb, errB := ir.MarshalCanonical(b)
	if errA != nil || errB != nil {
		return reflect.DeepEqual(a, b)
	}
	return bytes.Equal(ca, cb)
}
