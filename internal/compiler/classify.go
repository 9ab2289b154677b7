package compiler

import (
	"fmt"

	"github.com/roach88/storeweave/internal/ir"
)

// Classify inspects a raw handler value exactly once and returns its closed
// classification. Downstream code switches on the result and never looks at
// the raw value again.
//
// Accepted shapes:
//   - ir.ReducerFunc or func(any, ir.Action) any: mutation
//   - ir.EffectFunc or func(ir.Effects, ir.Action) error: effect, policy every
//   - ir.EffectSpec, [2]any{effect, policy} or []any{effect, policy}: effect
//     with the given policy
//   - an already classified ir.MutationHandler or ir.EffectHandler
//
// Everything else, including handler groups, classifies as
// ir.InvalidGroupEntry so the caller can fall through to sub-key iteration.
func Classify(v any) ir.Handler {
	switch fn := v.(type) {
	case nil:
		return ir.InvalidGroupEntry{Reason: "nil handler"}
	case ir.MutationHandler:
		if fn.Fn == nil {
			return ir.InvalidGroupEntry{Reason: "nil mutation"}
		}
		return fn
	case ir.EffectHandler:
		if fn.Fn == nil {
			return ir.InvalidGroupEntry{Reason: "nil effect"}
		}
		return fn
	case ir.ReducerFunc:
		if fn == nil {
			return ir.InvalidGroupEntry{Reason: "nil mutation"}
		}
		return ir.MutationHandler{Fn: fn}
	case func(any, ir.Action) any:
		if fn == nil {
			return ir.InvalidGroupEntry{Reason: "nil mutation"}
		}
		return ir.MutationHandler{Fn: fn}
	case ir.EffectFunc:
		if fn == nil {
			return ir.InvalidGroupEntry{Reason: "nil effect"}
		}
		return ir.EffectHandler{Fn: fn, Policy: ir.PolicyEvery}
	case func(ir.Effects, ir.Action) error:
		if fn == nil {
			return ir.InvalidGroupEntry{Reason: "nil effect"}
		}
		return ir.EffectHandler{Fn: fn, Policy: ir.PolicyEvery}
	case ir.EffectSpec:
		return classifySpec(fn)
	case *ir.EffectSpec:
		if fn == nil {
			return ir.InvalidGroupEntry{Reason: "nil effect spec"}
		}
		return classifySpec(*fn)
	case [2]any:
		return classifyPair(fn[0], fn[1])
	case []any:
		if len(fn) != 2 {
			return ir.InvalidGroupEntry{Reason: fmt.Sprintf("pair must have 2 elements, got %d", len(fn))}
		}
		return classifyPair(fn[0], fn[1])
	case ir.Group, map[string]any:
		return ir.InvalidGroupEntry{Reason: "handler group"}
	default:
		return ir.InvalidGroupEntry{Reason: fmt.Sprintf("unsupported handler type %T", v)}
	}
}

func classifySpec(spec ir.EffectSpec) ir.Handler {
	if spec.Fn == nil {
		return ir.InvalidGroupEntry{Reason: "nil effect"}
	}
	policy, err := ir.ParsePolicy(string(spec.Policy))
	if err != nil {
		return ir.InvalidGroupEntry{Reason: err.Error()}
	}
	return ir.EffectHandler{Fn: spec.Fn, Policy: policy, Interval: spec.Interval}
}

// classifyPair handles the ordered pair form. Only an effect may lead a
// pair; a mutation in first position is not a handler shape at all.
func classifyPair(first, second any) ir.Handler {
	eff, ok := Classify(first).(ir.EffectHandler)
	if !ok {
		return ir.InvalidGroupEntry{Reason: fmt.Sprintf("pair must start with an effect, got %T", first)}
	}

	var raw string
	switch p := second.(type) {
	case ir.Policy:
		raw = string(p)
	case string:
		raw = p
	case nil:
	default:
		return ir.InvalidGroupEntry{Reason: fmt.Sprintf("pair policy must be a string, got %T", second)}
	}

	policy, err := ir.ParsePolicy(raw)
	if err != nil {
		return ir.InvalidGroupEntry{Reason: err.Error()}
	}
	eff.Policy = policy
	return eff
}

// groupEntries returns the sub-entries of a group-shaped value.
func groupEntries(v any) (map[string]any, bool) {
	switch g := v.(type) {
	case ir.Group:
		return g, true
	case map[string]any:
		return g, true
	default:
		return nil, false
	}
}
