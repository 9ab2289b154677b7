package engine

import (
	"maps"
	"slices"

	"github.com/roach88/storeweave/internal/ir"
)

// Combiner merges per-namespace slice reducers into one composite reducer.
type Combiner func(reducers map[string]ir.ReducerFunc) Reducing

// Enhancer wraps the composite reducer (plugin onReducer hooks).
type Enhancer func(Reducing) Reducing

// CombineReducers is the default Combiner.
//
// Each slice reducer sees its own namespace's previous slice state. Keys
// without a reducer are carried over unchanged, so the state of an ejected
// namespace stays in the snapshot. Slices are reduced in lexical namespace
// order.
func CombineReducers(reducers map[string]ir.ReducerFunc) Reducing {
	namespaces := slices.Sorted(maps.Keys(reducers))
	table := maps.Clone(reducers)

	return func(state ir.State, action ir.Action) ir.State {
		next := make(ir.State, len(state)+len(namespaces))
		maps.Copy(next, state)
		for _, ns := range namespaces {
			next[ns] = table[ns](state[ns], action)
		}
		return next
	}
}

// ComposeReducer merges the pre-registered, dynamically added and
// extension-contributed slice reducers into one composite reducer, then
// applies the enhancer. On a namespace collision extra overrides static
// and async overrides both.
//
// ComposeReducer is pure: the input maps are copied, so later mutations of
// them do not affect the returned reducer. A nil combine means
// CombineReducers; a nil enhancer means none.
func ComposeReducer(
	static, async, extra map[string]ir.ReducerFunc,
	enhancer Enhancer,
	combine Combiner,
) Reducing {
	merged := make(map[string]ir.ReducerFunc, len(static)+len(async)+len(extra))
	maps.Copy(merged, static)
	maps.Copy(merged, extra)
	maps.Copy(merged, async)

	if combine == nil {
		combine = CombineReducers
	}
	r := combine(merged)
	if enhancer != nil {
		r = enhancer(r)
	}
	return r
}

// ChainEnhancers composes enhancers so that the first one is outermost.
func ChainEnhancers(enhancers ...Enhancer) Enhancer {
	if len(enhancers) == 0 {
		return nil
	}
	return func(r Reducing) Reducing {
		for _, e := range slices.Backward(enhancers) {
			r = e(r)
		}
		return r
	}
}

// ModelReducer builds the slice reducer of one model.
//
// A nil slice state is replaced by the model's initial state before the
// handler runs, so the first action reduced after the reducer is installed
// materializes the slice. Actions without a mutation leave the slice
// unchanged. A panicking mutation is reported through onError and the
// previous slice state is kept. The model's own enhancers wrap the result
// in order, the first one innermost.
//
// creator, when set, replaces the default handler-table reducer (the
// model's CreateReducer takes precedence over it).
func ModelReducer(rec *ir.ModelRecord, creator ir.ReducerCreator, onError ir.ErrorFunc) ir.ReducerFunc {
	handlers := make(map[string]ir.ReducerFunc, len(rec.Mutations))
	for actionType, fn := range rec.Mutations {
		handlers[actionType] = guardMutation(rec.Namespace, actionType, fn, onError)
	}

	if rec.CreateReducer != nil {
		creator = rec.CreateReducer
	}

	var r ir.ReducerFunc
	if creator != nil {
		r = creator(rec.InitialState, handlers)
	} else {
		r = handlerTable(rec.InitialState, handlers)
	}

	for _, enhance := range rec.Enhancers {
		if enhance != nil {
			r = enhance(r)
		}
	}

	initial := rec.InitialState
	return func(state any, action ir.Action) any {
		if state == nil {
			state = initial
		}
		return r(state, action)
	}
}

// handlerTable is the default reducer: route by action type.
func handlerTable(initial any, handlers map[string]ir.ReducerFunc) ir.ReducerFunc {
	return func(state any, action ir.Action) any {
		if state == nil {
			state = initial
		}
		if fn, ok := handlers[action.Type]; ok {
			return fn(state, action)
		}
		return state
	}
}

// guardMutation recovers a panicking mutation and keeps the prior state.
func guardMutation(ns, actionType string, fn ir.ReducerFunc, onError ir.ErrorFunc) ir.ReducerFunc {
	return func(state any, action ir.Action) (next any) {
		defer func() {
			if r := recover(); r != nil {
				next = state
				if onError != nil {
					onError(&ir.HandlerError{
						Kind:       ir.HandlerKindMutation,
						Namespace:  ns,
						ActionType: actionType,
						Err:        &ir.PanicError{Value: r},
					})
				}
			}
		}()
		return fn(state, action)
	}
}
