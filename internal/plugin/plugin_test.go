package plugin

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/storeweave/internal/engine"
	"github.com/roach88/storeweave/internal/ir"
)

func TestPlugin_Empty(t *testing.T) {
	p := New()

	assert.Empty(t, p.ErrorHandlers())
	assert.Empty(t, p.Middleware())
	assert.Empty(t, p.EffectHooks())
	assert.Nil(t, p.ReducerEnhancer())
	assert.Nil(t, p.StateListener(func() ir.State { return nil }))
	assert.Empty(t, p.ExtraReducers())
	assert.Nil(t, p.StoreEnhancer())
}

func TestPlugin_AccumulatesInOrder(t *testing.T) {
	var got []string
	p := New().
		Use(Hooks{OnError: func(error) { got = append(got, "first") }}).
		Use(Hooks{OnError: func(error) { got = append(got, "second") }})

	for _, fn := range p.ErrorHandlers() {
		fn(errors.New("x"))
	}
	assert.Equal(t, []string{"first", "second"}, got)
}

func TestPlugin_ExtraReducersLaterWins(t *testing.T) {
	one := func(any, ir.Action) any { return 1 }
	two := func(any, ir.Action) any { return 2 }

	p := New().
		Use(Hooks{ExtraReducers: map[string]ir.ReducerFunc{"a": one, "b": one}}).
		Use(Hooks{ExtraReducers: map[string]ir.ReducerFunc{"b": two}})

	extra := p.ExtraReducers()
	require.Len(t, extra, 2)
	assert.Equal(t, 1, extra["a"](nil, ir.Action{}))
	assert.Equal(t, 2, extra["b"](nil, ir.Action{}))
}

func TestPlugin_ReducerEnhancerChain(t *testing.T) {
	tag := func(key string) engine.Enhancer {
		return func(next engine.Reducing) engine.Reducing {
			return func(state ir.State, action ir.Action) ir.State {
				out := next(state, action)
				out[key] = len(out)
				return out
			}
		}
	}
	p := New().Use(Hooks{OnReducer: tag("outer")}).Use(Hooks{OnReducer: tag("inner")})

	r := p.ReducerEnhancer()(engine.CombineReducers(nil))
	got := r(nil, ir.NewAction("x/y", nil))

	assert.Equal(t, ir.State{"inner": 0, "outer": 1}, got, "the first hook wraps the second")
}

func TestPlugin_StateListener(t *testing.T) {
	var seen []ir.State
	p := New().Use(Hooks{OnStateChange: func(s ir.State) { seen = append(seen, s) }})

	listener := p.StateListener(func() ir.State { return ir.State{"n": 1} })
	require.NotNil(t, listener)
	listener()

	assert.Equal(t, []ir.State{{"n": 1}}, seen)
}

func TestPlugin_CopiesAreIndependent(t *testing.T) {
	p := New().Use(Hooks{OnAction: []engine.Middleware{nil, func(engine.API) func(engine.DispatchFunc) engine.DispatchFunc {
		return func(next engine.DispatchFunc) engine.DispatchFunc { return next }
	}}})

	mws := p.Middleware()
	require.Len(t, mws, 1, "nil middleware is skipped")
	mws[0] = nil
	assert.NotNil(t, p.Middleware()[0])
}

func TestPlugin_StoreEnhancerChain(t *testing.T) {
	var order []string
	tag := func(name string) engine.StoreEnhancer {
		return func(next engine.Creator) engine.Creator {
			return func(initial ir.State, reducer engine.Reducing, opts ...engine.StoreOption) *engine.Store {
				order = append(order, name)
				return next(initial, reducer, opts...)
			}
		}
	}

	p := New().
		Use(Hooks{ExtraEnhancers: []engine.StoreEnhancer{tag("first"), nil}}).
		Use(Hooks{ExtraEnhancers: []engine.StoreEnhancer{tag("second")}})

	create := p.StoreEnhancer()(engine.New)
	store := create(ir.State{"seed": 1}, engine.CombineReducers(nil))

	assert.Equal(t, []string{"first", "second"}, order)
	assert.Equal(t, 1, store.GetState()["seed"])
}
