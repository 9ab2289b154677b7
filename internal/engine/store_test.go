package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/storeweave/internal/ir"
)

func counterRecord(ns string) *ir.ModelRecord {
	return &ir.ModelRecord{
		Namespace:    ns,
		InitialState: 0,
		Mutations: map[string]ir.ReducerFunc{
			ns + "/increment": func(state any, _ ir.Action) any { return state.(int) + 1 },
			ns + "/boom":      func(any, ir.Action) any { panic("boom") },
		},
	}
}

type errorSink struct {
	mu   sync.Mutex
	errs []error
}

func (s *errorSink) report(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func (s *errorSink) all() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errs...)
}

func TestStore_InitMaterializesSlices(t *testing.T) {
	reducer := ComposeReducer(map[string]ir.ReducerFunc{
		"counter": ModelReducer(counterRecord("counter"), nil, nil),
	}, nil, nil, nil, nil)

	s := New(nil, reducer)

	assert.Equal(t, ir.State{"counter": 0}, s.GetState())
	assert.Equal(t, int64(1), s.Seq(), "init is the first reduced action")
}

func TestStore_CounterScenario(t *testing.T) {
	reducer := ComposeReducer(map[string]ir.ReducerFunc{
		"counter": ModelReducer(counterRecord("counter"), nil, nil),
	}, nil, nil, nil, nil)
	s := New(nil, reducer)

	s.Dispatch(ir.NewAction("counter/increment", nil))
	reduced := s.Dispatch(ir.NewAction("counter/increment", nil))

	assert.Equal(t, 2, s.GetState()["counter"])
	assert.Equal(t, int64(3), reduced.Seq())
}

func TestStore_InitialStateIsKept(t *testing.T) {
	reducer := ComposeReducer(map[string]ir.ReducerFunc{
		"counter": ModelReducer(counterRecord("counter"), nil, nil),
	}, nil, nil, nil, nil)

	s := New(ir.State{"counter": 10, "legacy": "kept"}, reducer)
	s.Dispatch(ir.NewAction("counter/increment", nil))

	assert.Equal(t, ir.State{"counter": 11, "legacy": "kept"}, s.GetState())
}

func TestStore_ReplaceReducer_MaterializesAndKeepsOrphans(t *testing.T) {
	static := map[string]ir.ReducerFunc{
		"a": ModelReducer(counterRecord("a"), nil, nil),
	}
	s := New(nil, ComposeReducer(static, nil, nil, nil, nil))
	s.Dispatch(ir.NewAction("a/increment", nil))

	async := map[string]ir.ReducerFunc{
		"b": ModelReducer(counterRecord("b"), nil, nil),
	}
	s.ReplaceReducer(ComposeReducer(static, async, nil, nil, nil))
	assert.Equal(t, ir.State{"a": 1, "b": 0}, s.GetState(), "replace materializes the new slice")

	delete(static, "a")
	s.ReplaceReducer(ComposeReducer(static, async, nil, nil, nil))
	s.Dispatch(ir.NewAction("a/increment", nil))
	s.Dispatch(ir.NewAction("b/increment", nil))

	assert.Equal(t, ir.State{"a": 1, "b": 1}, s.GetState(), "orphaned slice stays frozen")
}

func TestStore_MutationPanicKeepsState(t *testing.T) {
	sink := &errorSink{}
	buf := NewErrorBuffer()
	reducer := ComposeReducer(map[string]ir.ReducerFunc{
		"counter": ModelReducer(counterRecord("counter"), nil, buf.Report),
	}, nil, nil, nil, nil)
	s := New(nil, reducer, WithMiddleware(buf.Middleware(sink.report)))

	s.Dispatch(ir.NewAction("counter/increment", nil))
	assert.NotPanics(t, func() {
		s.Dispatch(ir.NewAction("counter/boom", nil))
	})

	assert.Equal(t, 1, s.GetState()["counter"])
	errs := sink.all()
	require.Len(t, errs, 1)

	var he *ir.HandlerError
	require.ErrorAs(t, errs[0], &he)
	assert.Equal(t, ir.HandlerKindMutation, he.Kind)
	assert.Equal(t, "counter", he.Namespace)
	assert.Equal(t, "counter/boom", he.ActionType)
}

func TestStore_CompositePanicKeepsState(t *testing.T) {
	sink := &errorSink{}
	armed := false
	reducer := func(state ir.State, action ir.Action) ir.State {
		if armed {
			panic("composite failure")
		}
		return ir.State{"x": action.Type}
	}

	s := New(nil, reducer, WithErrorHandler(sink.report))
	armed = true
	s.Dispatch(ir.NewAction("x/y", nil))

	assert.Equal(t, ir.State{"x": ir.ActionInit}, s.GetState())
	require.Len(t, sink.all(), 1)
	assert.True(t, ir.IsHandlerError(sink.all()[0]))
}

func TestStore_EmptyTypeRejected(t *testing.T) {
	sink := &errorSink{}
	s := New(nil, CombineReducers(nil), WithErrorHandler(sink.report))
	before := s.Seq()

	s.Dispatch(ir.Action{})

	assert.Equal(t, before, s.Seq())
	assert.Len(t, sink.all(), 1)
}

func TestStore_Subscribe(t *testing.T) {
	s := New(nil, CombineReducers(nil))

	calls := 0
	unsubscribe := s.Subscribe(func() { calls++ })

	s.Dispatch(ir.NewAction("x/a", nil))
	s.Dispatch(ir.NewAction("x/b", nil))
	unsubscribe()
	unsubscribe()
	s.Dispatch(ir.NewAction("x/c", nil))

	assert.Equal(t, 2, calls)
}

func TestStore_ListenerMayDispatch(t *testing.T) {
	reducer := ComposeReducer(map[string]ir.ReducerFunc{
		"counter": ModelReducer(counterRecord("counter"), nil, nil),
	}, nil, nil, nil, nil)
	s := New(nil, reducer)

	var once sync.Once
	s.Subscribe(func() {
		once.Do(func() { s.Dispatch(ir.NewAction("counter/increment", nil)) })
	})

	s.Dispatch(ir.NewAction("counter/increment", nil))
	assert.Equal(t, 2, s.GetState()["counter"])
}

func TestStore_ListenerPanicIsReported(t *testing.T) {
	sink := &errorSink{}
	s := New(nil, CombineReducers(nil), WithErrorHandler(sink.report))

	s.Subscribe(func() { panic("listener") })
	called := false
	s.Subscribe(func() { called = true })

	s.Dispatch(ir.NewAction("x/a", nil))

	assert.True(t, called, "later listeners still run")
	require.Len(t, sink.all(), 1)
	var he *ir.HandlerError
	require.ErrorAs(t, sink.all()[0], &he)
	assert.Equal(t, ir.HandlerKindListener, he.Kind)
}

func TestStore_MiddlewareOrder(t *testing.T) {
	var trace []string
	mw := func(name string) Middleware {
		return func(api API) func(DispatchFunc) DispatchFunc {
			return func(next DispatchFunc) DispatchFunc {
				return func(action ir.Action) ir.Action {
					trace = append(trace, name+">"+action.Type)
					reduced := next(action)
					trace = append(trace, name+"<"+action.Type)
					return reduced
				}
			}
		}
	}

	s := New(nil, CombineReducers(nil), WithMiddleware(mw("outer"), mw("inner")))
	trace = nil
	s.Dispatch(ir.NewAction("x/a", nil))

	assert.Equal(t, []string{"outer>x/a", "inner>x/a", "inner<x/a", "outer<x/a"}, trace)
}

func TestStore_MiddlewareSeesStampedAction(t *testing.T) {
	var seen int64
	mw := func(api API) func(DispatchFunc) DispatchFunc {
		return func(next DispatchFunc) DispatchFunc {
			return func(action ir.Action) ir.Action {
				reduced := next(action)
				seen = reduced.Seq()
				return reduced
			}
		}
	}

	s := New(nil, CombineReducers(nil), WithMiddleware(mw), WithSeqStart(41))
	assert.Equal(t, int64(42), seen, "init stamped after the resumed seq")

	s.Dispatch(ir.NewAction("x/a", nil))
	assert.Equal(t, int64(43), seen)
}

func TestStore_ConcurrentDispatchIsSerialized(t *testing.T) {
	reducer := ComposeReducer(map[string]ir.ReducerFunc{
		"counter": ModelReducer(counterRecord("counter"), nil, nil),
	}, nil, nil, nil, nil)
	s := New(nil, reducer)

	const goroutines = 20
	const perGoroutine = 50
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				s.Dispatch(ir.NewAction("counter/increment", nil))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, goroutines*perGoroutine, s.GetState()["counter"])
	assert.Equal(t, int64(goroutines*perGoroutine+1), s.Seq())
}

func TestStore_SeqStartsAtOffset(t *testing.T) {
	s := New(nil, CombineReducers(nil), WithSeqStart(100))
	assert.Equal(t, int64(101), s.Seq(), "init consumes the first seq")

	reduced := s.Dispatch(ir.NewAction("x/a", nil))
	assert.Equal(t, int64(102), reduced.Seq())
	assert.Equal(t, int64(102), s.Seq())
}

func TestChainStoreEnhancers_WrapCreation(t *testing.T) {
	assert.Nil(t, ChainStoreEnhancers())

	seed := func(next Creator) Creator {
		return func(initial ir.State, reducer Reducing, opts ...StoreOption) *Store {
			state := initial.Clone()
			state["seeded"] = true
			return next(state, reducer, opts...)
		}
	}
	resume := func(next Creator) Creator {
		return func(initial ir.State, reducer Reducing, opts ...StoreOption) *Store {
			return next(initial, reducer, append(opts, WithSeqStart(10))...)
		}
	}

	s := ChainStoreEnhancers(seed, resume)(New)(ir.State{"kept": 1}, CombineReducers(nil))
	assert.Equal(t, ir.State{"kept": 1, "seeded": true}, s.GetState())
	assert.Equal(t, int64(11), s.Seq())
}
