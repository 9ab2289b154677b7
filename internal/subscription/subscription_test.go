package subscription

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/storeweave/internal/engine"
	"github.com/roach88/storeweave/internal/ir"
	"github.com/roach88/storeweave/internal/testutil"
)

func newCounterStore(t *testing.T) *engine.Store {
	t.Helper()
	rec := &ir.ModelRecord{
		Namespace:    "counter",
		InitialState: 0,
		Mutations: map[string]ir.ReducerFunc{
			"counter/add": func(state any, action ir.Action) any {
				return state.(int) + action.Payload.(int)
			},
		},
	}
	return engine.New(nil, engine.ComposeReducer(map[string]ir.ReducerFunc{
		"counter": engine.ModelReducer(rec, nil, nil),
	}, nil, nil, nil, nil))
}

func TestRun_InvokesEachOnceInOrder(t *testing.T) {
	s := newCounterStore(t)
	var order []string
	subs := map[string]ir.Subscription{
		"b": func(api ir.SubscriptionAPI, _ ir.ErrorFunc) func() {
			order = append(order, "b:"+api.Namespace())
			return nil
		},
		"a": func(api ir.SubscriptionAPI, _ ir.ErrorFunc) func() {
			order = append(order, "a:"+api.Namespace())
			return func() {}
		},
		"skipped": nil,
	}

	h := Run(subs, "counter", s, nil)

	assert.Equal(t, []string{"a:counter", "b:counter"}, order)
	assert.Equal(t, 1, h.Len(), "only returned teardowns are collected")
}

func TestRun_DispatchQualifiesBareTypes(t *testing.T) {
	s := newCounterStore(t)
	subs := map[string]ir.Subscription{
		"setup": func(api ir.SubscriptionAPI, _ ir.ErrorFunc) func() {
			api.Dispatch(ir.NewAction("add", 2))
			api.Dispatch(ir.NewAction("counter/add", 3))
			return nil
		},
	}

	Run(subs, "counter", s, nil)

	assert.Equal(t, 5, s.GetState()["counter"])
}

func TestRun_PanicAndReportedErrorsAreFunneled(t *testing.T) {
	s := newCounterStore(t)
	sink := &testutil.ErrorSink{}
	errReported := errors.New("socket closed")
	subs := map[string]ir.Subscription{
		"boom": func(ir.SubscriptionAPI, ir.ErrorFunc) func() { panic("boom") },
		"reporting": func(_ ir.SubscriptionAPI, onError ir.ErrorFunc) func() {
			onError(errReported)
			return nil
		},
	}

	var h *Handle
	require.NotPanics(t, func() { h = Run(subs, "counter", s, sink.Report) })
	assert.Equal(t, 0, h.Len())

	errs := sink.Errors()
	require.Len(t, errs, 2)
	for _, err := range errs {
		var he *ir.HandlerError
		require.ErrorAs(t, err, &he)
		assert.Equal(t, ir.HandlerKindSubscription, he.Kind)
		assert.Equal(t, "counter", he.Namespace)
	}
	assert.Contains(t, errs[0].Error(), `subscription "boom"`)
	assert.ErrorIs(t, errs[1], errReported)
}

func TestUnlisten_TearsDownAndDrops(t *testing.T) {
	s := newCounterStore(t)
	sink := &testutil.ErrorSink{}
	stopped := 0
	subs := map[string]ir.Subscription{
		"a": func(ir.SubscriptionAPI, ir.ErrorFunc) func() { return func() { stopped++ } },
		"b": func(ir.SubscriptionAPI, ir.ErrorFunc) func() { return func() { panic("teardown") } },
		"c": func(ir.SubscriptionAPI, ir.ErrorFunc) func() { return func() { stopped++ } },
	}

	handles := NewHandles()
	handles.Set(Run(subs, "counter", s, sink.Report))
	assert.True(t, handles.Has("counter"))
	assert.Equal(t, []string{"counter"}, handles.Namespaces())

	Unlisten(handles, "counter", sink.Report)

	assert.Equal(t, 2, stopped, "a panicking teardown does not stop the others")
	assert.False(t, handles.Has("counter"))
	assert.Equal(t, 1, sink.Len())

	Unlisten(handles, "counter", sink.Report)
	Unlisten(handles, "missing", sink.Report)
	assert.Equal(t, 2, stopped, "unlisten is idempotent")
}

func TestRun_StoreListenerTeardown(t *testing.T) {
	s := newCounterStore(t)
	calls := 0
	subs := map[string]ir.Subscription{
		"watch": func(api ir.SubscriptionAPI, _ ir.ErrorFunc) func() {
			return api.Subscribe(func() { calls++ })
		},
	}
	handles := NewHandles()
	handles.Set(Run(subs, "counter", s, nil))

	s.Dispatch(ir.NewAction("counter/add", 1))
	Unlisten(handles, "counter", nil)
	s.Dispatch(ir.NewAction("counter/add", 1))

	assert.Equal(t, 1, calls)
}

func TestEvery_DispatchesUntilTeardown(t *testing.T) {
	s := newCounterStore(t)
	handles := NewHandles()
	handles.Set(Run(map[string]ir.Subscription{
		"tick": Every(10*time.Millisecond, ir.NewAction("add", 1)),
	}, "counter", s, nil))

	require.Eventually(t, func() bool {
		return s.GetState()["counter"].(int) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	Unlisten(handles, "counter", nil)
	after := s.GetState()["counter"]
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, s.GetState()["counter"], "no dispatch after teardown")
}

func TestEvery_RejectsNonPositiveInterval(t *testing.T) {
	s := newCounterStore(t)
	sink := &testutil.ErrorSink{}

	h := Run(map[string]ir.Subscription{
		"tick": Every(0, ir.NewAction("add", 1)),
	}, "counter", s, sink.Report)

	assert.Equal(t, 0, h.Len())
	assert.Equal(t, 1, sink.Len())
}

func TestCron_InvalidSchedule(t *testing.T) {
	s := newCounterStore(t)
	sink := &testutil.ErrorSink{}

	h := Run(map[string]ir.Subscription{
		"nightly": Cron("not a schedule", ir.NewAction("add", 1)),
	}, "counter", s, sink.Report)

	assert.Equal(t, 0, h.Len())
	require.Equal(t, 1, sink.Len())
	assert.Contains(t, sink.Errors()[0].Error(), "not a schedule")
}

func TestCron_ValidScheduleIsTornDown(t *testing.T) {
	s := newCounterStore(t)
	sink := &testutil.ErrorSink{}
	handles := NewHandles()

	handles.Set(Run(map[string]ir.Subscription{
		"hourly": Cron("@hourly", ir.NewAction("add", 1)),
	}, "counter", s, sink.Report))

	assert.Equal(t, 0, sink.Len())
	assert.NotPanics(t, func() { Unlisten(handles, "counter", sink.Report) })
}

func TestOnChange(t *testing.T) {
	s := newCounterStore(t)
	var seen []any
	Run(map[string]ir.Subscription{
		"changes": OnChange(func(_ ir.SubscriptionAPI, slice any) { seen = append(seen, slice) }),
	}, "counter", s, nil)

	s.Dispatch(ir.NewAction("counter/add", 1))
	s.Dispatch(ir.NewAction("counter/add", 0))
	s.Dispatch(ir.NewAction("other/thing", nil))
	s.Dispatch(ir.NewAction("counter/add", 2))

	assert.Equal(t, []any{1, 3}, seen)
}
