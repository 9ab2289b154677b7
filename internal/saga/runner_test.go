package saga

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/storeweave/internal/engine"
	"github.com/roach88/storeweave/internal/ir"
)

const eventually = 2 * time.Second
const tick = 5 * time.Millisecond

var errBoom = errors.New("boom")

// recorder captures funneled errors and reduced action types.
type recorder struct {
	mu      sync.Mutex
	errs    []error
	actions []string
}

func (rc *recorder) report(err error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.errs = append(rc.errs, err)
}

func (rc *recorder) errors() []error {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return append([]error(nil), rc.errs...)
}

func (rc *recorder) seen() []string {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return append([]string(nil), rc.actions...)
}

func (rc *recorder) count(actionType string) int {
	n := 0
	for _, a := range rc.seen() {
		if a == actionType {
			n++
		}
	}
	return n
}

func (rc *recorder) middleware() engine.Middleware {
	return func(engine.API) func(engine.DispatchFunc) engine.DispatchFunc {
		return func(next engine.DispatchFunc) engine.DispatchFunc {
			return func(action ir.Action) ir.Action {
				reduced := next(action)
				rc.mu.Lock()
				rc.actions = append(rc.actions, reduced.Type)
				rc.mu.Unlock()
				return reduced
			}
		}
	}
}

// logBuffer is a goroutine-safe log sink.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func counterRecord(effects map[string]ir.EffectHandler) *ir.ModelRecord {
	return &ir.ModelRecord{
		Namespace:    "counter",
		InitialState: 0,
		Mutations: map[string]ir.ReducerFunc{
			"counter/add": func(state any, action ir.Action) any {
				return state.(int) + action.Payload.(int)
			},
		},
		Effects: effects,
	}
}

// newFixture wires a runner into a store holding the counter model's
// reducer. The runner is closed when the test ends.
func newFixture(t *testing.T, rec *ir.ModelRecord, opts ...Option) (*Runner, *engine.Store, *recorder) {
	t.Helper()

	rc := &recorder{}
	opts = append([]Option{
		WithErrorHandler(rc.report),
		WithIDGenerator(NewFixedGenerator("task")),
	}, opts...)
	r := New(opts...)

	reducer := engine.ComposeReducer(map[string]ir.ReducerFunc{
		rec.Namespace: engine.ModelReducer(rec, nil, rc.report),
	}, nil, nil, nil, nil)
	s := engine.New(nil, reducer, engine.WithMiddleware(rc.middleware(), r.Middleware()))

	t.Cleanup(func() {
		r.Close()
		ctx, cancel := context.WithTimeout(context.Background(), eventually)
		defer cancel()
		assert.NoError(t, r.Wait(ctx), "tasks did not stop after Close")
	})
	return r, s, rc
}

func TestRunner_NotBound(t *testing.T) {
	r := New()
	_, err := r.Spawn("counter", "job", func(ir.Effects) error { return nil })
	assert.ErrorIs(t, err, ErrNotBound)
	assert.ErrorIs(t, r.Start(counterRecord(map[string]ir.EffectHandler{
		"counter/fetch": {Fn: func(ir.Effects, ir.Action) error { return nil }},
	})), ErrNotBound)
}

func TestRunner_EveryPolicy_PutUpdatesState(t *testing.T) {
	rec := counterRecord(map[string]ir.EffectHandler{
		"counter/fetch": {Policy: ir.PolicyEvery, Fn: func(fx ir.Effects, action ir.Action) error {
			v, err := fx.Call(func(context.Context) (any, error) { return action.Payload, nil })
			if err != nil {
				return err
			}
			return fx.Put(ir.NewAction("add", v))
		}},
	})
	r, s, rc := newFixture(t, rec)
	require.NoError(t, r.Start(rec))

	for i := 1; i <= 3; i++ {
		s.Dispatch(ir.NewAction("counter/fetch", i))
	}

	require.Eventually(t, func() bool { return s.GetState()["counter"] == 6 }, eventually, tick)
	assert.Equal(t, 3, rc.count("counter/add"), "bare put type is qualified with the namespace")
	assert.Empty(t, rc.errors())
}

func TestRunner_CallbackDispatchesQualifiedAction(t *testing.T) {
	rec := counterRecord(map[string]ir.EffectHandler{
		"counter/fetch": {Policy: ir.PolicyEvery, Fn: func(fx ir.Effects, action ir.Action) error {
			return fx.Callback("succeed", action.Payload)
		}},
	})
	r, s, rc := newFixture(t, rec)
	require.NoError(t, r.Start(rec))

	s.Dispatch(ir.NewAction("counter/fetch", 1))
	s.Dispatch(ir.NewAction("counter/fetch", 2).WithMeta(ir.MetaCallbacks, map[string]string{
		"succeed": "counter/custom",
	}))

	require.Eventually(t, func() bool {
		return rc.count("counter/fetchSucceed") == 1 && rc.count("counter/custom") == 1
	}, eventually, tick)
}

func TestRunner_CancelMidSuspension(t *testing.T) {
	suspended := make(chan struct{})
	result := make(chan error, 1)
	rec := counterRecord(map[string]ir.EffectHandler{
		"counter/fetch": {Policy: ir.PolicyEvery, Fn: func(fx ir.Effects, _ ir.Action) error {
			_, _, err := fx.Race(ir.TakeAny("never"), ir.Invoke(func(ctx context.Context) (any, error) {
				close(suspended)
				<-ctx.Done()
				return nil, ctx.Err()
			}))
			result <- err
			return err
		}},
	})
	r, s, rc := newFixture(t, rec)
	require.NoError(t, r.Start(rec))

	s.Dispatch(ir.NewAction("counter/fetch", nil))
	<-suspended
	s.Dispatch(ir.NewAction(ir.CancelType("counter"), nil))

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrCancelled)
		assert.True(t, IsCancelled(err))
	case <-time.After(eventually):
		t.Fatal("task did not observe cancellation")
	}

	require.Eventually(t, func() bool { return r.Running() == 0 }, eventually, tick, "watcher stops too")
	assert.Empty(t, rc.errors(), "cancellation is not funneled")
}

func TestRunner_RestartAfterCancel(t *testing.T) {
	rec := counterRecord(map[string]ir.EffectHandler{
		"counter/fetch": {Policy: ir.PolicyEvery, Fn: func(fx ir.Effects, _ ir.Action) error {
			return fx.Put(ir.NewAction("add", 1))
		}},
	})
	r, s, _ := newFixture(t, rec)
	require.NoError(t, r.Start(rec))

	r.CancelNamespace("counter")
	require.Eventually(t, func() bool { return r.Running() == 0 }, eventually, tick)

	s.Dispatch(ir.NewAction("counter/fetch", nil))
	require.NoError(t, r.Start(rec))
	s.Dispatch(ir.NewAction("counter/fetch", nil))

	require.Eventually(t, func() bool { return s.GetState()["counter"] == 1 }, eventually, tick)
}

func TestRunner_FailedEffectIsFunneled(t *testing.T) {
	rec := counterRecord(map[string]ir.EffectHandler{
		"counter/fetch": {Fn: func(ir.Effects, ir.Action) error { return errBoom }},
	})
	r, s, rc := newFixture(t, rec)
	require.NoError(t, r.Start(rec))

	s.Dispatch(ir.NewAction("counter/fetch", nil))

	require.Eventually(t, func() bool { return len(rc.errors()) == 1 }, eventually, tick)
	var rej *ir.UnresolvedEffectRejection
	require.ErrorAs(t, rc.errors()[0], &rej)
	assert.Equal(t, "counter", rej.Namespace)
	assert.Equal(t, "counter/fetch", rej.Effect)
	assert.Equal(t, "task-2", rej.TaskID, "task-1 is the watcher")
	assert.ErrorIs(t, rej, errBoom)

	// the watcher survives a failed invocation
	s.Dispatch(ir.NewAction("counter/fetch", nil))
	require.Eventually(t, func() bool { return len(rc.errors()) == 2 }, eventually, tick)
}

func TestRunner_PanickingEffectIsFunneled(t *testing.T) {
	rec := counterRecord(map[string]ir.EffectHandler{
		"counter/fetch": {Fn: func(ir.Effects, ir.Action) error { panic("kaboom") }},
	})
	r, s, rc := newFixture(t, rec)
	require.NoError(t, r.Start(rec))

	s.Dispatch(ir.NewAction("counter/fetch", nil))

	require.Eventually(t, func() bool { return len(rc.errors()) == 1 }, eventually, tick)
	var he *ir.HandlerError
	require.ErrorAs(t, rc.errors()[0], &he)
	assert.Equal(t, ir.HandlerKindEffect, he.Kind)
	assert.Equal(t, "counter/fetch", he.ActionType)

	var pe *ir.PanicError
	require.ErrorAs(t, he, &pe)
	assert.Equal(t, "kaboom", pe.Value)
}

func TestRunner_PanicInsideCallKeepsRunnerUsable(t *testing.T) {
	rec := counterRecord(map[string]ir.EffectHandler{
		"counter/fetch": {Fn: func(fx ir.Effects, action ir.Action) error {
			if action.Payload == "panic" {
				_, err := fx.Call(func(context.Context) (any, error) { panic("in call") })
				return err
			}
			return fx.Put(ir.NewAction("add", 1))
		}},
	})
	r, s, rc := newFixture(t, rec)
	require.NoError(t, r.Start(rec))

	s.Dispatch(ir.NewAction("counter/fetch", "panic"))
	require.Eventually(t, func() bool { return len(rc.errors()) == 1 }, eventually, tick)
	s.Dispatch(ir.NewAction("counter/fetch", nil))
	require.Eventually(t, func() bool { return s.GetState()["counter"] == 1 }, eventually, tick)
}

func TestRunner_LatestPolicyCancelsPrevious(t *testing.T) {
	started := make(chan int, 2)
	results := make(chan error, 2)
	rec := counterRecord(map[string]ir.EffectHandler{
		"counter/fetch": {Policy: ir.PolicyLatest, Fn: func(fx ir.Effects, action ir.Action) error {
			started <- action.Payload.(int)
			err := fx.Delay(50 * time.Millisecond)
			results <- err
			if err != nil {
				return err
			}
			return fx.Put(ir.NewAction("add", action.Payload))
		}},
	})
	r, s, rc := newFixture(t, rec)
	require.NoError(t, r.Start(rec))

	s.Dispatch(ir.NewAction("counter/fetch", 1))
	assert.Equal(t, 1, <-started)
	s.Dispatch(ir.NewAction("counter/fetch", 2))
	assert.Equal(t, 2, <-started)

	assert.ErrorIs(t, <-results, ErrCancelled)
	assert.NoError(t, <-results)
	require.Eventually(t, func() bool { return s.GetState()["counter"] == 2 }, eventually, tick)
	assert.Empty(t, rc.errors())
}

func TestRunner_LeadingPolicyDropsWhileRunning(t *testing.T) {
	logs := &logBuffer{}
	logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	started := make(chan struct{}, 2)
	rec := counterRecord(map[string]ir.EffectHandler{
		"counter/fetch": {Policy: ir.PolicyLeading, Fn: func(fx ir.Effects, _ ir.Action) error {
			started <- struct{}{}
			if _, err := fx.Take("release"); err != nil {
				return err
			}
			return fx.Put(ir.NewAction("add", 1))
		}},
	})
	r, s, _ := newFixture(t, rec, WithLogger(logger))
	require.NoError(t, r.Start(rec))

	s.Dispatch(ir.NewAction("counter/fetch", nil))
	<-started
	s.Dispatch(ir.NewAction("counter/fetch", nil))
	require.Eventually(t, func() bool {
		return strings.Contains(logs.String(), "trigger dropped while effect runs")
	}, eventually, tick)

	s.Dispatch(ir.NewAction("counter/release", nil))
	require.Eventually(t, func() bool { return s.GetState()["counter"] == 1 }, eventually, tick)
	assert.Len(t, started, 0, "the dropped trigger never started an invocation")
}

func TestRunner_SerialPolicyRunsOneAtATime(t *testing.T) {
	var mu sync.Mutex
	var trace []string
	record := func(s string) {
		mu.Lock()
		defer mu.Unlock()
		trace = append(trace, s)
	}

	rec := counterRecord(map[string]ir.EffectHandler{
		"counter/fetch": {Policy: ir.PolicySerial, Fn: func(fx ir.Effects, action ir.Action) error {
			record("start:" + action.Payload.(string))
			if err := fx.Delay(5 * time.Millisecond); err != nil {
				return err
			}
			record("end:" + action.Payload.(string))
			return nil
		}},
	})
	r, s, _ := newFixture(t, rec)
	require.NoError(t, r.Start(rec))

	for _, p := range []string{"a", "b", "c"} {
		s.Dispatch(ir.NewAction("counter/fetch", p))
	}

	want := []string{"start:a", "end:a", "start:b", "end:b", "start:c", "end:c"}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(trace) == len(want)
	}, eventually, tick)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, trace)
}

func TestRunner_ThrottlePolicyKeepsLatest(t *testing.T) {
	var mu sync.Mutex
	var seen []int
	rec := counterRecord(map[string]ir.EffectHandler{
		"counter/fetch": {Policy: ir.PolicyThrottle, Interval: 100 * time.Millisecond, Fn: func(_ ir.Effects, action ir.Action) error {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, action.Payload.(int))
			return nil
		}},
	})
	r, s, _ := newFixture(t, rec)
	require.NoError(t, r.Start(rec))

	for i := 1; i <= 5; i++ {
		s.Dispatch(ir.NewAction("counter/fetch", i))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, eventually, tick)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 5}, seen)
}

func TestRunner_WatcherPolicyRunsAtStart(t *testing.T) {
	rec := counterRecord(map[string]ir.EffectHandler{
		"counter/boot": {Policy: ir.PolicyWatcher, Fn: func(fx ir.Effects, action ir.Action) error {
			if action.Type != "counter/boot" {
				return errors.New("unexpected trigger " + action.Type)
			}
			return fx.Put(ir.NewAction("add", 10))
		}},
	})
	r, s, rc := newFixture(t, rec)
	require.NoError(t, r.Start(rec))

	require.Eventually(t, func() bool { return s.GetState()["counter"] == 10 }, eventually, tick)
	assert.Empty(t, rc.errors())
}

func TestRunner_EffectHooksWrapInOrder(t *testing.T) {
	var mu sync.Mutex
	var trace []string
	hook := func(name string) EffectHook {
		return func(next ir.EffectFunc, ns, actionType string) ir.EffectFunc {
			return func(fx ir.Effects, action ir.Action) error {
				mu.Lock()
				trace = append(trace, name+":"+ns+":"+actionType)
				mu.Unlock()
				return next(fx, action)
			}
		}
	}

	done := make(chan struct{})
	rec := counterRecord(map[string]ir.EffectHandler{
		"counter/fetch": {Fn: func(ir.Effects, ir.Action) error {
			close(done)
			return nil
		}},
	})
	r, s, _ := newFixture(t, rec, WithEffectHooks(hook("outer"), hook("inner")))
	require.NoError(t, r.Start(rec))

	s.Dispatch(ir.NewAction("counter/fetch", nil))
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"outer:counter:counter/fetch", "inner:counter:counter/fetch"}, trace)
}

func TestRunner_ForkJoin(t *testing.T) {
	rec := counterRecord(nil)
	r, _, rc := newFixture(t, rec)

	result := make(chan error, 1)
	_, err := r.Spawn("counter", "parent", func(fx ir.Effects) error {
		ok := fx.Fork("ok", func(fx ir.Effects) error { return fx.Delay(time.Millisecond) })
		bad := fx.Fork("bad", func(ir.Effects) error { return errBoom })
		if err := fx.Join(ok); err != nil {
			return err
		}
		err := fx.Join(bad)
		result <- err
		return nil
	})
	require.NoError(t, err)

	assert.ErrorIs(t, <-result, errBoom)
	require.Eventually(t, func() bool { return len(rc.errors()) == 1 }, eventually, tick)

	var rej *ir.UnresolvedEffectRejection
	require.ErrorAs(t, rc.errors()[0], &rej)
	assert.Equal(t, "bad", rej.Effect, "forked failures are funneled by the child")
}

func TestRunner_CancelForkedTask(t *testing.T) {
	rec := counterRecord(nil)
	r, _, rc := newFixture(t, rec)

	result := make(chan error, 1)
	_, err := r.Spawn("counter", "parent", func(fx ir.Effects) error {
		child := fx.Fork("sleeper", func(fx ir.Effects) error { return fx.Delay(time.Hour) })
		fx.Cancel(child)
		result <- fx.Join(child)
		return nil
	})
	require.NoError(t, err)

	assert.ErrorIs(t, <-result, ErrCancelled)
	assert.Empty(t, rc.errors())
}

func TestRunner_RaceTakeWins(t *testing.T) {
	rec := counterRecord(nil)
	r, s, _ := newFixture(t, rec)

	ready := make(chan struct{})
	type outcome struct {
		idx int
		val any
		err error
	}
	result := make(chan outcome, 1)
	_, err := r.Spawn("counter", "racer", func(fx ir.Effects) error {
		idx, val, err := fx.Race(
			ir.TakeAny("go"),
			ir.After(time.Hour),
			ir.Invoke(func(ctx context.Context) (any, error) {
				close(ready)
				<-ctx.Done()
				return nil, ctx.Err()
			}),
		)
		result <- outcome{idx, val, err}
		return err
	})
	require.NoError(t, err)

	<-ready
	s.Dispatch(ir.NewAction("counter/go", "payload"))

	got := <-result
	require.NoError(t, got.err)
	assert.Equal(t, 0, got.idx)
	assert.Equal(t, "payload", got.val.(ir.Action).Payload)
}

func TestRunner_RaceTimeout(t *testing.T) {
	rec := counterRecord(nil)
	r, _, _ := newFixture(t, rec)

	result := make(chan int, 1)
	_, err := r.Spawn("counter", "racer", func(fx ir.Effects) error {
		idx, _, err := fx.Race(ir.TakeAny("never"), ir.After(time.Millisecond))
		result <- idx
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, <-result)
}

func TestRunner_All(t *testing.T) {
	rec := counterRecord(nil)
	r, _, rc := newFixture(t, rec)

	values := make(chan []any, 1)
	failure := make(chan error, 1)
	_, err := r.Spawn("counter", "gather", func(fx ir.Effects) error {
		v, err := fx.All(
			ir.Invoke(func(context.Context) (any, error) { return 1, nil }),
			ir.Invoke(func(context.Context) (any, error) { return 2, nil }),
			ir.After(time.Millisecond),
		)
		if err != nil {
			return err
		}
		values <- v

		_, err = fx.All(
			ir.Invoke(func(context.Context) (any, error) { return nil, errBoom }),
			ir.After(time.Hour),
		)
		failure <- err
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []any{1, 2, nil}, <-values)
	assert.ErrorIs(t, <-failure, errBoom)
	assert.Empty(t, rc.errors())
}

func TestRunner_SelectReadsState(t *testing.T) {
	rec := counterRecord(nil)
	r, s, _ := newFixture(t, rec)
	s.Dispatch(ir.NewAction("counter/add", 4))

	got := make(chan any, 1)
	_, err := r.Spawn("counter", "reader", func(fx ir.Effects) error {
		got <- fx.Select()["counter"]
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 4, <-got)
}

func TestRunner_TasksNeverInterleaveBetweenYields(t *testing.T) {
	rec := counterRecord(nil)
	r, _, _ := newFixture(t, rec)

	// inside is only touched while holding the runner token.
	inside := 0
	violations := 0
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		_, err := r.Spawn("counter", "worker", func(fx ir.Effects) error {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				inside++
				if inside != 1 {
					violations++
				}
				time.Sleep(10 * time.Microsecond)
				inside--
				if err := fx.Delay(0); err != nil {
					return err
				}
			}
			return nil
		})
		require.NoError(t, err)
	}
	wg.Wait()

	assert.Zero(t, violations)
}

func TestRunner_Close(t *testing.T) {
	rec := counterRecord(nil)
	r, _, rc := newFixture(t, rec)

	result := make(chan error, 1)
	_, err := r.Spawn("counter", "sleeper", func(fx ir.Effects) error {
		err := fx.Delay(time.Hour)
		result <- err
		return err
	})
	require.NoError(t, err)

	r.Close()
	assert.ErrorIs(t, <-result, ErrCancelled)

	_, err = r.Spawn("counter", "late", func(ir.Effects) error { return nil })
	assert.ErrorIs(t, err, ErrClosed)
	assert.Empty(t, rc.errors())
}

func TestRunner_PutAfterCancelFails(t *testing.T) {
	rec := counterRecord(nil)
	r, s, _ := newFixture(t, rec)

	result := make(chan error, 1)
	_, err := r.Spawn("counter", "job", func(fx ir.Effects) error {
		_, _ = fx.Take("stop")
		result <- fx.Put(ir.NewAction("add", 1))
		return nil
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return r.Running() == 1 }, eventually, tick)
	r.CancelNamespace("counter")

	assert.ErrorIs(t, <-result, ErrCancelled)
	assert.Equal(t, 0, s.GetState()["counter"])
}
