package saga

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/roach88/storeweave/internal/ir"
)

// task is a running effect body. It is both the ir.Task handle and the
// ir.Effects surface handed to the body.
type task struct {
	r       *Runner
	id      string
	scope   *scope
	name    string
	trigger ir.Action

	ctx    context.Context
	cancel context.CancelFunc

	done chan struct{}
	err  error
}

var (
	_ ir.Task    = (*task)(nil)
	_ ir.Effects = (*task)(nil)
)

func (t *task) ID() string {
	return t.id
}

func (t *task) Done() <-chan struct{} {
	return t.done
}

// Err returns the task's result once it is done, nil before.
func (t *task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

func (t *task) finish(err error) {
	t.err = err
	t.cancel()
	close(t.done)
}

func (t *task) running() bool {
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

func (t *task) Context() context.Context {
	return t.ctx
}

func (t *task) Namespace() string {
	return t.scope.ns
}

func (t *task) TaskID() string {
	return t.id
}

// checkpoint fails once the task has been cancelled.
func (t *task) checkpoint() error {
	if t.ctx.Err() != nil {
		return ErrCancelled
	}
	return nil
}

// suspend gives up the token while wait runs, then takes it back. A task
// cancelled while suspended resumes with ErrCancelled whatever wait
// returned.
func (t *task) suspend(wait func() error) error {
	if err := t.checkpoint(); err != nil {
		return err
	}

	t.r.release()
	err := wait()
	t.r.acquire()

	if cerr := t.checkpoint(); cerr != nil {
		return cerr
	}
	return err
}

func (t *task) qualify(patterns []string) []string {
	out := make([]string, len(patterns))
	for i, p := range patterns {
		out[i] = qualifyPattern(t.scope.ns, p)
	}
	return out
}

func (t *task) Take(patterns ...string) (ir.Action, error) {
	if len(patterns) == 0 {
		return ir.Action{}, errors.New("take: at least one pattern is required")
	}
	if err := t.checkpoint(); err != nil {
		return ir.Action{}, err
	}
	ch, err := t.r.subscribe(t.scope, t.qualify(patterns))
	if err != nil {
		return ir.Action{}, err
	}
	defer t.r.unsubscribe(ch)
	return t.receive(ch)
}

// receive takes the next action from an already subscribed channel.
func (t *task) receive(ch *channel) (ir.Action, error) {
	var got ir.Action
	err := t.suspend(func() error {
		a, err := ch.next(t.ctx)
		got = a
		return err
	})
	if err != nil {
		return ir.Action{}, err
	}
	return got, nil
}

func (t *task) Put(action ir.Action) error {
	if err := t.checkpoint(); err != nil {
		return err
	}
	if action.Type != "" && !strings.Contains(action.Type, ir.Separator) {
		action.Type = ir.Qualify(t.scope.ns, action.Type)
	}
	t.r.dispatch(action)
	return nil
}

func (t *task) Call(fn func(ctx context.Context) (any, error)) (any, error) {
	var v any
	err := t.suspend(func() error {
		var err error
		v, err = callSafely(t.ctx, fn)
		return err
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// callSafely runs fn, converting a panic into a *ir.PanicError.
func callSafely(ctx context.Context, fn func(ctx context.Context) (any, error)) (v any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &ir.PanicError{Value: rec}
		}
	}()
	return fn(ctx)
}

func (t *task) Delay(d time.Duration) error {
	return t.suspend(func() error {
		return sleep(t.ctx, d)
	})
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ErrCancelled
	case <-timer.C:
		return nil
	}
}

// opResult is the outcome of one Race or All operand.
type opResult struct {
	idx int
	val any
	err error
}

// startOps launches ops on their own goroutines under ctx. Take operands
// subscribe before startOps returns, so the caller can release the token
// without missing an action. The returned cleanup unsubscribes them.
func (t *task) startOps(ctx context.Context, ops []ir.Op) (<-chan opResult, func(), error) {
	results := make(chan opResult, len(ops))
	var subscribed []*channel
	cleanup := func() {
		for _, ch := range subscribed {
			t.r.unsubscribe(ch)
		}
	}

	runners := make([]func() (any, error), len(ops))
	for i, op := range ops {
		switch op := op.(type) {
		case ir.TakeOp:
			if len(op.Patterns) == 0 {
				cleanup()
				return nil, nil, errors.New("take: at least one pattern is required")
			}
			ch, err := t.r.subscribe(t.scope, t.qualify(op.Patterns))
			if err != nil {
				cleanup()
				return nil, nil, err
			}
			subscribed = append(subscribed, ch)
			runners[i] = func() (any, error) { return ch.next(ctx) }
		case ir.DelayOp:
			runners[i] = func() (any, error) { return nil, sleep(ctx, op.Duration) }
		case ir.CallOp:
			runners[i] = func() (any, error) { return callSafely(ctx, op.Fn) }
		default:
			cleanup()
			return nil, nil, errors.New("unsupported yield operation")
		}
	}

	for i, run := range runners {
		go func() {
			v, err := run()
			results <- opResult{idx: i, val: v, err: err}
		}()
	}
	return results, cleanup, nil
}

func (t *task) Race(ops ...ir.Op) (int, any, error) {
	if len(ops) == 0 {
		return -1, nil, errors.New("race: at least one operation is required")
	}
	if err := t.checkpoint(); err != nil {
		return -1, nil, err
	}

	ctx, cancel := context.WithCancel(t.ctx)
	defer cancel()
	results, cleanup, err := t.startOps(ctx, ops)
	if err != nil {
		return -1, nil, err
	}
	defer cleanup()

	var winner opResult
	err = t.suspend(func() error {
		winner = <-results
		cancel()
		return winner.err
	})
	if err != nil {
		return -1, nil, err
	}
	return winner.idx, winner.val, nil
}

func (t *task) All(ops ...ir.Op) ([]any, error) {
	if err := t.checkpoint(); err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		return []any{}, nil
	}

	ctx, cancel := context.WithCancel(t.ctx)
	defer cancel()
	results, cleanup, err := t.startOps(ctx, ops)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	values := make([]any, len(ops))
	err = t.suspend(func() error {
		for range ops {
			res := <-results
			if res.err != nil {
				cancel()
				return res.err
			}
			values[res.idx] = res.val
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return values, nil
}

// Fork starts a child task in the same namespace. The child is cancelled
// with its parent. Forking from a cancelled task returns a task that has
// already finished with ErrCancelled.
func (t *task) Fork(name string, fn func(fx ir.Effects) error) ir.Task {
	if err := t.checkpoint(); err != nil {
		return t.finished(name, err)
	}
	return t.r.start(t.scope, t.ctx, name, t.trigger, fn)
}

// finished returns a task handle that is already done with err.
func (t *task) finished(name string, err error) *task {
	ctx, cancel := context.WithCancel(t.ctx)
	child := &task{
		r:      t.r,
		id:     t.r.ids.Generate(),
		scope:  t.scope,
		name:   name,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	child.finish(err)
	return child
}

func (t *task) Join(child ir.Task) error {
	err := t.suspend(func() error {
		select {
		case <-child.Done():
			return nil
		case <-t.ctx.Done():
			return ErrCancelled
		}
	})
	if err != nil {
		return err
	}
	return child.Err()
}

func (t *task) Cancel(child ir.Task) {
	if c, ok := child.(*task); ok {
		c.cancel()
	}
}

func (t *task) Select() ir.State {
	return t.r.getState()
}

// Callback dispatches the callback-qualified action of the triggering
// action's Handler Group. The identifier is read from the trigger's
// Meta["callbacks"] when the action creator stamped one; otherwise it is
// derived from the trigger type.
func (t *task) Callback(name string, payload any) error {
	if err := t.checkpoint(); err != nil {
		return err
	}
	if t.trigger.Type == "" {
		return errors.New("callback: task has no triggering action")
	}
	return t.Put(ir.NewAction(callbackType(t.scope.ns, t.trigger, name), payload))
}

func callbackType(ns string, trigger ir.Action, name string) string {
	switch cbs := trigger.Meta[ir.MetaCallbacks].(type) {
	case map[string]string:
		if id, ok := cbs[name]; ok {
			return id
		}
	case map[string]any:
		if id, ok := cbs[name].(string); ok {
			return id
		}
	}
	_, base, _ := ir.SplitType(trigger.Type)
	return ir.QualifyWithCallback(ns, base, name)
}
