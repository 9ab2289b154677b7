package saga

import (
	"fmt"

	"github.com/roach88/storeweave/internal/ir"
)

// watch starts the watcher task of one effect. Except for PolicyWatcher,
// the watcher subscribes to actionType here, before its goroutine runs.
func (r *Runner) watch(sc *scope, actionType string, h ir.EffectHandler) error {
	runEffect := func(fx ir.Effects) error {
		return h.Fn(fx, fx.(*task).trigger)
	}

	if h.Policy == ir.PolicyWatcher {
		r.start(sc, sc.ctx, actionType, ir.NewAction(actionType, nil), runEffect)
		return nil
	}

	ch, err := r.subscribe(sc, []string{actionType})
	if err != nil {
		return err
	}

	var loop func(w *task) error
	switch h.Policy {
	case ir.PolicyEvery:
		loop = func(w *task) error {
			for {
				a, err := w.receive(ch)
				if err != nil {
					return err
				}
				w.forkEffect(actionType, a, runEffect)
			}
		}
	case ir.PolicyLatest:
		loop = func(w *task) error {
			var last *task
			for {
				a, err := w.receive(ch)
				if err != nil {
					return err
				}
				if last != nil && last.running() {
					last.cancel()
				}
				last = w.forkEffect(actionType, a, runEffect)
			}
		}
	case ir.PolicyLeading:
		loop = leading(ch, actionType, runEffect)
	case ir.PolicySerial:
		loop = func(w *task) error {
			for {
				a, err := w.receive(ch)
				if err != nil {
					return err
				}
				// Invocation errors are funneled by the invocation itself.
				_ = w.Join(w.forkEffect(actionType, a, runEffect))
				if err := w.checkpoint(); err != nil {
					return err
				}
			}
		}
	case ir.PolicyThrottle:
		if h.Interval <= 0 {
			loop = leading(ch, actionType, runEffect)
			break
		}
		loop = func(w *task) error {
			for {
				a, err := w.receive(ch)
				if err != nil {
					return err
				}
				w.forkEffect(actionType, a, runEffect)
				if err := w.Delay(h.Interval); err != nil {
					return err
				}
				ch.q.KeepLast()
			}
		}
	default:
		r.unsubscribe(ch)
		return fmt.Errorf("effect %q: unknown policy %q", actionType, h.Policy)
	}

	r.start(sc, sc.ctx, "watch:"+actionType, ir.Action{}, func(fx ir.Effects) error {
		w := fx.(*task)
		defer r.unsubscribe(ch)
		return loop(w)
	})
	return nil
}

// leading drops triggers that arrive while the previous invocation runs.
func leading(ch *channel, actionType string, runEffect func(ir.Effects) error) func(w *task) error {
	return func(w *task) error {
		var cur *task
		for {
			a, err := w.receive(ch)
			if err != nil {
				return err
			}
			if cur != nil && cur.running() {
				w.r.logger.Debug("trigger dropped while effect runs",
					"namespace", w.scope.ns, "action_type", actionType, "task_id", cur.id)
				continue
			}
			cur = w.forkEffect(actionType, a, runEffect)
		}
	}
}

// forkEffect starts one invocation of an effect as a child of the watcher.
func (t *task) forkEffect(actionType string, trigger ir.Action, runEffect func(ir.Effects) error) *task {
	return t.r.start(t.scope, t.ctx, actionType, trigger, runEffect)
}
