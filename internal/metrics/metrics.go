// Package metrics instruments an App with Prometheus collectors.
//
// The collectors are installed as plugin hooks, so the runtime itself has
// no metrics dependency:
//
//	m, err := metrics.New(prometheus.NewRegistry())
//	a := app.New(app.WithHooks(m.Hooks()))
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/storeweave/internal/engine"
	"github.com/roach88/storeweave/internal/ir"
	"github.com/roach88/storeweave/internal/plugin"
	"github.com/roach88/storeweave/internal/saga"
)

const metricNamespace = "storeweave"

// Effect outcomes.
const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeCancelled = "cancelled"
)

// Collector holds the runtime's Prometheus metrics.
type Collector struct {
	actions          *prometheus.CounterVec   // By namespace
	dispatchDuration *prometheus.HistogramVec // By namespace
	errors           *prometheus.CounterVec   // By code
	effects          *prometheus.CounterVec   // By namespace, effect and outcome
	effectsRunning   *prometheus.GaugeVec     // By namespace
	slices           prometheus.Gauge

	now func() time.Time
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricNamespace,
			Subsystem: "store",
			Name:      "actions_total",
			Help:      "Total number of reduced actions",
		}, []string{"namespace"}),

		dispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricNamespace,
			Subsystem: "store",
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent in the dispatch chain, middleware included",
			Buckets:   []float64{0.00001, 0.0001, 0.001, 0.01, 0.1, 1},
		}, []string{"namespace"}),

		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricNamespace,
			Subsystem: "app",
			Name:      "errors_total",
			Help:      "Total number of errors delivered to the error funnel",
		}, []string{"code"}),

		effects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricNamespace,
			Subsystem: "saga",
			Name:      "effects_total",
			Help:      "Total number of finished effect runs",
		}, []string{"namespace", "effect", "outcome"}),

		effectsRunning: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricNamespace,
			Subsystem: "saga",
			Name:      "effects_running",
			Help:      "Number of effect runs in flight",
		}, []string{"namespace"}),

		slices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricNamespace,
			Subsystem: "store",
			Name:      "state_slices",
			Help:      "Number of namespaces in the current state",
		}),

		now: time.Now,
	}

	for _, col := range []prometheus.Collector{
		c.actions, c.dispatchDuration, c.errors, c.effects, c.effectsRunning, c.slices,
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Hooks returns the plugin hooks that feed the collectors.
func (c *Collector) Hooks() plugin.Hooks {
	return plugin.Hooks{
		OnError:       c.observeError,
		OnAction:      []engine.Middleware{c.middleware},
		OnEffect:      c.wrapEffect,
		OnStateChange: c.observeState,
	}
}

func (c *Collector) middleware(engine.API) func(engine.DispatchFunc) engine.DispatchFunc {
	return func(next engine.DispatchFunc) engine.DispatchFunc {
		return func(action ir.Action) ir.Action {
			start := c.now()
			reduced := next(action)
			if reduced.Seq() == 0 {
				return reduced
			}
			ns, _, _ := ir.SplitType(reduced.Type)
			c.actions.WithLabelValues(ns).Inc()
			c.dispatchDuration.WithLabelValues(ns).Observe(c.now().Sub(start).Seconds())
			return reduced
		}
	}
}

func (c *Collector) observeError(err error) {
	c.errors.WithLabelValues(string(ir.CodeOf(err))).Inc()
}

func (c *Collector) observeState(state ir.State) {
	c.slices.Set(float64(len(state)))
}

func (c *Collector) wrapEffect(next ir.EffectFunc, namespace, actionType string) ir.EffectFunc {
	_, effect, _ := ir.SplitType(actionType)
	return func(fx ir.Effects, action ir.Action) (err error) {
		running := c.effectsRunning.WithLabelValues(namespace)
		running.Inc()
		defer func() {
			running.Dec()
			if r := recover(); r != nil {
				c.effects.WithLabelValues(namespace, effect, OutcomeError).Inc()
				panic(r)
			}
			c.effects.WithLabelValues(namespace, effect, outcome(err)).Inc()
		}()
		return next(fx, action)
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case saga.IsCancelled(err):
		return OutcomeCancelled
	default:
		return OutcomeError
	}
}
