package subscription

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/roach88/storeweave/internal/ir"
)

// Cron builds a subscription that dispatches action on a cron schedule
// ("*/5 * * * *", "@hourly", "@every 30s"). A bare action type is
// qualified with the model's namespace. The teardown stops the scheduler
// and waits for a running dispatch to finish.
func Cron(schedule string, action ir.Action) ir.Subscription {
	return func(api ir.SubscriptionAPI, onError ir.ErrorFunc) func() {
		c := cron.New()
		if _, err := c.AddFunc(schedule, func() { api.Dispatch(action) }); err != nil {
			onError(fmt.Errorf("cron schedule %q: %w", schedule, err))
			return nil
		}
		c.Start()
		return func() {
			<-c.Stop().Done()
		}
	}
}

// Every builds a subscription that dispatches action every d.
func Every(d time.Duration, action ir.Action) ir.Subscription {
	return func(api ir.SubscriptionAPI, onError ir.ErrorFunc) func() {
		if d <= 0 {
			onError(fmt.Errorf("interval must be positive, got %s", d))
			return nil
		}
		c := cron.New()
		c.Schedule(cron.Every(d), cron.FuncJob(func() { api.Dispatch(action) }))
		c.Start()
		return func() {
			<-c.Stop().Done()
		}
	}
}

// OnChange builds a subscription that calls fn with the namespace's slice
// state whenever it changes identity after a dispatch. Comparison uses the
// slice as returned by GetState, so reducers that return the same value
// do not trigger fn.
func OnChange(fn func(api ir.SubscriptionAPI, slice any)) ir.Subscription {
	return func(api ir.SubscriptionAPI, _ ir.ErrorFunc) func() {
		var mu sync.Mutex
		last := api.GetState()[api.Namespace()]
		return api.Subscribe(func() {
			cur := api.GetState()[api.Namespace()]
			mu.Lock()
			diff := changed(last, cur)
			last = cur
			mu.Unlock()
			if diff {
				fn(api, cur)
			}
		})
	}
}

// changed compares slice states; values that cannot be compared with ==
// (maps, slices) always count as changed.
func changed(a, b any) (diff bool) {
	defer func() {
		if recover() != nil {
			diff = true
		}
	}()
	return a != b
}
