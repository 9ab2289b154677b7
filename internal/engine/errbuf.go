package engine

import (
	"sync"

	"github.com/roach88/storeweave/internal/ir"
)

// ErrorBuffer collects errors raised while the store mutex is held and
// hands them to the error funnel once the dispatch that caused them has
// released it. Slice reducers report through Report; the funnel may then
// dispatch without deadlocking.
type ErrorBuffer struct {
	mu      sync.Mutex
	pending []error
}

// NewErrorBuffer creates an empty buffer.
func NewErrorBuffer() *ErrorBuffer {
	return &ErrorBuffer{}
}

// Report queues err. Safe to call while the store mutex is held.
func (b *ErrorBuffer) Report(err error) {
	b.mu.Lock()
	b.pending = append(b.pending, err)
	b.mu.Unlock()
}

// Drain delivers every queued error to onError in report order.
func (b *ErrorBuffer) Drain(onError ir.ErrorFunc) {
	b.mu.Lock()
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()

	for _, err := range pending {
		onError(err)
	}
}

// Middleware drains the buffer after every dispatch. Install it outermost.
func (b *ErrorBuffer) Middleware(onError ir.ErrorFunc) Middleware {
	return func(API) func(DispatchFunc) DispatchFunc {
		return func(next DispatchFunc) DispatchFunc {
			return func(action ir.Action) ir.Action {
				reduced := next(action)
				b.Drain(onError)
				return reduced
			}
		}
	}
}
