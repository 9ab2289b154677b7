package saga

import (
	"sync"

	"github.com/roach88/storeweave/internal/ir"
)

// actionQueue is a thread-safe FIFO queue of dispatched actions feeding one
// take channel.
//
// The queue is unbounded so the dispatch path never blocks on a slow task:
// the runner middleware enqueues while holding no lock other than the
// queue's own.
//
// The queue uses a channel for signaling to enable context-aware waiting
// (a task blocked in Take must still observe cancellation).
type actionQueue struct {
	mu      sync.Mutex
	actions []ir.Action
	closed  bool
	signal  chan struct{} // Signals action availability (buffered, size 1)
}

// newActionQueue creates an empty action queue.
func newActionQueue() *actionQueue {
	return &actionQueue{
		actions: make([]ir.Action, 0, 8),
		signal:  make(chan struct{}, 1),
	}
}

// Enqueue adds an action to the back of the queue.
// Thread-safe: may be called from any goroutine.
// Returns false if the queue is closed.
func (q *actionQueue) Enqueue(a ir.Action) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.actions = append(q.actions, a)

	// Signal availability (non-blocking - buffer of 1 coalesces multiple signals)
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue attempts to dequeue without blocking.
// Returns (ir.Action{}, false) if queue is empty.
func (q *actionQueue) TryDequeue() (ir.Action, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.actions) == 0 {
		return ir.Action{}, false
	}

	a := q.actions[0]

	// Nil out the slot so the payload can be collected.
	q.actions[0] = ir.Action{}

	if len(q.actions) == 1 {
		q.actions = q.actions[:0]
	} else {
		q.actions = q.actions[1:]
	}

	return a, true
}

// KeepLast drops every queued action except the most recent one.
// Used by throttled watchers, which only care about the latest trigger
// that arrived while they were waiting out the interval.
func (q *actionQueue) KeepLast() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n := len(q.actions); n > 1 {
		last := q.actions[n-1]
		clear(q.actions)
		q.actions = append(q.actions[:0], last)
	}
}

// Wait returns a channel that signals when actions may be available.
// Use with select for context-aware waiting:
//
//	select {
//	case <-ctx.Done():
//	    return ctx.Err()
//	case <-q.Wait():
//	    // Try TryDequeue
//	}
func (q *actionQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *actionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.actions)
}

// Closed reports whether Close has been called.
func (q *actionQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close signals that no more actions will be enqueued.
// Wakes any blocked waiters by closing the signal channel.
func (q *actionQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
