package ir

import (
	"context"
	"time"
)

// Effects is the yield-point surface handed to every effect.
//
// Take, Call, Delay, Race, All and Join suspend the calling task and let
// other tasks run. Put, Fork, Cancel, Select and Callback do not suspend but
// still observe cancellation: once the task's namespace has been cancelled,
// every method returns an error wrapping context.Canceled.
type Effects interface {
	// Context is cancelled when the task is cancelled.
	Context() context.Context

	// Namespace is the namespace of the model that owns the task.
	Namespace() string

	// TaskID identifies the running task in logs.
	TaskID() string

	// Take waits for the next action whose type matches one of patterns.
	// Bare names are qualified with the task's namespace; "*" matches
	// every action and "ns/*" every action of a namespace.
	Take(patterns ...string) (Action, error)

	// Put dispatches an action. A bare type is qualified with the task's
	// namespace.
	Put(action Action) error

	// Call runs fn outside the cooperative section and returns its result.
	Call(fn func(ctx context.Context) (any, error)) (any, error)

	// Delay suspends the task for d.
	Delay(d time.Duration) error

	// Race runs ops concurrently and returns the index and value of the
	// first to finish. The others are abandoned.
	Race(ops ...Op) (int, any, error)

	// All runs ops concurrently and returns every value in order.
	All(ops ...Op) ([]any, error)

	// Fork starts a child task in the same namespace without suspending.
	Fork(name string, fn func(fx Effects) error) Task

	// Join waits for a forked task to finish and returns its error.
	Join(t Task) error

	// Cancel requests cancellation of a forked task.
	Cancel(t Task)

	// Select returns the current state snapshot.
	Select() State

	// Callback dispatches the callback-qualified action registered for the
	// triggering action's Handler Group, e.g. Callback("succeed", v) from
	// the "fetch" effect dispatches "<ns>/fetchSucceed".
	Callback(name string, payload any) error
}

// Task is a handle on a running effect task.
type Task interface {
	ID() string
	Done() <-chan struct{}
	Err() error
}

// Op is a yield-point descriptor accepted by Race and All.
type Op interface {
	op()
}

// TakeOp waits for an action matching one of Patterns.
type TakeOp struct {
	Patterns []string
}

// DelayOp waits for Duration.
type DelayOp struct {
	Duration time.Duration
}

// CallOp runs Fn outside the cooperative section.
type CallOp struct {
	Fn func(ctx context.Context) (any, error)
}

func (TakeOp) op()  {}
func (DelayOp) op() {}
func (CallOp) op()  {}

// TakeAny builds a TakeOp.
func TakeAny(patterns ...string) TakeOp { return TakeOp{Patterns: patterns} }

// After builds a DelayOp.
func After(d time.Duration) DelayOp { return DelayOp{Duration: d} }

// Invoke builds a CallOp.
func Invoke(fn func(ctx context.Context) (any, error)) CallOp { return CallOp{Fn: fn} }
