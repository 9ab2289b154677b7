// Package saga runs asynchronous effect handlers as cooperative tasks.
//
// A Runner is bound to one store through its middleware. Start launches one
// watcher per effect of a model record; the watcher takes the effect's
// trigger action and starts invocations according to the effect's policy
// (every, latest, leading, serial, throttle or watcher).
//
// Tasks only execute while they hold the runner's single token. Each yield
// point of ir.Effects releases the token while the task waits, so between
// two yield points an effect body never interleaves with another.
//
// Cancellation is cooperative. Dispatching <ns>/@@CANCEL_EFFECTS cancels
// every task of ns; each task observes it when it next yields, as
// ErrCancelled, and cancelled tasks are not reported as failures.
package saga
