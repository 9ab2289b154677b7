// Package engine implements the storeweave state container.
//
// The container holds the whole application state (namespace -> slice state)
// behind a single composite reducing function that can be hot-swapped while
// the store is live.
//
// ARCHITECTURE:
//
// Single-Writer Reduction:
// Every dispatch runs the composite reducer under the store mutex, so
// reduction is totally ordered with respect to dispatch order. This ensures:
// - No half-updated composite reducer is ever observed
// - Replay of a recorded action log produces identical state
// - Simple reasoning about causality
//
// Dispatch Flow:
// 1. Dispatch() enters the middleware chain (journal, metrics, task runner)
// 2. The base dispatch stamps the action with the logical clock
// 3. The composite reducer computes the next state under the mutex
// 4. Listeners are notified outside the mutex, in subscription order
//
// Reducers must not dispatch. Middleware and listeners may.
//
// CRITICAL PATTERNS:
//
// Logical Clock:
// Every reduced action is stamped with a monotonic seq in Meta["seq"].
// NEVER use wall-clock timestamps for ordering.
//
// Orphaned State:
// Removing a namespace's reducer keeps its last state in the snapshot.
// Composition never deletes keys it does not own.
package engine
