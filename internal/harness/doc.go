// Package harness runs YAML scenarios against a live App.
//
// A scenario selects models, drives the app through a list of steps and
// asserts on the resulting action trace and final state.
//
// # Scenario Format
//
//	name: counter_basic
//	description: "Counter reducers and the async increment"
//	models: [counter]          # demo models by namespace
//	manifests: [extra.cue]     # optional CUE manifests, relative to the file
//	validate: true             # optional, default true
//	steps:
//	  - dispatch: counter/add
//	    payload: { by: 5 }
//	  - wait_for: counter/increment
//	    count: 2
//	  - model: todos           # register a model while running
//	  - eject: counter
//	assertions:
//	  - type: trace_contains
//	    action: counter/add
//	    payload: { by: 5 }
//	  - type: final_state
//	    path: counter
//	    expect: 6
//
// # Assertion Types
//
//   - trace_contains: an action appears in the trace with a matching payload
//   - trace_order: actions appear in the given order
//   - trace_count: an action appears exactly N times
//   - final_state: the value at a dotted state path matches (subset match
//     for objects)
//   - error_count: N funneled errors, optionally of one code
//
// # Deterministic Testing
//
// Task IDs come from a sequence generator and the trace records the store's
// logical seq, so a scenario whose effects are awaited with wait_for steps
// produces the same trace on every run. RunWithGolden compares that trace
// against testdata/golden/<name>.golden.
package harness
