package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/storeweave/internal/undo"
)

func sampleResult() *Result {
	r := NewResult()
	r.Trace = []TraceEvent{
		{Type: "counter/increment", Seq: 2},
		{Type: "counter/add", Payload: map[string]any{"by": int64(5), "note": "x"}, Seq: 3},
		{Type: "counter/increment", Seq: 4},
		{Type: "todos/fetchSucceed", Payload: []string{"a"}, Seq: 5},
	}
	r.State = map[string]any{
		"counter": 7,
		"todos":   map[string]any{"loading": false, "items": []any{map[string]any{"id": 1, "title": "a"}}},
		"editor":  undo.History{Present: map[string]any{"text": "ab"}},
	}
	r.ErrorCodes = []string{"UNRESOLVED_EFFECT", "HANDLER_RUNTIME", "UNRESOLVED_EFFECT"}
	return r
}

func TestAssertTraceContains(t *testing.T) {
	trace := sampleResult().Trace

	assert.NoError(t, assertTraceContains(trace, Assertion{Action: "counter/add"}))
	assert.NoError(t, assertTraceContains(trace, Assertion{Action: "counter/add", Payload: map[string]any{"by": 5}}),
		"payload is a subset match across numeric types")
	assert.NoError(t, assertTraceContains(trace, Assertion{Action: "todos/fetchSucceed", Payload: []any{"a"}}))

	err := assertTraceContains(trace, Assertion{Action: "counter/add", Payload: map[string]any{"by": 6}})
	require.Error(t, err)
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, AssertTraceContains, ae.Type)
	assert.Contains(t, err.Error(), "[3] counter/add")

	assert.Error(t, assertTraceContains(trace, Assertion{Action: "counter/reset"}))
}

func TestAssertTraceOrder(t *testing.T) {
	trace := sampleResult().Trace

	assert.NoError(t, assertTraceOrder(trace, Assertion{Actions: []string{"counter/increment", "todos/fetchSucceed"}}))
	assert.NoError(t, assertTraceOrder(trace, Assertion{Actions: []string{"counter/increment", "counter/add", "counter/increment"}}),
		"a repeated type matches a later occurrence")

	err := assertTraceOrder(trace, Assertion{Actions: []string{"todos/fetchSucceed", "counter/add"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "counter/add (position 2)")
}

func TestAssertTraceCount(t *testing.T) {
	trace := sampleResult().Trace

	assert.NoError(t, assertTraceCount(trace, Assertion{Action: "counter/increment", Count: 2}))
	assert.NoError(t, assertTraceCount(trace, Assertion{Action: "counter/reset", Count: 0}))
	assert.Error(t, assertTraceCount(trace, Assertion{Action: "counter/increment", Count: 1}))
}

func TestAssertFinalState(t *testing.T) {
	state := sampleResult().State

	tests := []struct {
		name    string
		path    string
		expect  any
		wantErr bool
	}{
		{name: "scalar", path: "counter", expect: 7},
		{name: "scalar mismatch", path: "counter", expect: 8, wantErr: true},
		{name: "nested", path: "todos.loading", expect: false},
		{name: "subset object", path: "todos", expect: map[string]any{"loading": false}},
		{name: "array", path: "todos.items", expect: []any{map[string]any{"id": 1, "title": "a"}}},
		{name: "struct slice by json name", path: "editor.present.text", expect: "ab"},
		{name: "missing path", path: "todos.missing", expect: 1, wantErr: true},
		{name: "missing path without expectation", path: "nope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertFinalState(state, Assertion{Path: tt.path, Expect: tt.expect})
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAssertErrorCount(t *testing.T) {
	codes := sampleResult().ErrorCodes

	assert.NoError(t, assertErrorCount(codes, Assertion{Count: 3}))
	assert.NoError(t, assertErrorCount(codes, Assertion{Count: 2, Code: "UNRESOLVED_EFFECT"}))

	err := assertErrorCount(codes, Assertion{Count: 0, Code: "HANDLER_RUNTIME"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0 HANDLER_RUNTIME errors")
}

func TestEvaluateAssertions(t *testing.T) {
	result := sampleResult()

	failures := EvaluateAssertions(result, []Assertion{
		{Type: AssertTraceCount, Action: "counter/increment", Count: 2},
		{Type: AssertFinalState, Path: "counter", Expect: 0},
		{Type: "bogus"},
	})

	require.Len(t, failures, 2)
	assert.Contains(t, failures[0], AssertFinalState)
	assert.Contains(t, failures[1], `unknown assertion type "bogus"`)
}

func TestResult_AddError(t *testing.T) {
	r := NewResult()
	assert.True(t, r.Pass)

	r.AddWarning("just a warning")
	assert.True(t, r.Pass)

	r.AddError("boom")
	assert.False(t, r.Pass)
	assert.Equal(t, []string{"boom"}, r.Errors)
}
