package harness

import (
	"bytes"
	"fmt"
	"reflect"
	"strings"

	"github.com/roach88/storeweave/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			if event.Payload != nil {
				fmt.Fprintf(&buf, "  [%d] %s %v\n", event.Seq, event.Type, event.Payload)
			} else {
				fmt.Fprintf(&buf, "  [%d] %s\n", event.Seq, event.Type)
			}
		}
	}

	return buf.String()
}

// assertTraceContains checks if the trace contains an action matching the
// specified type and payload (subset match).
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if event.Type == assertion.Action && matchValue(event.Payload, assertion.Payload) {
			return nil
		}
	}

	expected := "action " + assertion.Action
	if assertion.Payload != nil {
		expected += fmt.Sprintf(" with payload %v", assertion.Payload)
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: expected,
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks if actions appear in the specified order.
// Actions don't need to be consecutive (intervening actions are allowed).
// Each expected action is matched after the previous match, so the same
// type may appear more than once in the list.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	pos := 0
	for i, expected := range assertion.Actions {
		found := false
		for pos < len(trace) {
			pos++
			if trace[pos-1].Type == expected {
				found = true
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("actions in order: %v", assertion.Actions),
				Actual:   fmt.Sprintf("%s (position %d) not found after %v", expected, i+1, assertion.Actions[:i]),
				Trace:    trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks if the action appears exactly the specified number of times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := countType(trace, assertion.Action)
	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Action),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState checks the value at a dotted state path.
func assertFinalState(state map[string]any, assertion Assertion) error {
	actual, ok := lookupPath(state, assertion.Path)
	if !ok {
		if assertion.Expect == nil {
			return nil
		}
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s = %v", assertion.Path, assertion.Expect),
			Actual:   fmt.Sprintf("path %q not present", assertion.Path),
		}
	}

	if !matchValue(actual, assertion.Expect) {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s = %v", assertion.Path, assertion.Expect),
			Actual:   fmt.Sprintf("%s = %v", assertion.Path, actual),
		}
	}
	return nil
}

// assertErrorCount checks the number of funneled errors.
func assertErrorCount(codes []string, assertion Assertion) error {
	count := 0
	for _, code := range codes {
		if assertion.Code == "" || code == assertion.Code {
			count++
		}
	}
	if count != assertion.Count {
		what := "errors"
		if assertion.Code != "" {
			what = assertion.Code + " errors"
		}
		return &AssertionError{
			Type:     AssertErrorCount,
			Expected: fmt.Sprintf("%d %s", assertion.Count, what),
			Actual:   fmt.Sprintf("%d (all codes: %v)", count, codes),
		}
	}
	return nil
}

// lookupPath walks a dotted path through nested objects. Non-map values
// are lowered to generic JSON first, so struct slices (e.g. an undo
// history) can be addressed by their JSON field names.
func lookupPath(state map[string]any, path string) (any, bool) {
	var cur any = state
	for _, key := range strings.Split(path, ".") {
		m, ok := asObject(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func asObject(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case ir.State:
		return m, true
	}
	generic, err := ir.ToGeneric(v)
	if err != nil {
		return nil, false
	}
	m, ok := generic.(map[string]any)
	return m, ok
}

// matchValue reports whether actual matches expected. Objects match when
// every expected key matches (extra keys in actual are ignored); all other
// values must be equal after canonical JSON encoding, so an int from YAML
// matches an int64 or float64 of the same value.
func matchValue(actual, expected any) bool {
	if expected == nil {
		return true
	}

	if exp, ok := expected.(map[string]any); ok {
		act, ok := asObject(actual)
		if !ok {
			return false
		}
		for key, ev := range exp {
			av, exists := act[key]
			if !exists || !matchValue(av, ev) {
				return false
			}
		}
		return true
	}

	return valuesEqual(actual, expected)
}

// valuesEqual compares two values by canonical JSON, falling back to
// reflect.DeepEqual for values that cannot be encoded.
func valuesEqual(actual, expected any) bool {
	a, errA := ir.MarshalCanonical(actual)
	e, errE := ir.MarshalCanonical(expected)
	if errA != nil || errE != nil {
		return reflect.DeepEqual(actual, expected)
	}
	return bytes.Equal(a, e)
}

func countType(trace []TraceEvent, actionType string) int {
	count := 0
	for _, event := range trace {
		if event.Type == actionType {
			count++
		}
	}
	return count
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFinalState:
			err = assertFinalState(result.State, assertion)
		case AssertErrorCount:
			err = assertErrorCount(result.ErrorCodes, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
