package harness

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/roach88/revsync/internal/testutil"
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
			fmt.Fprintf(&buf, "  %s\n", event)
		}
	}

	return buf.String()
}

// assertTraceContains checks if the trace contains an event of the given
// type whose fields include the expected ones (subset match).
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if event.Type == assertion.Event && matchFields(event.Fields(), assertion.Fields) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("event %s with fields %v", assertion.Event, assertion.Fields),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the listed event types appear as a
// subsequence of the trace. Intervening events are allowed; a type listed
// twice must occur twice.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	next := 0
	for _, event := range trace {
		if next < len(assertion.Events) && event.Type == assertion.Events[next] {
			next++
		}
	}

	if next < len(assertion.Events) {
		return &AssertionError{
			Type:     AssertTraceOrder,
			Expected: fmt.Sprintf("events in order: %v", assertion.Events),
			Actual:   fmt.Sprintf("matched %v, then no %s", assertion.Events[:next], assertion.Events[next]),
			Trace:    trace,
		}
	}

	return nil
}

// assertTraceCount checks if the event type appears exactly the specified
// number of times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Type == assertion.Event {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Event),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}

	return nil
}

// assertFinalState checks one row of final state against the expected
// values using subset semantics. The engine row comes from the captured
// final state; history and checkpoint rows are read from the backend.
func assertFinalState(result *Result, backend *testutil.ScriptedBackend, assertion Assertion) error {
	row, err := finalStateRow(result, backend, assertion)
	if err != nil {
		return err
	}

	var mismatches []string
	for key, expected := range assertion.Expect {
		actual, ok := row[key]
		if !ok {
			mismatches = append(mismatches, fmt.Sprintf("%s: no such column", key))
			continue
		}
		if !stateValuesEqual(expected, actual) {
			mismatches = append(mismatches, fmt.Sprintf("%s: expected %v, got %v", key, expected, actual))
		}
	}

	if len(mismatches) > 0 {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s row matching %v", assertion.Table, assertion.Expect),
			Actual:   strings.Join(mismatches, "; "),
		}
	}

	return nil
}

func finalStateRow(result *Result, backend *testutil.ScriptedBackend, assertion Assertion) (map[string]interface{}, error) {
	switch assertion.Table {
	case TableEngine:
		f := result.Final
		return map[string]interface{}{
			"state":    f.State,
			"revision": f.Revision,
			"text":     f.Text,
			"pending":  f.Pending,
			"writes":   f.Writes,
		}, nil

	case TableHistory:
		key := fmt.Sprint(assertion.Where["key"])
		rec, ok := backend.Record(key)
		if !ok {
			return nil, &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("history row with key %s", key),
				Actual:   "no rows found",
			}
		}
		return map[string]interface{}{
			"key":    key,
			"author": rec.Author,
			"op":     string(rec.Operation),
		}, nil

	case TableCheckpoint:
		cp, ok := backend.Checkpoint()
		if !ok {
			return nil, &AssertionError{
				Type:     AssertFinalState,
				Expected: "a stored checkpoint",
				Actual:   "no checkpoint",
			}
		}
		return map[string]interface{}{
			"key":    cp.RevisionKey,
			"author": cp.Author,
			"op":     string(cp.Operation),
		}, nil

	default:
		return nil, fmt.Errorf("final_state: unknown table %q", assertion.Table)
	}
}

// stateValuesEqual compares expected and actual values.
// YAML decodes integers as int while captured state uses int64.
func stateValuesEqual(expected, actual interface{}) bool {
	if expected == nil && actual == nil {
		return true
	}
	if expected == nil || actual == nil {
		return false
	}

	switch exp := expected.(type) {
	case string:
		if actualStr, ok := actual.(string); ok {
			return exp == actualStr
		}
		return false
	case int:
		if actualInt, ok := actual.(int64); ok {
			return int64(exp) == actualInt
		}
		if actualInt, ok := actual.(int); ok {
			return exp == actualInt
		}
		return false
	case int64:
		if actualInt, ok := actual.(int64); ok {
			return exp == actualInt
		}
		if actualInt, ok := actual.(int); ok {
			return exp == int64(actualInt)
		}
		return false
	case bool:
		if actualBool, ok := actual.(bool); ok {
			return exp == actualBool
		}
		return false
	}

	return reflect.DeepEqual(expected, actual)
}

// matchFields checks if actual contains all expected fields (subset match).
// Extra keys in actual are ignored.
func matchFields(actual, expected map[string]interface{}) bool {
	for key, expectedVal := range expected {
		actualVal, exists := actual[key]
		if !exists {
			return false
		}
		if !stateValuesEqual(expectedVal, actualVal) {
			return false
		}
	}
	return true
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The backend answers history and checkpoint final_state assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, backend *testutil.ScriptedBackend) []string {
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
			if backend == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires a backend", i)
			} else {
				err = assertFinalState(result, backend, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
