package harness

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/revsync/internal/ir"
	"github.com/roach88/revsync/internal/testutil"
)

func sampleTrace() []TraceEvent {
	return []TraceEvent{
		{Seq: 1, Type: TraceReady, Revision: -1},
		{Seq: 2, Type: TraceOperation, Revision: 0, Author: "bob", Op: `["xy"]`},
		{Seq: 3, Type: TraceResult, Revision: 0, Outcome: "retry"},
		{Seq: 4, Type: TraceRetry, Revision: 0},
		{Seq: 5, Type: TraceResult, Revision: 1, Outcome: "ack"},
		{Seq: 6, Type: TraceAck, Revision: 1},
	}
}

func TestAssertTraceContains_Found(t *testing.T) {
	err := assertTraceContains(sampleTrace(), Assertion{
		Type:   AssertTraceContains,
		Event:  TraceOperation,
		Fields: map[string]interface{}{"author": "bob", "revision": 0},
	})
	assert.NoError(t, err)
}

func TestAssertTraceContains_NotFound(t *testing.T) {
	err := assertTraceContains(sampleTrace(), Assertion{
		Type:  AssertTraceContains,
		Event: TraceError,
	})
	require.Error(t, err)

	assertErr, ok := err.(*AssertionError)
	require.True(t, ok)
	assert.Equal(t, "trace_contains", assertErr.Type)
	assert.Contains(t, assertErr.Expected, "error")
	assert.Equal(t, "not found in trace", assertErr.Actual)
}

func TestAssertTraceContains_WrongFields(t *testing.T) {
	err := assertTraceContains(sampleTrace(), Assertion{
		Type:   AssertTraceContains,
		Event:  TraceResult,
		Fields: map[string]interface{}{"revision": 1, "outcome": "retry"},
	})
	assert.Error(t, err)
}

func TestAssertTraceContains_NoFieldsRequired(t *testing.T) {
	err := assertTraceContains(sampleTrace(), Assertion{Type: AssertTraceContains, Event: TraceAck})
	assert.NoError(t, err)
}

func TestAssertTraceOrder_Correct(t *testing.T) {
	err := assertTraceOrder(sampleTrace(), Assertion{
		Type:   AssertTraceOrder,
		Events: []string{TraceReady, TraceRetry, TraceAck},
	})
	assert.NoError(t, err)
}

func TestAssertTraceOrder_RepeatedEvents(t *testing.T) {
	err := assertTraceOrder(sampleTrace(), Assertion{
		Type:   AssertTraceOrder,
		Events: []string{TraceResult, TraceResult},
	})
	assert.NoError(t, err)

	err = assertTraceOrder(sampleTrace(), Assertion{
		Type:   AssertTraceOrder,
		Events: []string{TraceResult, TraceResult, TraceResult},
	})
	assert.Error(t, err)
}

func TestAssertTraceOrder_WrongOrder(t *testing.T) {
	err := assertTraceOrder(sampleTrace(), Assertion{
		Type:   AssertTraceOrder,
		Events: []string{TraceAck, TraceRetry},
	})
	require.Error(t, err)

	assertErr, ok := err.(*AssertionError)
	require.True(t, ok)
	assert.Equal(t, "trace_order", assertErr.Type)
	assert.Contains(t, assertErr.Actual, "then no retry")
}

func TestAssertTraceCount(t *testing.T) {
	tests := []struct {
		event   string
		count   int
		wantErr bool
	}{
		{TraceResult, 2, false},
		{TraceResult, 1, true},
		{TraceResult, 3, true},
		{TraceError, 0, false},
	}

	for _, tt := range tests {
		err := assertTraceCount(sampleTrace(), Assertion{Type: AssertTraceCount, Event: tt.event, Count: tt.count})
		if tt.wantErr {
			assert.Error(t, err, "%s x%d", tt.event, tt.count)
		} else {
			assert.NoError(t, err, "%s x%d", tt.event, tt.count)
		}
	}
}

func TestStateValuesEqual(t *testing.T) {
	assert.True(t, stateValuesEqual("a", "a"))
	assert.False(t, stateValuesEqual("a", "b"))
	assert.True(t, stateValuesEqual(1, int64(1)))
	assert.True(t, stateValuesEqual(1, 1))
	assert.True(t, stateValuesEqual(int64(-1), -1))
	assert.False(t, stateValuesEqual(1, "1"))
	assert.True(t, stateValuesEqual(true, true))
	assert.False(t, stateValuesEqual(true, 1))
	assert.True(t, stateValuesEqual(nil, nil))
	assert.False(t, stateValuesEqual(nil, "a"))
	assert.True(t, stateValuesEqual([]interface{}{"a"}, []interface{}{"a"}))
}

func TestMatchFields_SubsetSemantics(t *testing.T) {
	actual := map[string]interface{}{"revision": int64(2), "author": "bob"}

	assert.True(t, matchFields(actual, nil))
	assert.True(t, matchFields(actual, map[string]interface{}{"revision": 2}))
	assert.False(t, matchFields(actual, map[string]interface{}{"revision": 3}))
	assert.False(t, matchFields(actual, map[string]interface{}{"outcome": "ack"}))
}

func finalStateFixture() (*Result, *testutil.ScriptedBackend) {
	result := NewResult()
	result.Final = FinalState{State: "ready", Revision: 1, Text: "xyhi", Writes: 2}

	backend := testutil.NewScriptedBackend()
	backend.Seed(ir.KeyedRecord{Key: "A1", Record: ir.HistoryRecord{Author: "alice", Operation: json.RawMessage(`[2,"hi"]`)}})
	return result, backend
}

func TestAssertFinalState_Engine(t *testing.T) {
	result, backend := finalStateFixture()

	err := assertFinalState(result, backend, Assertion{
		Table:  TableEngine,
		Expect: map[string]interface{}{"state": "ready", "revision": 1, "text": "xyhi", "pending": false, "writes": 2},
	})
	assert.NoError(t, err)

	err = assertFinalState(result, backend, Assertion{
		Table:  TableEngine,
		Expect: map[string]interface{}{"revision": 2, "color": "red"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "revision: expected 2, got 1")
	assert.Contains(t, err.Error(), "color: no such column")
}

func TestAssertFinalState_History(t *testing.T) {
	result, backend := finalStateFixture()

	err := assertFinalState(result, backend, Assertion{
		Table:  TableHistory,
		Where:  map[string]interface{}{"key": "A1"},
		Expect: map[string]interface{}{"author": "alice", "op": `[2,"hi"]`},
	})
	assert.NoError(t, err)

	err = assertFinalState(result, backend, Assertion{
		Table:  TableHistory,
		Where:  map[string]interface{}{"key": "A2"},
		Expect: map[string]interface{}{"author": "alice"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no rows found")
}

func TestAssertFinalState_Checkpoint(t *testing.T) {
	result, backend := finalStateFixture()

	err := assertFinalState(result, backend, Assertion{
		Table:  TableCheckpoint,
		Expect: map[string]interface{}{"key": "A0"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no checkpoint")

	backend.SetCheckpoint(ir.CheckpointRecord{Author: "alice", Operation: json.RawMessage(`["xy"]`), RevisionKey: "A0"})
	err = assertFinalState(result, backend, Assertion{
		Table:  TableCheckpoint,
		Expect: map[string]interface{}{"key": "A0", "author": "alice", "op": `["xy"]`},
	})
	assert.NoError(t, err)
}

func TestEvaluateAssertions(t *testing.T) {
	result, backend := finalStateFixture()
	result.Trace = sampleTrace()

	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertTraceCount, Event: TraceAck, Count: 1},
		{Type: AssertTraceContains, Event: TraceError},
		{Type: AssertFinalState, Table: TableEngine, Expect: map[string]interface{}{"text": "xyhi"}},
		{Type: "eventually"},
	}, backend)
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "trace_contains")
	assert.Contains(t, errs[1], "unknown assertion type")
}

func TestEvaluateAssertions_FinalStateWithoutBackend_Fail(t *testing.T) {
	errs := EvaluateAssertions(NewResult(), []Assertion{
		{Type: AssertFinalState, Table: TableEngine, Expect: map[string]interface{}{"revision": -1}},
	}, nil)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "final_state requires a backend")
}

func TestAssertionError_ErrorFormat(t *testing.T) {
	err := &AssertionError{
		Type:     "trace_contains",
		Expected: "event error with fields map[]",
		Actual:   "not found in trace",
		Trace:    sampleTrace()[:2],
	}

	errorStr := err.Error()
	assert.Contains(t, errorStr, "Assertion failed: trace_contains")
	assert.Contains(t, errorStr, "Expected: event error")
	assert.Contains(t, errorStr, "Actual: not found in trace")
	assert.Contains(t, errorStr, "Full trace:")
	assert.Contains(t, errorStr, `2 operation rev=0 author=bob op=["xy"]`)
}
