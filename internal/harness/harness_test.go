package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, content string) *Scenario {
	t.Helper()
	s, err := ParseScenario([]byte(content))
	require.NoError(t, err)
	return s
}

func TestRun_MinimalScenario(t *testing.T) {
	s := mustParse(t, `
name: minimal
description: empty history loads
steps: [{ action: run }]
assertions:
  - { type: trace_count, event: ready, count: 1 }
  - { type: final_state, table: engine, expect: { state: ready, revision: -1, text: "" } }
`)

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Trace, 1)
	assert.Equal(t, TraceEvent{Seq: 1, Type: TraceReady, Revision: -1}, result.Trace[0])
}

func TestRun_SubmitAck(t *testing.T) {
	s := mustParse(t, `
name: ack
description: a lone submission is acked
history:
  - { key: A0, author: bob, op: '["ab"]' }
steps:
  - action: run
  - { action: submit, op: '[2,"c"]' }
  - { action: entries_since }
assertions:
  - { type: trace_order, events: [ready, result, ack, entries] }
  - { type: final_state, table: history, where: { key: A1 }, expect: { author: alice, op: '[2,"c"]' } }
`)

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, "abc", result.Final.Text)
	assert.Equal(t, int64(1), result.Final.Revision)

	last := result.Trace[len(result.Trace)-1]
	assert.Equal(t, TraceEntries, last.Type)
	assert.Equal(t, int64(-1), last.Revision)
	assert.Equal(t, "A0,A1", last.IDs)
}

func TestRun_SecondSubmitRejectedWhilePending(t *testing.T) {
	s := mustParse(t, `
name: pending
description: a second submission is refused while one is pending
steps:
  - action: run
  - action: hold_deliveries
  - { action: submit, insert: "a" }
  - { action: submit, insert: "b" }
assertions:
  - { type: trace_contains, event: rejected, fields: { code: CONTRACT_VIOLATION } }
  - { type: final_state, table: engine, expect: { pending: true, revision: -1, writes: 1 } }
`)

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_DeliveredWithoutStoring(t *testing.T) {
	s := mustParse(t, `
name: deliver
description: a delivered record is applied even though the store never saw it
steps:
  - action: run
  - { action: deliver, key: A0, author: bob, op: '["z"]' }
  - { action: document_at, revision: 0 }
assertions:
  - { type: trace_contains, event: operation, fields: { author: bob, op: '["z"]' } }
  - { type: trace_contains, event: document_at, fields: { code: RECONSTRUCTION_FAILED } }
  - { type: final_state, table: engine, expect: { text: z } }
`)

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_QueryReadFailures(t *testing.T) {
	s := mustParse(t, `
name: reads
description: query read failures surface to the caller, a missing checkpoint only slows reconstruction
history:
  - { key: A0, author: bob, op: '["ab"]' }
steps:
  - action: run
  - { action: fail_next_checkpoint_read, error: fatal }
  - { action: document_at, revision: 0 }
  - { action: fail_next_read, error: transient }
  - { action: entries_since, revision: -1 }
assertions:
  - { type: trace_contains, event: document_at, fields: { revision: 0, text: ab } }
  - { type: trace_contains, event: entries, fields: { code: TRANSIENT_STORE_FAILURE } }
`)

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_FailingAssertions(t *testing.T) {
	s := mustParse(t, `
name: failing
description: assertion failures are reported, not returned
steps: [{ action: run }]
assertions:
  - { type: trace_count, event: ready, count: 2 }
  - { type: trace_contains, event: ack }
  - { type: final_state, table: engine, expect: { revision: 5 } }
`)

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Len(t, result.Errors, 3)
}

func TestRun_StepErrors(t *testing.T) {
	tests := []struct {
		name    string
		steps   string
		wantErr string
	}{
		{
			name:    "undecodable submit op",
			steps:   `[{ action: run }, { action: submit, op: 'nope' }]`,
			wantErr: "steps[1] submit: decode op",
		},
		{
			name:    "edit out of range",
			steps:   `[{ action: run }, { action: submit, pos: 4, insert: "x" }]`,
			wantErr: "steps[1] submit",
		},
		{
			name:    "release of unknown key",
			steps:   `[{ action: hold_deliveries }, { action: release, keys: [A9] }]`,
			wantErr: `no held delivery for key "A9"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := mustParse(t, `
name: broken
description: d
steps: `+tt.steps+`
assertions: [{ type: trace_count, event: ready, count: 1 }]
`)
			_, err := Run(s)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRun_InvalidAuthor(t *testing.T) {
	s := mustParse(t, `
name: author
description: d
author: "bad\u0007author"
steps: [{ action: run }]
assertions: [{ type: trace_count, event: ready, count: 1 }]
`)
	_, err := Run(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create engine")
}

func TestRun_Deterministic(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/contested_retry.yaml")
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	assert.Equal(t, first.Trace, second.Trace)
	assert.Equal(t, first.Final, second.Final)
}

func TestResult_AddError(t *testing.T) {
	r := NewResult()
	assert.True(t, r.Pass)

	r.AddError("boom")
	assert.False(t, r.Pass)
	assert.Equal(t, []string{"boom"}, r.Errors)
}

func TestResult_AddTrace(t *testing.T) {
	r := NewResult()
	r.AddTrace(TraceEvent{Type: TraceReady, Revision: -1})
	r.AddTrace(TraceEvent{Type: TraceAck, Revision: 0})

	require.Len(t, r.Trace, 2)
	assert.Equal(t, 1, r.Trace[0].Seq)
	assert.Equal(t, 2, r.Trace[1].Seq)
}
