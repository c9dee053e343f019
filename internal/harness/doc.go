// Package harness runs scripted sync scenarios against a real engine.
//
// A scenario seeds a scripted backend with history and a checkpoint, then
// drives an engine through steps: running the loop, submitting edits,
// injecting or delivering peer records in any order, holding reads,
// failing writes, toggling connectivity and disposing. Every engine event,
// submission outcome and query answer is recorded in a trace, which
// assertions check and golden files pin down.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: contested_retry
//	description: "A peer takes the slot first"
//	author: alice
//	history:
//	  - { key: A0, author: bob, op: '["ab"]' }
//	steps:
//	  - action: run
//	  - action: hold_deliveries
//	  - { action: inject, key: A1, author: bob, op: '[2,"c"]' }
//	  - { action: submit, pos: 2, insert: "!" }
//	  - action: resume_deliveries
//	assertions:
//	  - type: trace_order
//	    events: [operation, result, retry]
//	  - type: final_state
//	    table: engine
//	    expect: { revision: 1, text: "abc" }
//
// # Assertion Types
//
// The following assertion types are supported:
//
//   - trace_contains: an event of the given type with matching fields
//   - trace_order: event types appear in the given order
//   - trace_count: an event type appears exactly N times
//   - final_state: the engine, a history row or the checkpoint matches
//
// # Deterministic Testing
//
// The scripted backend completes calls synchronously and stamps writes
// with testutil.DeterministicClock, and the engine's task queue is drained
// after every step. The same scenario therefore always yields the same
// trace, which RunWithGolden compares against testdata/golden.
package harness
