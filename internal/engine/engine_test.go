package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/revsync/internal/ir"
	"github.com/roach88/revsync/internal/revid"
	"github.com/roach88/revsync/internal/testutil"
	"github.com/roach88/revsync/internal/textop"
)

func TestNew_RejectsInvalidAuthor(t *testing.T) {
	_, err := New(testutil.NewScriptedBackend(), textop.Codec{}, WithAuthor("bad\x00author"))
	assert.ErrorIs(t, err, ir.ErrInvalidAuthor)
}

func TestNew_GeneratesAuthor(t *testing.T) {
	e, err := New(testutil.NewScriptedBackend(), textop.Codec{}, WithAuthorGenerator(testutil.NewFixedAuthorGenerator("gen-1")))
	require.NoError(t, err)
	assert.Equal(t, "gen-1", e.Author())
}

func TestNew_DefaultAuthorIsUUID(t *testing.T) {
	e, err := New(testutil.NewScriptedBackend(), textop.Codec{})
	require.NoError(t, err)
	assert.Len(t, e.Author(), 36)
}

func TestEngine_ReadyOnEmptyHistory(t *testing.T) {
	e, rec := newTestEngine(t, testutil.NewScriptedBackend())

	assert.Equal(t, StateReady, e.State())
	require.Equal(t, []EventType{EventReady}, rec.types())
	ready := rec.events[0]
	assert.Equal(t, revid.None, ready.Revision)
	assert.Equal(t, "", docText(t, ready.Operation))

	empty, err := e.IsHistoryEmpty()
	require.NoError(t, err)
	assert.True(t, empty)
}

func TestEngine_ReadyWithExistingHistory(t *testing.T) {
	b := testutil.NewScriptedBackend()
	b.Seed(appendHistory(t, "bob", "hello", " ", "world")...)

	e, rec := newTestEngine(t, b)

	require.Equal(t, []EventType{EventReady}, rec.types(), "catch-up emits no per-entry events")
	assert.Equal(t, "hello world", docText(t, rec.events[0].Operation))
	assert.Equal(t, revid.Revision(2), rec.events[0].Revision)
	assert.Equal(t, revid.Revision(2), e.LastRevision())

	empty, err := e.IsHistoryEmpty()
	require.NoError(t, err)
	assert.False(t, empty)
}

func TestEngine_IsHistoryEmptyBeforeReady(t *testing.T) {
	b := testutil.NewScriptedBackend()
	b.HoldReads()
	e, _ := newTestEngine(t, b)

	_, err := e.IsHistoryEmpty()
	assert.True(t, IsContractViolation(err))
}

func TestEngine_LiveRecordsEmitOperations(t *testing.T) {
	b := testutil.NewScriptedBackend()
	e, rec := newTestEngine(t, b)

	hist := appendHistory(t, "bob", "ab", "c")
	for _, kr := range hist {
		b.Inject(kr.Key, kr.Record)
	}
	e.RunPending()

	ops := rec.ofType(EventOperation)
	require.Len(t, ops, 2)
	assert.Equal(t, "bob", ops[0].Author)
	assert.Equal(t, revid.Revision(0), ops[0].Revision)
	assert.Equal(t, revid.Revision(1), ops[1].Revision)
	assert.Equal(t, "abc", docText(t, e.Document()))
}

// Records arriving out of order are applied only once the gap closes.
func TestEngine_OutOfOrderArrival(t *testing.T) {
	b := testutil.NewScriptedBackend()
	b.HoldDeliveries()
	e, rec := newTestEngine(t, b)
	rec.reset()

	for _, kr := range appendHistory(t, "bob", "a", "b", "c") {
		b.Inject(kr.Key, kr.Record)
	}

	require.NoError(t, b.ReleaseHeld(key(2)))
	e.RunPending()
	assert.Empty(t, rec.types())
	assert.Equal(t, "", docText(t, e.Document()))

	require.NoError(t, b.ReleaseHeld(key(0)))
	e.RunPending()
	assert.Len(t, rec.ofType(EventOperation), 1)
	assert.Equal(t, "a", docText(t, e.Document()))

	require.NoError(t, b.ReleaseHeld(key(1)))
	e.RunPending()
	ops := rec.ofType(EventOperation)
	require.Len(t, ops, 3)
	for i, ev := range ops {
		assert.Equal(t, revid.Revision(i), ev.Revision)
	}
	assert.Equal(t, "abc", docText(t, e.Document()))
}

// Any delivery order yields the same document and the same event order.
func TestEngine_ReorderEquivalence(t *testing.T) {
	parts := make([]string, 20)
	for i := range parts {
		parts[i] = fmt.Sprintf("%c", 'a'+i)
	}
	want := "abcdefghijklmnopqrst"

	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 10; trial++ {
		t.Run(fmt.Sprintf("trial-%d", trial), func(t *testing.T) {
			b := testutil.NewScriptedBackend()
			b.HoldDeliveries()
			e, rec := newTestEngine(t, b)

			hist := appendHistory(t, "bob", parts...)
			for _, kr := range hist {
				b.Inject(kr.Key, kr.Record)
			}
			keys := b.HeldKeys()
			rng.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })
			for _, k := range keys {
				require.NoError(t, b.ReleaseHeld(k))
				e.RunPending()
			}

			assert.Equal(t, want, docText(t, e.Document()))
			ops := rec.ofType(EventOperation)
			require.Len(t, ops, len(parts))
			for i, ev := range ops {
				assert.Equal(t, revid.Revision(i), ev.Revision)
			}
		})
	}
}

// A malformed record is skipped without stalling the revisions after it.
func TestEngine_PoisonToleranceLive(t *testing.T) {
	b := testutil.NewScriptedBackend()
	m := &countingMetrics{}
	e, rec := newTestEngine(t, b, WithMetrics(m))

	b.Inject(key(0), record(t, "bob", textop.FromText("a")))
	b.Inject(key(1), ir.HistoryRecord{Author: "mallory", Operation: json.RawMessage(`{"not":"an op"}`)})
	b.Inject(key(2), record(t, "bob", insertAt(t, 1, 1, "c")))
	b.Inject(key(3), record(t, "bob", insertAt(t, 99, 0, "x")))
	b.Inject(key(4), record(t, "bob", insertAt(t, 2, 2, "d")))
	e.RunPending()

	assert.Equal(t, "acd", docText(t, e.Document()))
	assert.Equal(t, revid.Revision(4), e.LastRevision())
	ops := rec.ofType(EventOperation)
	require.Len(t, ops, 3)
	assert.Equal(t, []revid.Revision{0, 2, 4}, []revid.Revision{ops[0].Revision, ops[1].Revision, ops[2].Revision})
	assert.Equal(t, 2, m.skipped)
	assert.Equal(t, 3, m.applied)
}

func TestEngine_PoisonToleranceDuringLoad(t *testing.T) {
	b := testutil.NewScriptedBackend()
	b.Seed(
		ir.KeyedRecord{Key: key(0), Record: record(t, "bob", textop.FromText("a"))},
		ir.KeyedRecord{Key: key(1), Record: ir.HistoryRecord{Operation: json.RawMessage(`["no author"]`)}},
		ir.KeyedRecord{Key: key(2), Record: record(t, "bob", insertAt(t, 1, 1, "b"))},
	)

	e, rec := newTestEngine(t, b)

	require.Equal(t, []EventType{EventReady}, rec.types())
	assert.Equal(t, "ab", docText(t, e.Document()))
	assert.Equal(t, revid.Revision(2), e.LastRevision())
}

func TestEngine_MalformedKeyIgnored(t *testing.T) {
	b := testutil.NewScriptedBackend()
	e, rec := newTestEngine(t, b)
	rec.reset()

	b.Deliver(ir.KeyedRecord{Key: "not-a-key", Record: record(t, "bob", textop.FromText("x"))})
	e.RunPending()

	assert.Empty(t, rec.types())
	assert.Equal(t, revid.None, e.LastRevision())
}

func TestEngine_DuplicateDeliveryAppliedOnce(t *testing.T) {
	b := testutil.NewScriptedBackend()
	e, rec := newTestEngine(t, b)

	kr := ir.KeyedRecord{Key: key(0), Record: record(t, "bob", textop.FromText("x"))}
	b.Inject(kr.Key, kr.Record)
	b.Deliver(kr)
	e.RunPending()

	assert.Len(t, rec.ofType(EventOperation), 1)
	assert.Equal(t, "x", docText(t, e.Document()))
}

func TestEngine_LoadsFromCheckpoint(t *testing.T) {
	b := testutil.NewScriptedBackend()
	// Revisions 0..2 are garbage; only the checkpoint can produce the document.
	for i := int64(0); i <= 2; i++ {
		b.Seed(ir.KeyedRecord{Key: key(i), Record: ir.HistoryRecord{Author: "x", Operation: json.RawMessage(`"junk"`)}})
	}
	b.SetCheckpoint(ir.CheckpointRecord{Author: "bob", Operation: json.RawMessage(`["abc"]`), RevisionKey: key(2)})
	b.Seed(
		ir.KeyedRecord{Key: key(3), Record: record(t, "bob", insertAt(t, 3, 3, "d"))},
		ir.KeyedRecord{Key: key(4), Record: record(t, "bob", insertAt(t, 4, 4, "e"))},
	)

	e, rec := newTestEngine(t, b)

	require.Equal(t, []EventType{EventReady}, rec.types())
	assert.Equal(t, "abcde", docText(t, e.Document()))
	assert.Equal(t, revid.Revision(4), e.LastRevision())
}

func TestEngine_UnusableCheckpointFallsBackToOrigin(t *testing.T) {
	b := testutil.NewScriptedBackend()
	b.Seed(appendHistory(t, "bob", "a", "b")...)
	b.SetCheckpoint(ir.CheckpointRecord{Author: "bob", Operation: json.RawMessage(`[3,"zzz"]`), RevisionKey: key(1)})

	e, _ := newTestEngine(t, b)

	assert.Equal(t, "ab", docText(t, e.Document()))
}

func TestEngine_LoadRetriesTransientFailures(t *testing.T) {
	b := testutil.NewScriptedBackend()
	b.Seed(appendHistory(t, "bob", "a")...)
	b.FailNextCheckpointRead(fmt.Errorf("%w: timeout", ir.ErrTransient))
	b.FailNextRead(fmt.Errorf("%w: timeout", ir.ErrTransient))

	e, rec := newTestEngine(t, b)

	assert.Equal(t, []EventType{EventReady}, rec.types())
	assert.Equal(t, "a", docText(t, e.Document()))
}

func TestEngine_OfflineLoadWaitsForReconnect(t *testing.T) {
	b := testutil.NewScriptedBackend()
	b.Seed(appendHistory(t, "bob", "a")...)
	b.SetOnline(false)
	b.FailNextCheckpointRead(fmt.Errorf("%w: timeout", ir.ErrTransient))
	b.FailNextRead(fmt.Errorf("%w: timeout", ir.ErrTransient))

	e, rec := newTestEngine(t, b)
	e.RunPending()
	assert.Equal(t, StateNotReady, e.State(), "checkpoint retry parked while offline")

	b.SetOnline(true)
	e.RunPending()
	assert.Equal(t, []EventType{EventReady}, rec.types())
	assert.Equal(t, "a", docText(t, e.Document()))
}

func TestEngine_FatalLoadReadContinuesFromSubscription(t *testing.T) {
	b := testutil.NewScriptedBackend()
	b.Seed(appendHistory(t, "bob", "a", "b")...)
	b.FailNextRead(errors.New("boom"))

	e, rec := newTestEngine(t, b)

	assert.Equal(t, []EventType{EventReady}, rec.types())
	assert.Equal(t, "ab", docText(t, e.Document()))
}

func TestEngine_DisposeDeferredUntilReady(t *testing.T) {
	b := testutil.NewScriptedBackend()
	b.HoldReads()
	e, rec := newTestEngine(t, b)

	e.Dispose()
	assert.Equal(t, StateNotReady, e.State(), "disposal waits for the initial load")

	b.ReleaseReads()
	e.RunPending()

	assert.Equal(t, StateDisposed, e.State())
	assert.Empty(t, rec.types(), "no ready event after disposal was requested")

	b.Inject(key(0), record(t, "bob", textop.FromText("x")))
	assert.Zero(t, e.RunPending())
}

func TestEngine_DisposeStopsEvents(t *testing.T) {
	b := testutil.NewScriptedBackend()
	e, rec := newTestEngine(t, b)
	rec.reset()

	e.Dispose()
	e.Dispose()
	assert.Equal(t, StateDisposed, e.State())

	b.Inject(key(0), record(t, "bob", textop.FromText("x")))
	e.RunPending()
	assert.Empty(t, rec.types())

	err := e.Submit(textop.FromText("y"), nil)
	assert.True(t, IsDisposed(err))
}

// A callback that outlives disposal is dropped.
func TestEngine_StaleCallbackAfterDispose(t *testing.T) {
	b := testutil.NewScriptedBackend()
	e, _ := newTestEngine(t, b)

	b.HoldReads()
	called := false
	require.NoError(t, e.EntriesSince(revid.None, func([]EntryInfo, error) { called = true }))

	e.Dispose()
	b.ReleaseReads()

	assert.Zero(t, e.RunPending())
	assert.False(t, called)
}

func TestEngine_RunLoop(t *testing.T) {
	b := testutil.NewScriptedBackend()
	e, err := New(b, textop.Codec{}, WithAuthor("alice"))
	require.NoError(t, err)

	acks := make(chan Event, 1)
	e.OnEvent(func(ev Event) {
		if ev.Type == EventAck {
			acks <- ev
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- e.Run(ctx) }()

	require.Eventually(t, func() bool { return e.State() == StateReady }, time.Second, time.Millisecond)
	require.NoError(t, e.Submit(textop.FromText("hi"), nil))

	select {
	case ev := <-acks:
		assert.Equal(t, revid.Revision(0), ev.Revision)
	case <-time.After(time.Second):
		t.Fatal("no ack")
	}

	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
	e.Dispose()
}

func TestEngine_RunReturnsAfterDispose(t *testing.T) {
	b := testutil.NewScriptedBackend()
	e, err := New(b, textop.Codec{}, WithAuthor("alice"))
	require.NoError(t, err)
	e.RunPending()

	errc := make(chan error, 1)
	go func() { errc <- e.Run(context.Background()) }()

	e.Dispose()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Dispose")
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "not_ready", StateNotReady.String())
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "disposed", StateDisposed.String())
	assert.Equal(t, "retry", EventRetry.String())
	assert.Equal(t, "fatal", OutcomeFatal.String())
}
