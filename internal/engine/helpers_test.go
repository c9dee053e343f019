package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/revsync/internal/ir"
	"github.com/roach88/revsync/internal/revid"
	"github.com/roach88/revsync/internal/testutil"
	"github.com/roach88/revsync/internal/textop"
)

// recorder collects events in delivery order.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func (r *recorder) ofType(typ EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// countingMetrics counts every Metrics call.
type countingMetrics struct {
	mu sync.Mutex

	applied, skipped, acked, retried, resent int
	failed, checkpoints, lastBuffered        int
}

func (m *countingMetrics) inc(p *int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	*p++
}

func (m *countingMetrics) EntryApplied()      { m.inc(&m.applied) }
func (m *countingMetrics) EntrySkipped()      { m.inc(&m.skipped) }
func (m *countingMetrics) SubmissionAcked()   { m.inc(&m.acked) }
func (m *countingMetrics) SubmissionRetried() { m.inc(&m.retried) }
func (m *countingMetrics) SubmissionResent()  { m.inc(&m.resent) }
func (m *countingMetrics) SubmissionFailed()  { m.inc(&m.failed) }
func (m *countingMetrics) CheckpointWritten() { m.inc(&m.checkpoints) }
func (m *countingMetrics) BufferedEntries(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastBuffered = n
}

// newTestEngine creates an engine for author "alice" with a recorder attached
// and runs it until it is ready or blocked.
func newTestEngine(t *testing.T, b *testutil.ScriptedBackend, opts ...Option) (*Engine, *recorder) {
	t.Helper()
	opts = append([]Option{WithAuthor("alice")}, opts...)
	e, err := New(b, textop.Codec{}, opts...)
	require.NoError(t, err)
	rec := &recorder{}
	e.OnEvent(rec.handle)
	e.RunPending()
	t.Cleanup(e.Dispose)
	return e, rec
}

// record builds a history record for op.
func record(t *testing.T, author string, op *textop.Operation) ir.HistoryRecord {
	t.Helper()
	raw, err := op.MarshalJSON()
	require.NoError(t, err)
	return ir.HistoryRecord{Author: author, Operation: raw}
}

// insertAt builds an insert of text at pos on a document of docLen.
func insertAt(t *testing.T, docLen, pos int, text string) *textop.Operation {
	t.Helper()
	op, err := textop.Edit(docLen, pos, text, 0)
	require.NoError(t, err)
	return op
}

// appendHistory builds records that append each string in turn, starting
// from an empty document.
func appendHistory(t *testing.T, author string, parts ...string) []ir.KeyedRecord {
	t.Helper()
	var out []ir.KeyedRecord
	length := 0
	for i, p := range parts {
		out = append(out, ir.KeyedRecord{
			Key:    revid.Encode(int64(i)),
			Record: record(t, author, insertAt(t, length, length, p)),
		})
		length += len([]rune(p))
	}
	return out
}

func docText(t *testing.T, op ir.Operation) string {
	t.Helper()
	text, err := textop.DocumentText(op)
	require.NoError(t, err)
	return text
}

func key(n int64) string {
	return revid.Encode(n)
}
