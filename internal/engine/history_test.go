package engine

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/revsync/internal/ir"
	"github.com/roach88/revsync/internal/revid"
	"github.com/roach88/revsync/internal/testutil"
)

func entriesSince(t *testing.T, e *Engine, since revid.Revision) []EntryInfo {
	t.Helper()
	var got []EntryInfo
	var gotErr error
	require.NoError(t, e.EntriesSince(since, func(infos []EntryInfo, err error) {
		got, gotErr = infos, err
	}))
	e.RunPending()
	require.NoError(t, gotErr)
	return got
}

func documentAt(t *testing.T, e *Engine, target revid.Revision) (ir.Operation, error) {
	t.Helper()
	var doc ir.Operation
	var gotErr error
	called := false
	require.NoError(t, e.DocumentAtRevision(target, func(op ir.Operation, err error) {
		called = true
		doc, gotErr = op, err
	}))
	e.RunPending()
	require.True(t, called)
	return doc, gotErr
}

func TestEntriesSince(t *testing.T) {
	b := testutil.NewScriptedBackend()
	b.Seed(appendHistory(t, "bob", "a", "b", "c")...)
	e, _ := newTestEngine(t, b)

	all := entriesSince(t, e, revid.None)
	require.Len(t, all, 3)
	assert.Equal(t, revid.Revision(0), all[0].Revision)
	assert.Equal(t, "A0", all[0].Key)
	assert.Equal(t, "bob", all[0].Author)
	assert.Equal(t, testutil.Epoch.Add(1e6), all[0].WrittenAt)

	later := entriesSince(t, e, 1)
	require.Len(t, later, 1)
	assert.Equal(t, revid.Revision(2), later[0].Revision)

	assert.Empty(t, entriesSince(t, e, 2))
}

func TestEntriesSince_ReadFailure(t *testing.T) {
	b := testutil.NewScriptedBackend()
	e, _ := newTestEngine(t, b)
	b.FailNextRead(errors.New("boom"))

	var gotErr error
	require.NoError(t, e.EntriesSince(revid.None, func(_ []EntryInfo, err error) { gotErr = err }))
	e.RunPending()

	assert.True(t, IsFatalStoreFailure(gotErr))
}

func TestEntriesSince_RejectsBadInput(t *testing.T) {
	e, _ := newTestEngine(t, testutil.NewScriptedBackend())

	assert.True(t, IsContractViolation(e.EntriesSince(-5, func([]EntryInfo, error) {})))
}

func TestDocumentAtRevision_FromOrigin(t *testing.T) {
	b := testutil.NewScriptedBackend()
	b.Seed(appendHistory(t, "bob", "a", "b", "c", "d")...)
	e, _ := newTestEngine(t, b)

	for target, want := range []string{"a", "ab", "abc", "abcd"} {
		doc, err := documentAt(t, e, revid.Revision(target))
		require.NoError(t, err)
		assert.Equal(t, want, docText(t, doc))
	}
	assert.Equal(t, "abcd", docText(t, e.Document()), "live document untouched")
}

// The checkpoint shortcut gives the same document as replaying from origin.
func TestDocumentAtRevision_CheckpointShortcutEquivalence(t *testing.T) {
	hist := appendHistory(t, "bob", "he", "ll", "o ", "wo", "rl", "d")

	plain := testutil.NewScriptedBackend()
	plain.Seed(hist...)
	withCheckpoint := testutil.NewScriptedBackend()
	withCheckpoint.Seed(hist...)
	withCheckpoint.SetCheckpoint(ir.CheckpointRecord{Author: "bob", Operation: json.RawMessage(`["hell"]`), RevisionKey: key(1)})

	e1, _ := newTestEngine(t, plain)
	e2, _ := newTestEngine(t, withCheckpoint)

	for target := revid.Revision(0); target <= 5; target++ {
		d1, err := documentAt(t, e1, target)
		require.NoError(t, err)
		d2, err := documentAt(t, e2, target)
		require.NoError(t, err)
		assert.Equal(t, docText(t, d1), docText(t, d2), "target %s", target)
	}
}

// A checkpoint at or after the target is not used.
func TestDocumentAtRevision_IgnoresLaterCheckpoint(t *testing.T) {
	b := testutil.NewScriptedBackend()
	b.Seed(appendHistory(t, "bob", "a", "b", "c")...)
	b.SetCheckpoint(ir.CheckpointRecord{Author: "bob", Operation: json.RawMessage(`["WRONG"]`), RevisionKey: key(1)})
	e, _ := newTestEngine(t, b)

	doc, err := documentAt(t, e, 1)
	require.NoError(t, err)
	assert.Equal(t, "ab", docText(t, doc))
}

func TestDocumentAtRevision_Failures(t *testing.T) {
	t.Run("malformed entry", func(t *testing.T) {
		b := testutil.NewScriptedBackend()
		hist := appendHistory(t, "bob", "a", "b")
		hist[1].Record.Operation = json.RawMessage(`"junk"`)
		b.Seed(hist...)
		e, _ := newTestEngine(t, b)

		_, err := documentAt(t, e, 1)
		assert.True(t, IsReconstructionFailure(err))
		var se *SyncError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, revid.Revision(1), se.Revision)
	})

	t.Run("gap", func(t *testing.T) {
		b := testutil.NewScriptedBackend()
		hist := appendHistory(t, "bob", "a", "b", "c")
		b.Seed(hist[0], hist[2])
		e, _ := newTestEngine(t, b)

		_, err := documentAt(t, e, 2)
		assert.True(t, IsReconstructionFailure(err))
	})

	t.Run("beyond history", func(t *testing.T) {
		b := testutil.NewScriptedBackend()
		b.Seed(appendHistory(t, "bob", "a")...)
		e, _ := newTestEngine(t, b)

		_, err := documentAt(t, e, 7)
		assert.True(t, IsReconstructionFailure(err))
	})

	t.Run("negative target", func(t *testing.T) {
		e, _ := newTestEngine(t, testutil.NewScriptedBackend())

		err := e.DocumentAtRevision(-1, func(ir.Operation, error) {})
		assert.True(t, IsContractViolation(err))
	})
}

func TestDocumentAtRevision_AfterOwnSubmissions(t *testing.T) {
	b := testutil.NewScriptedBackend()
	e, _ := newTestEngine(t, b, WithCheckpointInterval(2))

	text := ""
	for _, s := range []string{"x", "y", "z", "w"} {
		require.NoError(t, e.Submit(insertAt(t, len(text), len(text), s), nil))
		e.RunPending()
		text += s
	}

	_, ok := b.Checkpoint()
	require.True(t, ok)
	doc, err := documentAt(t, e, 3)
	require.NoError(t, err)
	assert.Equal(t, "xyzw", docText(t, doc))
}
