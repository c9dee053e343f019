package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/revsync/internal/ir"
)

func TestPutIfAbsent_Inserts(t *testing.T) {
	s := createTestStore(t, fixedClock(1700000000000))
	ctx := context.Background()

	committed, err := s.PutIfAbsent(ctx, "doc", "A0", createTestRecord("alice", `[ "hello" ]`))
	require.NoError(t, err)
	assert.True(t, committed)

	rec, found, err := s.ReadRecord(ctx, "doc", "A0")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "alice", rec.Author)
	assert.Equal(t, `["hello"]`, string(rec.Operation), "operation stored canonically")
	assert.Equal(t, int64(1700000000000), rec.WrittenAt, "server timestamp")
}

func TestPutIfAbsent_FirstWriterWins(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	committed, err := s.PutIfAbsent(ctx, "doc", "A0", createTestRecord("alice", `["a"]`))
	require.NoError(t, err)
	require.True(t, committed)

	committed, err = s.PutIfAbsent(ctx, "doc", "A0", createTestRecord("bob", `["b"]`))
	require.NoError(t, err)
	assert.False(t, committed)

	rec, _, err := s.ReadRecord(ctx, "doc", "A0")
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.Author)
}

func TestPutIfAbsent_ResendIsCommittedOnce(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		committed, err := s.PutIfAbsent(ctx, "doc", "A0", createTestRecord("alice", `["a"]`))
		require.NoError(t, err)
		assert.True(t, committed, "attempt %d", i)
	}

	records, err := s.ReadRange(ctx, "doc", "", "")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestPutIfAbsent_DocumentsAreIndependent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	c1, err := s.PutIfAbsent(ctx, "doc-1", "A0", createTestRecord("alice", `["a"]`))
	require.NoError(t, err)
	c2, err := s.PutIfAbsent(ctx, "doc-2", "A0", createTestRecord("bob", `["b"]`))
	require.NoError(t, err)
	assert.True(t, c1)
	assert.True(t, c2)

	docs, err := s.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-1", "doc-2"}, docs)
}

func TestPutIfAbsent_PermissionDenied(t *testing.T) {
	s := createTestStore(t, WithWriters("alice"))
	ctx := context.Background()

	_, err := s.PutIfAbsent(ctx, "doc", "A0", createTestRecord("mallory", `["x"]`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ir.ErrPermissionDenied)
	assert.False(t, s.IsTransient(err))

	committed, err := s.PutIfAbsent(ctx, "doc", "A0", createTestRecord("alice", `["x"]`))
	require.NoError(t, err)
	assert.True(t, committed)
}

func TestPutIfAbsent_RejectsInvalidJSON(t *testing.T) {
	s := createTestStore(t)
	_, err := s.PutIfAbsent(context.Background(), "doc", "A0", createTestRecord("alice", `[`))
	assert.Error(t, err)
}

func TestWriteCheckpoint_Overwrites(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, found, err := s.ReadCheckpoint(ctx, "doc")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.WriteCheckpoint(ctx, "doc", ir.CheckpointRecord{
		Author: "alice", Operation: json.RawMessage(`["v1"]`), RevisionKey: "B1c",
	}))
	require.NoError(t, s.WriteCheckpoint(ctx, "doc", ir.CheckpointRecord{
		Author: "bob", Operation: json.RawMessage(`["v2"]`), RevisionKey: "B3E",
	}))

	cp, found, err := s.ReadCheckpoint(ctx, "doc")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "bob", cp.Author)
	assert.Equal(t, `["v2"]`, string(cp.Operation))
	assert.Equal(t, "B3E", cp.RevisionKey)
}

func TestWriteCheckpoint_PermissionDenied(t *testing.T) {
	s := createTestStore(t, WithWriters("alice"))
	err := s.WriteCheckpoint(context.Background(), "doc", ir.CheckpointRecord{
		Author: "bob", Operation: json.RawMessage(`[]`), RevisionKey: "A0",
	})
	assert.ErrorIs(t, err, ir.ErrPermissionDenied)
}
