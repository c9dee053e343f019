package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/revsync/internal/ir"
	"github.com/roach88/revsync/internal/revid"
)

func TestReorderBuffer_ReleasesContiguously(t *testing.T) {
	b := newReorderBuffer(0)

	for _, k := range []int64{2, 0, 3} {
		_, added, err := b.Offer(ir.KeyedRecord{Key: key(k)})
		require.NoError(t, err)
		assert.True(t, added)
	}

	rev, _, ok := b.Pop()
	require.True(t, ok)
	assert.Equal(t, revid.Revision(0), rev)

	_, _, ok = b.Pop()
	assert.False(t, ok, "revision 1 is missing, so 2 must wait")
	assert.Equal(t, 2, b.Len())

	_, _, err := b.Offer(ir.KeyedRecord{Key: key(1)})
	require.NoError(t, err)

	var got []revid.Revision
	for {
		rev, _, ok := b.Pop()
		if !ok {
			break
		}
		got = append(got, rev)
	}
	assert.Equal(t, []revid.Revision{1, 2, 3}, got)
	assert.Equal(t, revid.Revision(4), b.Next())
	assert.Zero(t, b.Len())
}

func TestReorderBuffer_IgnoresConsumedAndDuplicates(t *testing.T) {
	b := newReorderBuffer(0)

	_, added, _ := b.Offer(ir.KeyedRecord{Key: key(0), Record: ir.HistoryRecord{Author: "first"}})
	require.True(t, added)
	_, added, _ = b.Offer(ir.KeyedRecord{Key: key(0), Record: ir.HistoryRecord{Author: "second"}})
	assert.False(t, added, "duplicate offer")

	_, kr, ok := b.Pop()
	require.True(t, ok)
	assert.Equal(t, "first", kr.Record.Author)

	_, added, _ = b.Offer(ir.KeyedRecord{Key: key(0)})
	assert.False(t, added, "already consumed")
}

func TestReorderBuffer_RejectsMalformedKey(t *testing.T) {
	b := newReorderBuffer(0)

	_, added, err := b.Offer(ir.KeyedRecord{Key: "B1"})
	assert.ErrorIs(t, err, revid.ErrMalformedID)
	assert.False(t, added)
}

func TestReorderBuffer_ResetDropsOldEntries(t *testing.T) {
	b := newReorderBuffer(0)
	for _, k := range []int64{1, 5, 6} {
		b.Offer(ir.KeyedRecord{Key: key(k)})
	}

	b.Reset(5)

	assert.Equal(t, revid.Revision(5), b.Next())
	assert.Equal(t, 2, b.Len())
	rev, _, ok := b.Pop()
	require.True(t, ok)
	assert.Equal(t, revid.Revision(5), rev)
}
