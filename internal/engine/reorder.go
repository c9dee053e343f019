package engine

import (
	"fmt"

	"github.com/roach88/revsync/internal/ir"
	"github.com/roach88/revsync/internal/revid"
)

// reorderBuffer holds records that arrived ahead of the next expected
// revision and releases them contiguously.
//
// Records below next have already been consumed and are ignored, so a
// redelivered record never applies twice.
type reorderBuffer struct {
	pending map[revid.Revision]ir.KeyedRecord
	next    revid.Revision
}

func newReorderBuffer(next revid.Revision) *reorderBuffer {
	return &reorderBuffer{
		pending: make(map[revid.Revision]ir.KeyedRecord),
		next:    next,
	}
}

// Offer buffers kr. It reports false for a record that is already consumed
// or already buffered, and an error when the key is not a revision key.
func (b *reorderBuffer) Offer(kr ir.KeyedRecord) (revid.Revision, bool, error) {
	rev, err := revid.DecodeRevision(kr.Key)
	if err != nil {
		return revid.None, false, fmt.Errorf("record key %q: %w", kr.Key, err)
	}
	if rev < b.next {
		return rev, false, nil
	}
	if _, ok := b.pending[rev]; ok {
		return rev, false, nil
	}
	b.pending[rev] = kr
	return rev, true, nil
}

// Pop removes the record at the next expected revision and advances past it.
func (b *reorderBuffer) Pop() (revid.Revision, ir.KeyedRecord, bool) {
	kr, ok := b.pending[b.next]
	if !ok {
		return revid.None, ir.KeyedRecord{}, false
	}
	rev := b.next
	delete(b.pending, rev)
	b.next++
	return rev, kr, true
}

// Next returns the next expected revision.
func (b *reorderBuffer) Next() revid.Revision {
	return b.next
}

// Reset discards buffered records below next and moves the counter.
func (b *reorderBuffer) Reset(next revid.Revision) {
	for rev := range b.pending {
		if rev < next {
			delete(b.pending, rev)
		}
	}
	b.next = next
}

// Len returns the number of buffered records.
func (b *reorderBuffer) Len() int {
	return len(b.pending)
}
