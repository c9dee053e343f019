package engine

import (
	"fmt"

	"github.com/roach88/revsync/internal/ir"
	"github.com/roach88/revsync/internal/revid"
)

// replicator owns the document and the revision counter.
type replicator struct {
	codec    ir.OperationCodec
	document ir.Operation
	buffer   *reorderBuffer
}

func newReplicator(codec ir.OperationCodec) *replicator {
	return &replicator{
		codec:    codec,
		document: codec.Identity(),
		buffer:   newReorderBuffer(0),
	}
}

// seed starts replication after a checkpoint taken at rev.
func (r *replicator) seed(rev revid.Revision, doc ir.Operation) {
	r.document = doc
	r.buffer.Reset(rev + 1)
}

// next returns the next expected revision.
func (r *replicator) next() revid.Revision {
	return r.buffer.Next()
}

// last returns the last applied revision, or revid.None.
func (r *replicator) last() revid.Revision {
	return r.buffer.Next() - 1
}

// drain applies every contiguous buffered record. visit is called once per
// revision in order; entry is nil when the record was skipped as malformed,
// and err says why.
func (r *replicator) drain(visit func(rev revid.Revision, entry *HistoryEntry, err error)) int {
	n := 0
	for {
		rev, kr, ok := r.buffer.Pop()
		if !ok {
			return n
		}
		n++

		entry, err := validate(r.codec, kr, rev, r.document)
		if err != nil {
			visit(rev, nil, err)
			continue
		}
		composed, err := r.document.Compose(entry.Operation)
		if err != nil {
			visit(rev, nil, newMalformedRevision(rev, "compose failed", err))
			continue
		}
		r.document = composed
		visit(rev, &entry, nil)
	}
}

// validate decodes kr and checks that it applies to base.
func validate(codec ir.OperationCodec, kr ir.KeyedRecord, rev revid.Revision, base ir.Operation) (HistoryEntry, error) {
	if kr.Record.Author == "" {
		return HistoryEntry{}, newMalformedRevision(rev, "missing author", nil)
	}
	if len(kr.Record.Operation) == 0 {
		return HistoryEntry{}, newMalformedRevision(rev, "missing operation", nil)
	}
	op, err := codec.Decode(kr.Record.Operation)
	if err != nil {
		return HistoryEntry{}, newMalformedRevision(rev, "undecodable operation", err)
	}
	if op.BaseLength() != base.TargetLength() {
		return HistoryEntry{}, newMalformedRevision(rev,
			fmt.Sprintf("operation base length %d does not match document length %d", op.BaseLength(), base.TargetLength()), nil)
	}
	return HistoryEntry{Author: kr.Record.Author, Operation: op}, nil
}
