package engine

import (
	"fmt"

	"github.com/roach88/revsync/internal/ir"
	"github.com/roach88/revsync/internal/revid"
)

// DefaultCheckpointInterval is how many revisions separate checkpoints.
const DefaultCheckpointInterval = 100

// checkpointer builds and parses checkpoint records.
type checkpointer struct {
	codec    ir.OperationCodec
	author   string
	interval int64
}

// due reports whether a checkpoint belongs after rev. Zero or negative
// intervals disable checkpoints.
func (c *checkpointer) due(rev revid.Revision) bool {
	return c.interval > 0 && rev > 0 && int64(rev)%c.interval == 0
}

// record snapshots doc as of rev.
func (c *checkpointer) record(rev revid.Revision, doc ir.Operation) (ir.CheckpointRecord, error) {
	raw, err := doc.MarshalJSON()
	if err != nil {
		return ir.CheckpointRecord{}, fmt.Errorf("checkpoint %s: %w", rev, err)
	}
	return ir.CheckpointRecord{
		Author:      c.author,
		Operation:   raw,
		RevisionKey: rev.Key(),
	}, nil
}

// parse returns the revision and document of a stored checkpoint.
func (c *checkpointer) parse(rec ir.CheckpointRecord) (revid.Revision, ir.Operation, error) {
	rev, err := revid.DecodeRevision(rec.RevisionKey)
	if err != nil {
		return revid.None, nil, fmt.Errorf("checkpoint key %q: %w", rec.RevisionKey, err)
	}
	op, err := c.codec.Decode(rec.Operation)
	if err != nil {
		return revid.None, nil, fmt.Errorf("checkpoint %s: %w", rev, err)
	}
	if op.BaseLength() != 0 {
		return revid.None, nil, fmt.Errorf("checkpoint %s: base length %d is not a document", rev, op.BaseLength())
	}
	return rev, op, nil
}
