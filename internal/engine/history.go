package engine

import (
	"github.com/roach88/revsync/internal/ir"
	"github.com/roach88/revsync/internal/revid"
)

// EntriesSince lists the revisions strictly after since, in order. Pass
// revid.None to list everything. done runs on the engine loop.
func (e *Engine) EntriesSince(since revid.Revision, done func([]EntryInfo, error)) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateDisposed {
		return newDisposedError()
	}
	if since < revid.None {
		return newContractViolation("entries since negative revision %d", int64(since))
	}

	post := e.bind("history listing")
	e.backend.ReadRange(since.Next().Key(), "", func(recs []ir.KeyedRecord, err error) {
		post(func() { e.onEntriesRead(since, recs, err, done) })
	})
	return nil
}

func (e *Engine) onEntriesRead(since revid.Revision, recs []ir.KeyedRecord, err error, done func([]EntryInfo, error)) {
	if err != nil {
		serr := newStoreFailure(since, "history read failed", err)
		e.notify(func() { done(nil, serr) })
		return
	}

	infos := make([]EntryInfo, 0, len(recs))
	for _, kr := range recs {
		rev, derr := revid.DecodeRevision(kr.Key)
		if derr != nil {
			e.logger.Warn("ignoring record with malformed key", "key", kr.Key, "error", derr)
			continue
		}
		infos = append(infos, EntryInfo{
			Revision:  rev,
			Key:       kr.Key,
			Author:    kr.Record.Author,
			WrittenAt: kr.Record.Time(),
		})
	}
	e.notify(func() { done(infos, nil) })
}

// DocumentAtRevision rebuilds the document as of target, starting from the
// latest checkpoint taken before target when one exists. It does not touch
// the live document. Any gap or malformed record in the replayed range fails
// the reconstruction. done runs on the engine loop.
func (e *Engine) DocumentAtRevision(target revid.Revision, done func(ir.Operation, error)) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateDisposed {
		return newDisposedError()
	}
	if target < 0 {
		return newContractViolation("document at negative revision %d", int64(target))
	}

	post := e.bind("reconstruction checkpoint")
	e.backend.ReadCheckpoint(func(rec ir.CheckpointRecord, found bool, err error) {
		post(func() { e.reconstructFrom(target, rec, found, err, done) })
	})
	return nil
}

func (e *Engine) reconstructFrom(target revid.Revision, rec ir.CheckpointRecord, found bool, err error, done func(ir.Operation, error)) {
	base := e.codec.Identity()
	start := revid.Revision(0)

	switch {
	case err != nil:
		e.logger.Debug("checkpoint unavailable for reconstruction", "target", target, "error", err)
	case found:
		rev, doc, perr := e.checkpoints.parse(rec)
		switch {
		case perr != nil:
			e.logger.Warn("ignoring unusable checkpoint", "error", perr)
		case rev < target:
			base, start = doc, rev+1
		}
	}

	post := e.bind("reconstruction history")
	e.backend.ReadRange(start.Key(), target.Key(), func(recs []ir.KeyedRecord, err error) {
		post(func() { e.replay(target, start, base, recs, err, done) })
	})
}

func (e *Engine) replay(target, start revid.Revision, doc ir.Operation, recs []ir.KeyedRecord, err error, done func(ir.Operation, error)) {
	fail := func(serr *SyncError) {
		e.logger.Warn("reconstruction failed", "target", target, "error", serr)
		e.notify(func() { done(nil, serr) })
	}

	if err != nil {
		fail(newStoreFailure(target, "history read failed", err))
		return
	}

	expect := start
	for _, kr := range recs {
		rev, derr := revid.DecodeRevision(kr.Key)
		if derr != nil {
			fail(newReconstructionFailure(expect, "malformed record key", derr))
			return
		}
		if rev != expect {
			fail(newReconstructionFailure(expect, "missing revision", nil))
			return
		}
		entry, verr := validate(e.codec, kr, rev, doc)
		if verr != nil {
			fail(newReconstructionFailure(rev, "invalid revision", verr))
			return
		}
		composed, cerr := doc.Compose(entry.Operation)
		if cerr != nil {
			fail(newReconstructionFailure(rev, "compose failed", cerr))
			return
		}
		doc = composed
		expect++
	}
	if expect != target+1 {
		fail(newReconstructionFailure(expect, "history ends before target", nil))
		return
	}

	e.notify(func() { done(doc, nil) })
}
