package engine

import (
	"github.com/roach88/revsync/internal/ir"
	"github.com/roach88/revsync/internal/revid"
)

// pendingSubmission is the single local operation awaiting confirmation.
type pendingSubmission struct {
	id       uint64
	revision revid.Revision
	op       ir.Operation
	record   ir.HistoryRecord
	onResult func(SubmitResult)

	// accepted is set once the store reports the write committed.
	accepted bool
	attempts int
}

// Submit writes op at the next expected revision. op must apply to the
// current document. The outcome arrives later as an ack, retry or error
// event, and through onResult when it is not nil.
//
// Submit fails synchronously when the engine is not ready, a submission is
// already pending, op does not apply to the document, or op does not survive
// encoding unchanged.
func (e *Engine) Submit(op ir.Operation, onResult func(SubmitResult)) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateDisposed:
		return newDisposedError()
	case StateNotReady:
		return newContractViolation("submit before ready")
	}
	if e.pending != nil {
		return newContractViolation("submission already pending at revision %s", e.pending.revision)
	}
	if op == nil {
		return newContractViolation("submit of nil operation")
	}
	if docLen := e.replicator.document.TargetLength(); op.BaseLength() != docLen {
		return newContractViolation("operation base length %d does not match document length %d", op.BaseLength(), docLen)
	}
	raw, err := op.MarshalJSON()
	if err != nil {
		return newContractViolation("operation not serializable: %v", err)
	}
	// Confirmation compares against what peers will decode, so an operation
	// the encoding alters (invalid UTF-8 in an insert, say) is refused here.
	stored, err := e.codec.Decode(raw)
	if err != nil {
		return newContractViolation("operation does not decode after encoding: %v", err)
	}
	if !stored.Equal(op) {
		return newContractViolation("operation changes when encoded as %s", raw)
	}

	e.submissions++
	p := &pendingSubmission{
		id:       e.submissions,
		revision: e.replicator.next(),
		op:       stored,
		record:   ir.HistoryRecord{Author: e.author, Operation: raw},
		onResult: onResult,
	}
	e.pending = p
	e.logger.Debug("submitting operation", "revision", p.revision)
	e.send(p)
	return nil
}

// Pending returns the revision of the pending submission, if any.
func (e *Engine) Pending() (revid.Revision, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending == nil {
		return revid.None, false
	}
	return e.pending.revision, true
}

func (e *Engine) send(p *pendingSubmission) {
	p.attempts++
	id := p.id
	post := e.bind("history write")
	e.backend.PutIfAbsent(p.revision.Key(), p.record, func(committed bool, err error) {
		post(func() { e.onWriteResult(id, committed, err) })
	})
}

func (e *Engine) onWriteResult(id uint64, committed bool, err error) {
	p := e.pending
	if p == nil || p.id != id {
		e.logger.Debug("write result for settled submission", "submission", id)
		return
	}

	switch {
	case err == nil && committed:
		p.accepted = true
		e.logger.Debug("write committed, awaiting confirmation", "revision", p.revision)

	case err == nil:
		e.logger.Debug("revision already taken, awaiting winner", "revision", p.revision)

	case ir.IsTransient(err):
		e.metrics.SubmissionResent()
		if e.backend.Online() {
			e.logger.Warn("write failed, resending", "revision", p.revision, "attempt", p.attempts, "error", err)
			post := e.bind("resend")
			post(func() { e.resend(id) })
			return
		}
		e.logger.Info("write failed while offline, resending on reconnect", "revision", p.revision, "error", err)
		e.afterReconnect(func() { e.resend(id) })

	default:
		e.pending = nil
		e.metrics.SubmissionFailed()
		serr := newFatalStoreFailure(p.revision, err)
		e.logger.Error("write rejected", "revision", p.revision, "error", err)
		e.resolve(p, SubmitResult{Outcome: OutcomeFatal, Revision: p.revision, Err: serr})
		e.emit(Event{Type: EventError, Revision: p.revision, Err: serr})
	}
}

func (e *Engine) resend(id uint64) {
	p := e.pending
	if p == nil || p.id != id {
		return
	}
	e.send(p)
}

func (e *Engine) onConnectivity(online bool) {
	e.logger.Info("connectivity changed", "online", online)
	if !online {
		return
	}
	retries := e.reconnect
	e.reconnect = nil
	for _, fn := range retries {
		fn()
	}
}

// afterReconnect queues fn to run when the backend next comes online.
func (e *Engine) afterReconnect(fn func()) {
	e.reconnect = append(e.reconnect, fn)
}

// retryTransient runs fn now when the backend is online, otherwise after the
// next reconnect.
func (e *Engine) retryTransient(fn func()) {
	if e.backend.Online() {
		fn()
		return
	}
	e.afterReconnect(fn)
}

// reconcile inspects revision rev as it is applied. It returns the pending
// submission when rev was its slot and someone else's record landed there.
func (e *Engine) reconcile(rev revid.Revision, entry *HistoryEntry, err error) *pendingSubmission {
	p := e.pending
	own := p != nil && p.revision == rev
	if own {
		e.pending = nil
	}

	if err != nil {
		e.metrics.EntrySkipped()
		e.logger.Warn("skipping malformed revision", "revision", rev, "error", err)
		if own {
			return p
		}
		return nil
	}
	e.metrics.EntryApplied()

	if own && entry.Author == e.author && entry.Operation.Equal(p.op) {
		e.metrics.SubmissionAcked()
		e.logger.Debug("submission confirmed", "revision", rev, "attempts", p.attempts)
		e.resolve(p, SubmitResult{Outcome: OutcomeAck, Revision: rev})
		e.emit(Event{Type: EventAck, Revision: rev})
		e.maybeCheckpoint(rev)
		return nil
	}

	e.emit(Event{Type: EventOperation, Revision: rev, Author: entry.Author, Operation: entry.Operation})
	if own {
		return p
	}
	return nil
}

func (e *Engine) resolve(p *pendingSubmission, res SubmitResult) {
	if p.onResult == nil {
		return
	}
	fn := p.onResult
	e.notify(func() { fn(res) })
}

// maybeCheckpoint writes a checkpoint after this engine's own revision rev
// when rev is on the checkpoint interval.
func (e *Engine) maybeCheckpoint(rev revid.Revision) {
	if !e.checkpoints.due(rev) {
		return
	}
	rec, err := e.checkpoints.record(rev, e.replicator.document)
	if err != nil {
		e.logger.Warn("checkpoint skipped", "revision", rev, "error", err)
		return
	}
	post := e.bind("checkpoint write")
	e.backend.WriteCheckpoint(rec, func(err error) {
		post(func() {
			if err != nil {
				e.logger.Warn("checkpoint write failed", "revision", rev, "error", err)
				return
			}
			e.metrics.CheckpointWritten()
			e.logger.Debug("checkpoint written", "revision", rev)
		})
	})
}
