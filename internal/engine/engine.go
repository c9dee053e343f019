package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/revsync/internal/ir"
	"github.com/roach88/revsync/internal/revid"
)

// State is the engine lifecycle state.
type State int

const (
	StateNotReady State = iota
	StateReady
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateNotReady:
		return "not_ready"
	case StateReady:
		return "ready"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// Engine replicates one document's revision log and submits local edits.
//
// Thread-safety model:
//   - Submit, Dispose, OnEvent and the accessors: safe from any goroutine
//   - Run: call from exactly one goroutine; RunPending is its synchronous
//     counterpart for tests
//   - Event handlers and submit callbacks run on the goroutine driving the
//     loop, outside the engine lock
type Engine struct {
	backend Backend
	codec   ir.OperationCodec
	author  string
	logger  *slog.Logger
	metrics Metrics
	authors AuthorGenerator

	queue *taskQueue
	gen   generation

	mu               sync.Mutex
	state            State
	disposeRequested bool
	replicator       *replicator
	checkpoints      *checkpointer
	pending          *pendingSubmission
	submissions      uint64
	listeners        []EventHandler
	outbox           []func()
	cancels          []func()
	// reconnect holds retries parked until the backend is online again.
	reconnect []func()
}

// Option configures an Engine.
type Option func(*Engine)

// WithAuthor sets the author id written into history records.
func WithAuthor(author string) Option {
	return func(e *Engine) {
		e.author = author
	}
}

// WithAuthorGenerator sets the generator used when no author is given.
// Default: UUIDv7Generator.
func WithAuthorGenerator(g AuthorGenerator) Option {
	return func(e *Engine) {
		e.authors = g
	}
}

// WithCheckpointInterval sets how many revisions separate checkpoints.
// Zero disables checkpoint writes; existing checkpoints are still read.
func WithCheckpointInterval(n int64) Option {
	return func(e *Engine) {
		e.checkpoints.interval = n
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithMetrics sets the metrics sink. Default: NopMetrics.
func WithMetrics(m Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// New creates an Engine and starts loading history from backend. Backend
// callbacks are only processed while Run or RunPending is driving the loop.
func New(backend Backend, codec ir.OperationCodec, opts ...Option) (*Engine, error) {
	e := &Engine{
		backend:     backend,
		codec:       codec,
		logger:      slog.Default(),
		metrics:     NopMetrics{},
		authors:     UUIDv7Generator{},
		queue:       newTaskQueue(),
		replicator:  newReplicator(codec),
		checkpoints: &checkpointer{codec: codec, interval: DefaultCheckpointInterval},
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.author == "" {
		e.author = e.authors.Generate()
	}
	author, err := ir.NormalizeAuthor(e.author)
	if err != nil {
		return nil, fmt.Errorf("new engine: %w", err)
	}
	e.author = author
	e.checkpoints.author = author
	e.logger = e.logger.With("component", "engine", "author", author)

	e.mu.Lock()
	e.start()
	e.mu.Unlock()

	return e, nil
}

// Run drives the task loop until ctx is cancelled or the engine is disposed.
//
// Must be called from exactly one goroutine.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Debug("engine loop starting")

	for {
		if t, ok := e.queue.TryDequeue(); ok {
			e.runTask(t)
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Debug("engine loop stopping: context cancelled")
			return ctx.Err()

		case _, ok := <-e.queue.Wait():
			if !ok {
				e.logger.Debug("engine loop stopping: disposed")
				return nil
			}
		}
	}
}

// RunPending runs queued tasks, including the ones they schedule, until the
// queue is empty. It returns the number of tasks run.
func (e *Engine) RunPending() int {
	n := 0
	for {
		t, ok := e.queue.TryDequeue()
		if !ok {
			return n
		}
		e.runTask(t)
		n++
	}
}

// OnEvent registers a listener. Listeners added after ready do not see the
// ready event.
func (e *Engine) OnEvent(h EventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, h)
}

// State returns the lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Author returns the normalized author id of this engine.
func (e *Engine) Author() string {
	return e.author
}

// Document returns the composition of every applied revision.
func (e *Engine) Document() ir.Operation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.replicator.document
}

// LastRevision returns the last applied revision, or revid.None.
func (e *Engine) LastRevision() revid.Revision {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.replicator.last()
}

// Snapshot returns the document and the revision it is at, read together.
func (e *Engine) Snapshot() (revid.Revision, ir.Operation) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.replicator.last(), e.replicator.document
}

// IsHistoryEmpty reports whether no revision has been applied. Only
// meaningful once the engine is ready.
func (e *Engine) IsHistoryEmpty() (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateReady {
		return false, newContractViolation("history emptiness queried while %s", e.state)
	}
	return e.replicator.next() == 0, nil
}

// Dispose cancels subscriptions and drops pending callbacks. Disposal
// requested before the engine is ready takes effect once it is.
//
// Safe to call more than once.
func (e *Engine) Dispose() {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateDisposed:
		return
	case StateNotReady:
		if !e.disposeRequested {
			e.disposeRequested = true
			e.logger.Debug("disposal deferred until ready")
		}
		return
	}
	e.dispose()
}

func (e *Engine) dispose() {
	e.state = StateDisposed
	e.gen.Advance()
	for _, cancel := range e.cancels {
		cancel()
	}
	e.cancels = nil
	e.pending = nil
	e.reconnect = nil
	e.queue.Close()
	e.logger.Info("engine disposed", "revision", e.replicator.last())
}

// start registers the connectivity watch and reads the checkpoint. Called
// with e.mu held.
func (e *Engine) start() {
	post := e.bind("connectivity")
	cancel := e.backend.WatchConnectivity(func(online bool) {
		post(func() { e.onConnectivity(online) })
	})
	e.cancels = append(e.cancels, cancel)
	e.loadCheckpoint()
}

func (e *Engine) loadCheckpoint() {
	post := e.bind("checkpoint load")
	e.backend.ReadCheckpoint(func(rec ir.CheckpointRecord, found bool, err error) {
		post(func() { e.onCheckpointLoaded(rec, found, err) })
	})
}

func (e *Engine) onCheckpointLoaded(rec ir.CheckpointRecord, found bool, err error) {
	switch {
	case err != nil && ir.IsTransient(err):
		e.logger.Warn("checkpoint read failed, retrying", "error", err)
		e.retryTransient(e.loadCheckpoint)
		return
	case err != nil:
		e.logger.Warn("checkpoint unavailable, replaying from first revision", "error", err)
	case found:
		rev, doc, perr := e.checkpoints.parse(rec)
		if perr != nil {
			e.logger.Warn("ignoring unusable checkpoint", "error", perr)
			break
		}
		e.replicator.seed(rev, doc)
		e.logger.Debug("loaded checkpoint", "revision", rev, "checkpoint_author", rec.Author)
	}
	e.startReplication(e.replicator.next())
}

func (e *Engine) startReplication(start revid.Revision) {
	e.startSubscription(start)
	e.readInitialHistory(start.Key())
}

func (e *Engine) readInitialHistory(start string) {
	post := e.bind("initial history")
	e.backend.ReadRange(start, "", func(recs []ir.KeyedRecord, err error) {
		post(func() { e.onInitialHistory(start, recs, err) })
	})
}

func (e *Engine) onInitialHistory(start string, recs []ir.KeyedRecord, err error) {
	if err != nil {
		if ir.IsTransient(err) {
			e.logger.Warn("initial history read failed, retrying", "error", err)
			e.retryTransient(func() { e.readInitialHistory(start) })
			return
		}
		// The subscription also delivers existing records, so loading can
		// still complete from the live stream.
		e.logger.Error("initial history read failed, continuing from subscription", "error", err)
	}

	for _, kr := range recs {
		e.offer(kr)
	}
	e.replicator.drain(func(rev revid.Revision, _ *HistoryEntry, err error) {
		if err != nil {
			e.metrics.EntrySkipped()
			e.logger.Warn("skipping malformed revision", "revision", rev, "error", err)
			return
		}
		e.metrics.EntryApplied()
	})
	e.metrics.BufferedEntries(e.replicator.buffer.Len())

	e.state = StateReady
	if e.disposeRequested {
		e.dispose()
		return
	}

	doc := e.replicator.document
	last := e.replicator.last()
	e.logger.Info("history loaded", "revision", last, "document_length", doc.TargetLength())
	e.emit(Event{Type: EventReady, Revision: last, Operation: doc})
}

func (e *Engine) onSubscriptionError(err error) {
	if ir.IsTransient(err) {
		e.logger.Warn("history subscription failed, resubscribing", "error", err)
		e.retryTransient(func() { e.startSubscription(e.replicator.next()) })
		return
	}
	e.logger.Error("history subscription failed", "error", err)
	if e.state == StateReady {
		e.emit(Event{Type: EventError, Revision: revid.None, Err: newStoreFailure(revid.None, "history subscription failed", err)})
	}
}

// startSubscription delivers records from start onward to onRecord.
func (e *Engine) startSubscription(start revid.Revision) {
	post := e.bind("history record")
	cancel := e.backend.Subscribe(start.Key(),
		func(kr ir.KeyedRecord) { post(func() { e.onRecord(kr) }) },
		func(err error) { post(func() { e.onSubscriptionError(err) }) },
	)
	e.cancels = append(e.cancels, cancel)
}

func (e *Engine) onRecord(kr ir.KeyedRecord) {
	if !e.offer(kr) || e.state != StateReady {
		return
	}
	e.drainLive()
}

// offer buffers kr and reports whether it was new.
func (e *Engine) offer(kr ir.KeyedRecord) bool {
	rev, added, err := e.replicator.buffer.Offer(kr)
	if err != nil {
		e.logger.Warn("ignoring record with malformed key", "error", err)
		return false
	}
	if !added {
		e.logger.Debug("ignoring duplicate record", "revision", rev)
	}
	return added
}

// drainLive applies buffered records and reconciles the pending submission.
func (e *Engine) drainLive() {
	var lost *pendingSubmission
	e.replicator.drain(func(rev revid.Revision, entry *HistoryEntry, err error) {
		if p := e.reconcile(rev, entry, err); p != nil {
			lost = p
		}
	})
	e.metrics.BufferedEntries(e.replicator.buffer.Len())

	if lost != nil {
		e.metrics.SubmissionRetried()
		e.logger.Info("submission lost its revision, retry required", "revision", lost.revision)
		e.resolve(lost, SubmitResult{Outcome: OutcomeRetry, Revision: lost.revision})
		e.emit(Event{Type: EventRetry, Revision: lost.revision})
	}
}

// runTask runs t under the engine lock and then delivers its notifications.
func (e *Engine) runTask(t task) {
	e.mu.Lock()
	if !e.gen.Live(t.gen) {
		e.mu.Unlock()
		e.logger.Debug("dropping stale callback", "task", t.name)
		return
	}
	t.fn()
	notes := e.outbox
	e.outbox = nil
	e.mu.Unlock()

	for _, n := range notes {
		n()
	}
}

// bind returns a function that schedules work tagged with the current
// generation. Request sites call it before issuing the backend call.
func (e *Engine) bind(name string) func(func()) {
	gen := e.gen.Current()
	return func(fn func()) {
		if !e.queue.Enqueue(task{gen: gen, name: name, fn: fn}) {
			e.logger.Debug("engine disposed, dropping callback", "task", name)
		}
	}
}

// emit queues ev for the listeners registered now.
func (e *Engine) emit(ev Event) {
	listeners := append([]EventHandler(nil), e.listeners...)
	e.outbox = append(e.outbox, func() {
		for _, h := range listeners {
			h(ev)
		}
	})
}

// notify queues fn to run after the current task releases the lock.
func (e *Engine) notify(fn func()) {
	e.outbox = append(e.outbox, fn)
}
