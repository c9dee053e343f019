// Package session runs an engine loop on its own goroutine and exposes
// blocking, context-aware calls for the CLI and the HTTP API.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/roach88/revsync/internal/engine"
	"github.com/roach88/revsync/internal/ir"
	"github.com/roach88/revsync/internal/revid"
	"github.com/roach88/revsync/internal/textop"
)

// ErrClosed is returned once the engine loop has stopped.
var ErrClosed = errors.New("session closed")

// DefaultEditAttempts bounds how often Edit rebuilds an edit after losing
// its slot.
const DefaultEditAttempts = 5

// Session owns one text-document engine.
type Session struct {
	eng    *engine.Engine
	cancel context.CancelFunc
	done   chan struct{}
	runErr error

	ready     chan struct{}
	readyOnce sync.Once

	// submitMu serializes submissions; the engine allows one at a time.
	submitMu sync.Mutex

	mu        sync.Mutex
	listeners map[int]engine.EventHandler
	nextID    int
}

// Start creates an engine for text documents over backend and runs its loop
// until Close.
func Start(backend engine.Backend, opts ...engine.Option) (*Session, error) {
	eng, err := engine.New(backend, textop.Codec{}, opts...)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		eng:       eng,
		cancel:    cancel,
		done:      make(chan struct{}),
		ready:     make(chan struct{}),
		listeners: make(map[int]engine.EventHandler),
	}
	eng.OnEvent(s.dispatch)

	go func() {
		defer close(s.done)
		err := eng.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.runErr = err
		}
	}()
	return s, nil
}

// Engine returns the underlying engine.
func (s *Session) Engine() *engine.Engine {
	return s.eng
}

// Subscribe registers fn for every later event and returns its cancel
// function. fn runs on the engine loop and must not block.
func (s *Session) Subscribe(fn engine.EventHandler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *Session) dispatch(ev engine.Event) {
	if ev.Type == engine.EventReady {
		s.readyOnce.Do(func() { close(s.ready) })
	}

	s.mu.Lock()
	fns := make([]engine.EventHandler, 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// WaitReady blocks until the initial history is loaded.
func (s *Session) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-s.done:
		return s.closedErr()
	case <-ctx.Done():
		return fmt.Errorf("wait for ready: %w", ctx.Err())
	}
}

// Ready reports whether the initial history is loaded.
func (s *Session) Ready() bool {
	select {
	case <-s.ready:
		return true
	default:
		return false
	}
}

// Text returns the current document text.
func (s *Session) Text() (string, error) {
	return textop.DocumentText(s.eng.Document())
}

// Revision returns the last applied revision.
func (s *Session) Revision() revid.Revision {
	return s.eng.LastRevision()
}

// Snapshot returns the current text and the revision it reflects.
func (s *Session) Snapshot() (string, revid.Revision, error) {
	rev, doc := s.eng.Snapshot()
	text, err := textop.DocumentText(doc)
	return text, rev, err
}

// History lists the entries after since.
func (s *Session) History(ctx context.Context, since revid.Revision) ([]engine.EntryInfo, error) {
	type result struct {
		infos []engine.EntryInfo
		err   error
	}
	ch := make(chan result, 1)
	err := s.eng.EntriesSince(since, func(infos []engine.EntryInfo, err error) {
		ch <- result{infos, err}
	})
	if err != nil {
		return nil, err
	}

	select {
	case r := <-ch:
		return r.infos, r.err
	case <-s.done:
		return nil, s.closedErr()
	case <-ctx.Done():
		return nil, fmt.Errorf("history: %w", ctx.Err())
	}
}

// DocumentAt returns the document text as of rev.
func (s *Session) DocumentAt(ctx context.Context, rev revid.Revision) (string, error) {
	type result struct {
		doc ir.Operation
		err error
	}
	ch := make(chan result, 1)
	err := s.eng.DocumentAtRevision(rev, func(doc ir.Operation, err error) {
		ch <- result{doc, err}
	})
	if err != nil {
		return "", err
	}

	select {
	case r := <-ch:
		if r.err != nil {
			return "", r.err
		}
		return textop.DocumentText(r.doc)
	case <-s.done:
		return "", s.closedErr()
	case <-ctx.Done():
		return "", fmt.Errorf("document at %s: %w", rev, ctx.Err())
	}
}

// Submit sends op and waits for its outcome. Concurrent callers are
// serialized.
func (s *Session) Submit(ctx context.Context, op ir.Operation) (engine.SubmitResult, error) {
	s.submitMu.Lock()
	defer s.submitMu.Unlock()
	return s.submitLocked(ctx, op)
}

func (s *Session) submitLocked(ctx context.Context, op ir.Operation) (engine.SubmitResult, error) {
	ch := make(chan engine.SubmitResult, 1)
	if err := s.eng.Submit(op, func(res engine.SubmitResult) { ch <- res }); err != nil {
		return engine.SubmitResult{}, err
	}

	select {
	case res := <-ch:
		return res, nil
	case <-s.done:
		return engine.SubmitResult{}, s.closedErr()
	case <-ctx.Done():
		// The submission stays pending until the store answers.
		return engine.SubmitResult{}, fmt.Errorf("submit: %w", ctx.Err())
	}
}

// EditResult reports the outcome of Edit.
type EditResult struct {
	engine.SubmitResult
	Attempts int
}

// Edit deletes del characters at pos and inserts text there, rebuilding the
// edit against the new document each time another writer wins the slot.
// It gives up after attempts tries.
func (s *Session) Edit(ctx context.Context, pos int, text string, del, attempts int) (EditResult, error) {
	if attempts <= 0 {
		attempts = DefaultEditAttempts
	}

	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	var res EditResult
	for res.Attempts < attempts {
		res.Attempts++

		op, err := textop.Edit(s.eng.Document().TargetLength(), pos, text, del)
		if err != nil {
			return res, err
		}
		sr, err := s.submitLocked(ctx, op)
		if err != nil {
			// A peer revision may land between reading the length and
			// submitting.
			if engine.IsContractViolation(err) && res.Attempts < attempts {
				continue
			}
			return res, err
		}
		res.SubmitResult = sr
		if sr.Outcome != engine.OutcomeRetry {
			return res, nil
		}
	}
	return res, nil
}

// Close disposes the engine and waits for its loop to stop.
func (s *Session) Close() error {
	s.eng.Dispose()
	s.cancel()
	<-s.done
	return s.runErr
}

func (s *Session) closedErr() error {
	if s.runErr != nil {
		return fmt.Errorf("%w: %w", ErrClosed, s.runErr)
	}
	return ErrClosed
}
