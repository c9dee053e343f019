package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/revsync/internal/ir"
	"github.com/roach88/revsync/internal/revid"
)

// Subscribe delivers every history record of docID with key >= start: first
// the records already stored, then each record as it is inserted. Inserts
// through this Store are pushed at once; inserts through other connections
// to the same database file are picked up by polling from the first key not
// yet delivered. fn runs on a goroutine owned by the subscription, one record
// at a time, and sees each key at most once.
//
// The returned cancel function stops delivery; it is safe to call more than once.
func (s *Store) Subscribe(ctx context.Context, docID, start string, fn func(ir.KeyedRecord)) (func(), error) {
	sub := newSubscriber(start, fn)

	// Register before reading so no insert falls between the read and the feed.
	s.feed.add(docID, sub)

	existing, err := s.ReadRange(ctx, docID, start, "")
	if err != nil {
		s.feed.remove(docID, sub)
		return nil, fmt.Errorf("subscribe %s: %w", docID, err)
	}

	sub.pushFront(existing)
	go sub.run()
	if s.poll > 0 {
		go s.pollInto(docID, sub)
	}

	return func() {
		s.feed.remove(docID, sub)
		sub.stop()
	}, nil
}

// pollInto re-reads history from the subscriber's resume key until the
// subscription stops. Read errors are retried on the next tick.
func (s *Store) pollInto(docID string, sub *subscriber) {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-sub.done:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.poll*4)
		krs, err := s.ReadRange(ctx, docID, sub.resume(), "")
		cancel()
		if err != nil {
			continue
		}
		for _, kr := range krs {
			sub.push(kr)
		}
	}
}

// feed fans inserted records out to subscribers, per document.
type feed struct {
	mu   sync.Mutex
	subs map[string]map[*subscriber]struct{}
}

func newFeed() *feed {
	return &feed{subs: make(map[string]map[*subscriber]struct{})}
}

func (f *feed) add(docID string, sub *subscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs[docID] == nil {
		f.subs[docID] = make(map[*subscriber]struct{})
	}
	f.subs[docID][sub] = struct{}{}
}

func (f *feed) remove(docID string, sub *subscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs[docID], sub)
	if len(f.subs[docID]) == 0 {
		delete(f.subs, docID)
	}
}

func (f *feed) publish(docID string, kr ir.KeyedRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sub := range f.subs[docID] {
		if kr.Key >= sub.start {
			sub.push(kr)
		}
	}
}

func (f *feed) closeAll() {
	f.mu.Lock()
	subs := f.subs
	f.subs = make(map[string]map[*subscriber]struct{})
	f.mu.Unlock()

	for _, set := range subs {
		for sub := range set {
			sub.stop()
		}
	}
}

// subscriber is an unbounded FIFO drained by its own goroutine, so a slow
// consumer never blocks writers. cursor drops keys already delivered.
type subscriber struct {
	start string
	fn    func(ir.KeyedRecord)

	mu      sync.Mutex
	cursor  *revid.Cursor
	pending []ir.KeyedRecord
	signal  chan struct{} // buffered, size 1
	done    chan struct{}
	once    sync.Once
}

func newSubscriber(start string, fn func(ir.KeyedRecord)) *subscriber {
	return &subscriber{
		start:  start,
		fn:     fn,
		cursor: revid.NewCursor(start),
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (s *subscriber) push(kr ir.KeyedRecord) {
	s.mu.Lock()
	if s.cursor.Seen(kr.Key) {
		s.mu.Unlock()
		return
	}
	s.pending = append(s.pending, kr)
	s.mu.Unlock()
	s.notify()
}

// resume returns the first key not yet delivered.
func (s *subscriber) resume() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor.Next()
}

// pushFront queues the initial read ahead of anything published meanwhile.
func (s *subscriber) pushFront(krs []ir.KeyedRecord) {
	s.mu.Lock()
	s.pending = append(append([]ir.KeyedRecord{}, krs...), s.pending...)
	s.mu.Unlock()
	s.notify()
}

func (s *subscriber) notify() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.signal:
		}

		for {
			s.mu.Lock()
			if len(s.pending) == 0 {
				s.mu.Unlock()
				break
			}
			kr := s.pending[0]
			s.pending[0] = ir.KeyedRecord{}
			s.pending = s.pending[1:]
			fresh := s.cursor.Mark(kr.Key)
			s.mu.Unlock()

			if !fresh {
				continue
			}

			select {
			case <-s.done:
				return
			default:
			}
			s.fn(kr)
		}
	}
}
