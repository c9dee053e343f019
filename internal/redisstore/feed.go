package redisstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/revsync/internal/ir"
	"github.com/roach88/revsync/internal/revid"
)

// Subscribe delivers every history record of docID with key >= start: first
// the records already stored, then each record announced on the document's
// feed channel. fn runs on one goroutine owned by the subscription and sees
// each key at most once.
//
// Announcements only wake the subscription; records are read from the index
// starting at the first key not yet delivered, so a failed read or a message
// lost while the client reconnects is recovered on the next announcement or
// resync tick.
//
// The subscription ends when cancel is called or ctx is done.
func (s *Store) Subscribe(ctx context.Context, docID, start string, fn func(ir.KeyedRecord)) (func(), error) {
	ctx, cancelCtx := context.WithCancel(ctx)
	pubsub := s.client.Subscribe(ctx, s.feedChannel(docID))

	// Wait for the subscription to be confirmed so no publish falls between
	// the read below and the channel.
	if _, err := pubsub.Receive(ctx); err != nil {
		cancelCtx()
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", docID, err)
	}

	existing, err := s.ReadRange(ctx, docID, start, "")
	if err != nil {
		cancelCtx()
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", docID, err)
	}

	f := &follower{store: s, docID: docID, cursor: revid.NewCursor(start), fn: fn}
	ch := pubsub.Channel()
	go func() {
		f.emit(ctx, existing)

		var tick <-chan time.Time
		if s.resync > 0 {
			ticker := time.NewTicker(s.resync)
			defer ticker.Stop()
			tick = ticker.C
		}
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if f.cursor.Seen(msg.Payload) {
					continue
				}
				f.catchUp(ctx)
			case <-tick:
				f.catchUp(ctx)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancelCtx()
			pubsub.Close()
		})
	}, nil
}

// follower is the delivery state of one subscription. It is owned by the
// subscription goroutine.
type follower struct {
	store  *Store
	docID  string
	cursor *revid.Cursor
	fn     func(ir.KeyedRecord)
}

// catchUp reads from the first undelivered key. A failed read leaves the
// cursor where it is for the next attempt.
func (f *follower) catchUp(ctx context.Context) {
	krs, err := f.store.ReadRange(ctx, f.docID, f.cursor.Next(), "")
	if err != nil {
		return
	}
	f.emit(ctx, krs)
}

func (f *follower) emit(ctx context.Context, krs []ir.KeyedRecord) {
	for _, kr := range krs {
		if ctx.Err() != nil {
			return
		}
		if f.cursor.Mark(kr.Key) {
			f.fn(kr)
		}
	}
}
