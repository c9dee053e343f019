// Package backend adapts blocking store drivers to the callback interface the
// engine consumes.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/revsync/internal/engine"
	"github.com/roach88/revsync/internal/ir"
)

// DefaultTimeout bounds each driver call.
const DefaultTimeout = 10 * time.Second

// Reconnect delays. The first ping runs DefaultReconnectDelay after a
// transient failure; each failed ping, and each failure shortly after a
// reconnect, doubles the delay up to DefaultMaxReconnectDelay.
const (
	DefaultReconnectDelay    = 250 * time.Millisecond
	DefaultMaxReconnectDelay = 10 * time.Second
)

// ErrOffline is returned for writes attempted while the remote is offline.
var ErrOffline = fmt.Errorf("%w: offline", ir.ErrTransient)

// Driver is a blocking history store holding many documents. The SQLite and
// Redis stores implement it.
type Driver interface {
	PutIfAbsent(ctx context.Context, docID, key string, rec ir.HistoryRecord) (bool, error)
	ReadRange(ctx context.Context, docID, start, end string) ([]ir.KeyedRecord, error)
	ReadCheckpoint(ctx context.Context, docID string) (ir.CheckpointRecord, bool, error)
	WriteCheckpoint(ctx context.Context, docID string, rec ir.CheckpointRecord) error
	// Subscribe delivers existing and future records with key >= start until
	// cancel is called or ctx is done.
	Subscribe(ctx context.Context, docID, start string, fn func(ir.KeyedRecord)) (cancel func(), err error)
	// IsTransient reports driver errors worth retrying.
	IsTransient(err error) bool
}

// Pinger is implemented by drivers with a health check cheaper than a read.
// Remote pings it while offline to detect reconnection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Remote runs Driver calls for one document on background goroutines and
// reports results through callbacks.
//
// A transient driver failure takes the Remote offline: watchers are told,
// writes fail fast with ErrOffline, and a background loop pings the driver
// with backoff until it answers, then brings the Remote back online.
type Remote struct {
	driver   Driver
	docID    string
	timeout  time.Duration
	minDelay time.Duration
	maxDelay time.Duration
	logger   *slog.Logger

	mu           sync.Mutex
	online       bool
	reconnecting bool
	closed       bool
	delay        time.Duration
	watchers     map[int]func(bool)
	nextID       int

	stop      chan struct{}
	closeOnce sync.Once
	pingers   sync.WaitGroup
	wg        sync.WaitGroup
}

var _ engine.Backend = (*Remote)(nil)

// Option configures a Remote.
type Option func(*Remote)

// WithTimeout bounds each driver call. Default: DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Remote) {
		r.timeout = d
	}
}

// WithReconnectBackoff sets the first and the largest delay between
// reconnect pings.
func WithReconnectBackoff(first, limit time.Duration) Option {
	return func(r *Remote) {
		r.minDelay = first
		r.maxDelay = limit
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Remote) {
		r.logger = l
	}
}

// NewRemote creates an online Remote for docID.
func NewRemote(driver Driver, docID string, opts ...Option) *Remote {
	r := &Remote{
		driver:   driver,
		docID:    docID,
		timeout:  DefaultTimeout,
		minDelay: DefaultReconnectDelay,
		maxDelay: DefaultMaxReconnectDelay,
		logger:   slog.Default(),
		online:   true,
		watchers: make(map[int]func(bool)),
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.maxDelay < r.minDelay {
		r.maxDelay = r.minDelay
	}
	r.delay = r.minDelay
	r.logger = r.logger.With("component", "backend", "doc", docID)
	return r
}

// PutIfAbsent implements engine.Backend. Offline writes fail with ErrOffline.
func (r *Remote) PutIfAbsent(key string, rec ir.HistoryRecord, done func(bool, error)) {
	if !r.Online() {
		r.async(func() { done(false, ErrOffline) })
		return
	}
	r.async(func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		committed, err := r.driver.PutIfAbsent(ctx, r.docID, key, rec)
		done(committed, r.classify("put "+key, err))
	})
}

// ReadRange implements engine.Backend.
func (r *Remote) ReadRange(start, end string, done func([]ir.KeyedRecord, error)) {
	r.async(func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		recs, err := r.driver.ReadRange(ctx, r.docID, start, end)
		done(recs, r.classify("read range", err))
	})
}

// ReadCheckpoint implements engine.Backend.
func (r *Remote) ReadCheckpoint(done func(ir.CheckpointRecord, bool, error)) {
	r.async(func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		rec, found, err := r.driver.ReadCheckpoint(ctx, r.docID)
		done(rec, found, r.classify("read checkpoint", err))
	})
}

// WriteCheckpoint implements engine.Backend.
func (r *Remote) WriteCheckpoint(rec ir.CheckpointRecord, done func(error)) {
	if !r.Online() {
		r.async(func() { done(ErrOffline) })
		return
	}
	r.async(func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		done(r.classify("write checkpoint", r.driver.WriteCheckpoint(ctx, r.docID, rec)))
	})
}

// Subscribe implements engine.Backend. The subscription is established in
// the background; cancelling before that finishes tears it down as soon as
// it exists.
func (r *Remote) Subscribe(start string, onRecord func(ir.KeyedRecord), onError func(error)) func() {
	ctx, cancelCtx := context.WithCancel(context.Background())

	var (
		mu        sync.Mutex
		stop      func()
		cancelled bool
	)

	r.async(func() {
		s, err := r.driver.Subscribe(ctx, r.docID, start, onRecord)
		if err != nil {
			if ctx.Err() == nil && onError != nil {
				onError(r.classify("subscribe", err))
			}
			return
		}
		mu.Lock()
		if cancelled {
			mu.Unlock()
			s()
			return
		}
		stop = s
		mu.Unlock()
	})

	var once sync.Once
	return func() {
		once.Do(func() {
			cancelCtx()
			mu.Lock()
			cancelled = true
			s := stop
			stop = nil
			mu.Unlock()
			if s != nil {
				s()
			}
		})
	}
}

// WatchConnectivity implements engine.Backend.
func (r *Remote) WatchConnectivity(fn func(bool)) func() {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.watchers[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.watchers, id)
		r.mu.Unlock()
	}
}

// Online implements engine.Backend.
func (r *Remote) Online() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.online
}

// SetOnline changes the connection state and notifies watchers.
func (r *Remote) SetOnline(online bool) {
	r.mu.Lock()
	if r.online == online {
		r.mu.Unlock()
		return
	}
	r.online = online
	watchers := make([]func(bool), 0, len(r.watchers))
	for _, fn := range r.watchers {
		watchers = append(watchers, fn)
	}
	r.mu.Unlock()

	r.logger.Info("connectivity changed", "online", online)
	for _, fn := range watchers {
		fn(online)
	}
}

// Wait blocks until every in-flight driver call has returned.
func (r *Remote) Wait() {
	r.wg.Wait()
}

// Close stops the reconnect loop and waits for in-flight driver calls.
func (r *Remote) Close() {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()
		close(r.stop)
	})
	r.pingers.Wait()
	r.wg.Wait()
}

// markOffline takes an online Remote offline and starts the reconnect loop.
// The first ping delay doubles on every call until a driver call succeeds.
func (r *Remote) markOffline() {
	r.mu.Lock()
	if !r.online || r.reconnecting || r.closed {
		r.mu.Unlock()
		return
	}
	r.reconnecting = true
	delay := r.delay
	r.delay = min(r.delay*2, r.maxDelay)
	r.pingers.Add(1)
	r.mu.Unlock()

	r.SetOnline(false)
	go r.reconnect(delay)
}

func (r *Remote) reconnect(delay time.Duration) {
	defer r.pingers.Done()

	timer := time.NewTimer(delay)
	defer timer.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		err := r.ping(ctx)
		cancel()
		if err == nil {
			break
		}
		delay = min(delay*2, r.maxDelay)
		r.logger.Debug("reconnect ping failed", "error", err, "retry_in", delay)
		timer.Reset(delay)
	}

	r.mu.Lock()
	r.reconnecting = false
	r.mu.Unlock()
	r.SetOnline(true)
}

func (r *Remote) ping(ctx context.Context) error {
	if p, ok := r.driver.(Pinger); ok {
		return p.Ping(ctx)
	}
	_, _, err := r.driver.ReadCheckpoint(ctx, r.docID)
	return err
}

// succeeded resets the reconnect delay once the driver answers normally.
func (r *Remote) succeeded() {
	r.mu.Lock()
	r.delay = r.minDelay
	r.mu.Unlock()
}

func (r *Remote) async(fn func()) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		fn()
	}()
}

// classify wraps retryable driver errors with ir.ErrTransient and takes the
// Remote offline on them.
func (r *Remote) classify(op string, err error) error {
	var out error
	switch {
	case err == nil:
		r.succeeded()
		return nil
	case ir.IsTransient(err):
		out = fmt.Errorf("%s: %w", op, err)
	case r.driver.IsTransient(err) || errors.Is(err, context.DeadlineExceeded):
		out = fmt.Errorf("%w: %s: %w", ir.ErrTransient, op, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
	r.logger.Debug("transient driver failure", "op", op, "error", err)
	r.markOffline()
	return out
}
