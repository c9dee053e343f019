package testutil

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/revsync/internal/ir"
)

// ErrOffline is returned by ScriptedBackend writes while it is offline.
var ErrOffline = fmt.Errorf("%w: backend offline", ir.ErrTransient)

// ScriptedBackend is an in-memory history store whose timing is controlled
// by the test.
//
// Calls complete synchronously unless held: HoldReads parks range reads
// until ReleaseReads, and HoldDeliveries parks subscription deliveries until
// ReleaseHeld, which can release them in any order. Failures are injected
// per call with FailNextWrite, FailNextRead and FailNextCheckpointRead.
//
// Safe for concurrent use. Callbacks run outside the internal lock.
type ScriptedBackend struct {
	mu    sync.Mutex
	clock *DeterministicClock

	records    map[string]ir.HistoryRecord
	checkpoint *ir.CheckpointRecord
	online     bool

	subs     map[int]*scriptedSub
	watchers map[int]func(bool)
	nextID   int

	holdReads      bool
	heldReads      []func()
	holdDeliveries bool
	held           []ir.KeyedRecord

	writeErrs      []error
	readErrs       []error
	checkpointErrs []error

	writes           []ir.KeyedRecord
	checkpointWrites []ir.CheckpointRecord
}

type scriptedSub struct {
	start    string
	onRecord func(ir.KeyedRecord)
}

// NewScriptedBackend creates an empty, online backend.
func NewScriptedBackend() *ScriptedBackend {
	return &ScriptedBackend{
		clock:    NewDeterministicClock(),
		records:  make(map[string]ir.HistoryRecord),
		online:   true,
		subs:     make(map[int]*scriptedSub),
		watchers: make(map[int]func(bool)),
	}
}

// PutIfAbsent stores rec at key unless the key is taken. A taken key holding
// the same author and operation reports committed, as a resend would.
func (b *ScriptedBackend) PutIfAbsent(key string, rec ir.HistoryRecord, done func(bool, error)) {
	b.mu.Lock()
	b.writes = append(b.writes, ir.KeyedRecord{Key: key, Record: rec})

	if err := pop(&b.writeErrs); err != nil {
		b.mu.Unlock()
		done(false, err)
		return
	}
	if !b.online {
		b.mu.Unlock()
		done(false, ErrOffline)
		return
	}
	if existing, ok := b.records[key]; ok {
		same := existing.Author == rec.Author && bytes.Equal(existing.Operation, rec.Operation)
		b.mu.Unlock()
		done(same, nil)
		return
	}

	rec.WrittenAt = b.clock.Now().UnixMilli()
	b.records[key] = rec
	deliver := b.publishLocked(ir.KeyedRecord{Key: key, Record: rec})
	b.mu.Unlock()

	done(true, nil)
	deliver()
}

// ReadRange returns stored records with start <= key <= end in key order.
// An empty end is unbounded.
func (b *ScriptedBackend) ReadRange(start, end string, done func([]ir.KeyedRecord, error)) {
	b.mu.Lock()
	if err := pop(&b.readErrs); err != nil {
		b.mu.Unlock()
		done(nil, err)
		return
	}
	recs := b.rangeLocked(start, end)
	if b.holdReads {
		b.heldReads = append(b.heldReads, func() { done(recs, nil) })
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()
	done(recs, nil)
}

// Subscribe delivers the records already stored from start onward, then
// every record stored or injected later.
func (b *ScriptedBackend) Subscribe(start string, onRecord func(ir.KeyedRecord), _ func(error)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = &scriptedSub{start: start, onRecord: onRecord}
	existing := b.rangeLocked(start, "")
	if b.holdDeliveries {
		b.held = append(b.held, existing...)
		existing = nil
	}
	b.mu.Unlock()

	for _, kr := range existing {
		onRecord(kr)
	}

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// ReadCheckpoint returns the stored checkpoint.
func (b *ScriptedBackend) ReadCheckpoint(done func(ir.CheckpointRecord, bool, error)) {
	b.mu.Lock()
	if err := pop(&b.checkpointErrs); err != nil {
		b.mu.Unlock()
		done(ir.CheckpointRecord{}, false, err)
		return
	}
	cp := b.checkpoint
	b.mu.Unlock()

	if cp == nil {
		done(ir.CheckpointRecord{}, false, nil)
		return
	}
	done(*cp, true, nil)
}

// WriteCheckpoint replaces the stored checkpoint.
func (b *ScriptedBackend) WriteCheckpoint(rec ir.CheckpointRecord, done func(error)) {
	b.mu.Lock()
	b.checkpointWrites = append(b.checkpointWrites, rec)
	if !b.online {
		b.mu.Unlock()
		done(ErrOffline)
		return
	}
	b.checkpoint = &rec
	b.mu.Unlock()
	done(nil)
}

// WatchConnectivity registers fn for SetOnline transitions.
func (b *ScriptedBackend) WatchConnectivity(fn func(bool)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.watchers[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.watchers, id)
		b.mu.Unlock()
	}
}

// Online reports the simulated connection state.
func (b *ScriptedBackend) Online() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.online
}

// SetOnline changes the connection state and notifies watchers.
func (b *ScriptedBackend) SetOnline(online bool) {
	b.mu.Lock()
	if b.online == online {
		b.mu.Unlock()
		return
	}
	b.online = online
	watchers := make([]func(bool), 0, len(b.watchers))
	for _, id := range sortedIDs(b.watchers) {
		watchers = append(watchers, b.watchers[id])
	}
	b.mu.Unlock()

	for _, fn := range watchers {
		fn(online)
	}
}

// Inject stores a record as if another client wrote it, stamping WrittenAt,
// and delivers it to subscribers.
func (b *ScriptedBackend) Inject(key string, rec ir.HistoryRecord) {
	b.mu.Lock()
	if rec.WrittenAt == 0 {
		rec.WrittenAt = b.clock.Now().UnixMilli()
	}
	b.records[key] = rec
	deliver := b.publishLocked(ir.KeyedRecord{Key: key, Record: rec})
	b.mu.Unlock()
	deliver()
}

// Seed stores records without delivering them.
func (b *ScriptedBackend) Seed(recs ...ir.KeyedRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, kr := range recs {
		if kr.Record.WrittenAt == 0 {
			kr.Record.WrittenAt = b.clock.Now().UnixMilli()
		}
		b.records[kr.Key] = kr.Record
	}
}

// Deliver pushes kr to subscribers without storing it.
func (b *ScriptedBackend) Deliver(kr ir.KeyedRecord) {
	b.mu.Lock()
	deliver := b.publishLocked(kr)
	b.mu.Unlock()
	deliver()
}

// SetCheckpoint replaces the stored checkpoint.
func (b *ScriptedBackend) SetCheckpoint(rec ir.CheckpointRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.checkpoint = &rec
}

// Checkpoint returns the stored checkpoint.
func (b *ScriptedBackend) Checkpoint() (ir.CheckpointRecord, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.checkpoint == nil {
		return ir.CheckpointRecord{}, false
	}
	return *b.checkpoint, true
}

// Record returns the record stored at key.
func (b *ScriptedBackend) Record(key string) (ir.HistoryRecord, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.records[key]
	return rec, ok
}

// Writes returns every PutIfAbsent call in order, including failed ones.
func (b *ScriptedBackend) Writes() []ir.KeyedRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]ir.KeyedRecord(nil), b.writes...)
}

// CheckpointWrites returns every WriteCheckpoint call in order.
func (b *ScriptedBackend) CheckpointWrites() []ir.CheckpointRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]ir.CheckpointRecord(nil), b.checkpointWrites...)
}

// FailNextWrite makes the next PutIfAbsent fail with err.
func (b *ScriptedBackend) FailNextWrite(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writeErrs = append(b.writeErrs, err)
}

// FailNextRead makes the next ReadRange fail with err.
func (b *ScriptedBackend) FailNextRead(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.readErrs = append(b.readErrs, err)
}

// FailNextCheckpointRead makes the next ReadCheckpoint fail with err.
func (b *ScriptedBackend) FailNextCheckpointRead(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.checkpointErrs = append(b.checkpointErrs, err)
}

// HoldReads parks range read results until ReleaseReads.
func (b *ScriptedBackend) HoldReads() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.holdReads = true
}

// ReleaseReads completes parked reads and stops holding new ones.
func (b *ScriptedBackend) ReleaseReads() {
	b.mu.Lock()
	reads := b.heldReads
	b.heldReads = nil
	b.holdReads = false
	b.mu.Unlock()

	for _, done := range reads {
		done()
	}
}

// HoldDeliveries parks subscription deliveries until ReleaseHeld.
func (b *ScriptedBackend) HoldDeliveries() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.holdDeliveries = true
}

// HeldKeys returns the keys of parked deliveries in arrival order.
func (b *ScriptedBackend) HeldKeys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := make([]string, len(b.held))
	for i, kr := range b.held {
		keys[i] = kr.Key
	}
	return keys
}

// ReleaseHeld delivers parked records with the given keys in the given
// order, or all of them in arrival order when no keys are given. Delivery
// stays held for records that arrive later.
func (b *ScriptedBackend) ReleaseHeld(keys ...string) error {
	b.mu.Lock()
	var out []ir.KeyedRecord
	if len(keys) == 0 {
		out = b.held
		b.held = nil
	} else {
		for _, key := range keys {
			i := indexOfKey(b.held, key)
			if i < 0 {
				b.mu.Unlock()
				return fmt.Errorf("no held delivery for key %q", key)
			}
			out = append(out, b.held[i])
			b.held = append(b.held[:i], b.held[i+1:]...)
		}
	}
	subs := b.subscribersLocked()
	b.mu.Unlock()

	for _, kr := range out {
		for _, s := range subs {
			if kr.Key >= s.start {
				s.onRecord(kr)
			}
		}
	}
	return nil
}

// ResumeDeliveries releases everything parked and stops holding.
func (b *ScriptedBackend) ResumeDeliveries() {
	b.mu.Lock()
	b.holdDeliveries = false
	b.mu.Unlock()
	_ = b.ReleaseHeld()
}

// publishLocked returns a function delivering kr to current subscribers, or
// parks kr when deliveries are held.
func (b *ScriptedBackend) publishLocked(kr ir.KeyedRecord) func() {
	if b.holdDeliveries {
		b.held = append(b.held, kr)
		return func() {}
	}
	subs := b.subscribersLocked()
	return func() {
		for _, s := range subs {
			if kr.Key >= s.start {
				s.onRecord(kr)
			}
		}
	}
}

func (b *ScriptedBackend) subscribersLocked() []*scriptedSub {
	subs := make([]*scriptedSub, 0, len(b.subs))
	for _, id := range sortedIDs(b.subs) {
		subs = append(subs, b.subs[id])
	}
	return subs
}

func (b *ScriptedBackend) rangeLocked(start, end string) []ir.KeyedRecord {
	var out []ir.KeyedRecord
	for key, rec := range b.records {
		if key < start || (end != "" && key > end) {
			continue
		}
		out = append(out, ir.KeyedRecord{Key: key, Record: rec})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func indexOfKey(recs []ir.KeyedRecord, key string) int {
	for i, kr := range recs {
		if kr.Key == key {
			return i
		}
	}
	return -1
}

func sortedIDs[T any](m map[int]T) []int {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func pop(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

// ErrScripted is a generic fatal failure for tests.
var ErrScripted = errors.New("scripted failure")
