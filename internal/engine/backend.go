package engine

import (
	"time"

	"github.com/roach88/revsync/internal/ir"
	"github.com/roach88/revsync/internal/revid"
)

// Backend is the asynchronous store seen by the engine. All callbacks may be
// invoked from any goroutine; the engine re-queues them onto its task loop.
//
// Keys are revision keys from package revid. An empty end key in ReadRange
// means "no upper bound".
type Backend interface {
	// PutIfAbsent writes rec at key only if the key is empty. committed is
	// false when another writer already holds the key.
	PutIfAbsent(key string, rec ir.HistoryRecord, done func(committed bool, err error))

	// ReadRange reads the inclusive key range [start, end] in key order.
	ReadRange(start, end string, done func([]ir.KeyedRecord, error))

	// Subscribe delivers every record with key >= start, existing and future,
	// in no guaranteed order. onError reports a subscription that could not
	// be established.
	Subscribe(start string, onRecord func(ir.KeyedRecord), onError func(error)) (cancel func())

	ReadCheckpoint(done func(rec ir.CheckpointRecord, found bool, err error))
	WriteCheckpoint(rec ir.CheckpointRecord, done func(error))

	// WatchConnectivity reports online/offline transitions.
	WatchConnectivity(fn func(online bool)) (cancel func())
	Online() bool
}

// HistoryEntry is a validated history record.
type HistoryEntry struct {
	Author    string
	Operation ir.Operation
}

// EntryInfo describes one revision for history listings.
type EntryInfo struct {
	Revision  revid.Revision
	Key       string
	Author    string
	WrittenAt time.Time
}
