package ir

import (
	"encoding/json"
	"time"
)

// HistoryRecord is the stored form of one confirmed edit at history/{key}.
type HistoryRecord struct {
	Author    string          `json:"a"`
	Operation json.RawMessage `json:"o"`
	// WrittenAt is stamped by the store in Unix milliseconds.
	WrittenAt int64 `json:"t"`
}

// Time returns WrittenAt as a time.Time.
func (r HistoryRecord) Time() time.Time {
	return time.UnixMilli(r.WrittenAt).UTC()
}

// KeyedRecord pairs a history record with its key.
type KeyedRecord struct {
	Key    string
	Record HistoryRecord
}

// CheckpointRecord is the stored form of the single checkpoint slot.
type CheckpointRecord struct {
	Author    string          `json:"a"`
	Operation json.RawMessage `json:"o"`
	// RevisionKey is the key of the last revision folded into Operation.
	RevisionKey string `json:"id"`
}

// IsZero reports whether the record is unset.
func (c CheckpointRecord) IsZero() bool {
	return c.Author == "" && len(c.Operation) == 0 && c.RevisionKey == ""
}
