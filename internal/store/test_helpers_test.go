package store

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/revsync/internal/ir"
)

// createTestStore creates a new temp-dir store for testing.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// fixedClock returns a store clock pinned to ms Unix milliseconds.
func fixedClock(ms int64) Option {
	return WithClock(func() time.Time { return time.UnixMilli(ms) })
}

// createTestRecord creates a history record with the given operation JSON.
func createTestRecord(author, op string) ir.HistoryRecord {
	return ir.HistoryRecord{
		Author:    author,
		Operation: json.RawMessage(op),
	}
}
