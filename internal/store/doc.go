// Package store provides the SQLite-backed history store for revsync.
//
// The store keeps, per document:
//   - History: one immutable record per confirmed revision, keyed by the
//     revid-encoded revision number
//   - Checkpoint: a single overwritable snapshot slot
//
// # Critical Patterns
//
// First Writer Wins:
//   - PRIMARY KEY(doc_id, revision_key) with INSERT ... ON CONFLICT DO NOTHING
//   - A write to an occupied key never replaces the existing record
//   - Resending an identical record (same author and operation) reports
//     committed=true without writing, so retries are safe
//
// Deterministic Ordering:
//   - Range reads use ORDER BY revision_key COLLATE BINARY ASC
//   - revid keys sort bytewise in revision order, so no numeric column is needed
//
// Server Timestamps:
//   - written_at is stamped by the store clock, never taken from the caller
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// SQLite has no change feed, so live subscriptions are served by an
// in-process feed that publishes every committed insert. Subscribers in other
// processes must poll with ReadRange.
package store
