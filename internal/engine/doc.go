// Package engine keeps a local copy of a shared document in sync with an
// append-only revision log.
//
// ARCHITECTURE:
//
// Single-Writer Task Loop:
// Backend callbacks never touch engine state directly. Each one posts a task
// to a FIFO queue and the engine runs tasks one at a time under its mutex,
// either from Run (production) or RunPending (tests). This gives:
// - A single ordering of all state changes
// - Reproducible runs against a scripted backend
// - Listener callbacks that always run outside the lock
//
// Replication Flow:
// 1. The latest checkpoint (if any) seeds revision r and its snapshot
// 2. A subscription and one range read start at revision r+1
// 3. Records land in the reorder buffer in whatever order they arrive
// 4. The buffer drains contiguously from the next expected revision
// 5. Each drained record is validated and composed onto the document
//
// A record that fails validation is skipped, but the revision counter still
// advances past it so later revisions are not blocked forever.
//
// Submissions:
// At most one local operation is in flight. It is written to the slot of the
// next expected revision with first-writer-wins semantics, and its fate is
// decided when that slot is drained: the same author and operation means ack,
// anything else means the caller must transform and retry.
//
// Disposal:
// Dispose advances the task generation so callbacks still in flight are
// dropped. Disposal requested before the initial load completes is deferred
// until the engine becomes ready.
package engine
