package engine

import (
	"github.com/roach88/revsync/internal/ir"
	"github.com/roach88/revsync/internal/revid"
)

// EventType distinguishes engine notifications.
type EventType int

const (
	// EventReady fires once, after the initial history is loaded. Operation
	// holds the whole document and Revision the last applied revision.
	EventReady EventType = iota + 1
	// EventOperation carries a peer edit the caller must apply locally.
	EventOperation
	// EventAck confirms the pending submission at Revision.
	EventAck
	// EventRetry reports that the pending submission lost its slot. The caller
	// transforms its local edits against the operations already delivered and
	// submits again.
	EventRetry
	// EventError reports a fatal store failure. Err is a *SyncError.
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventReady:
		return "ready"
	case EventOperation:
		return "operation"
	case EventAck:
		return "ack"
	case EventRetry:
		return "retry"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a notification delivered to listeners registered with OnEvent.
type Event struct {
	Type      EventType
	Revision  revid.Revision
	Author    string
	Operation ir.Operation
	Err       error
}

// EventHandler receives events outside the engine lock. Handlers may call
// back into the engine.
type EventHandler func(Event)

// Outcome is the final state of one submission.
type Outcome int

const (
	// OutcomeAck means the operation was confirmed at its revision.
	OutcomeAck Outcome = iota + 1
	// OutcomeRetry means another writer won the slot.
	OutcomeRetry
	// OutcomeFatal means the store rejected the write for good.
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAck:
		return "ack"
	case OutcomeRetry:
		return "retry"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// SubmitResult is passed to the callback given to Submit, exactly once per
// submission unless the engine is disposed first.
type SubmitResult struct {
	Outcome  Outcome
	Revision revid.Revision
	Err      error
}
