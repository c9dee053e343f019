package harness

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/roach88/revsync/internal/engine"
	"github.com/roach88/revsync/internal/ir"
	"github.com/roach88/revsync/internal/revid"
	"github.com/roach88/revsync/internal/testutil"
	"github.com/roach88/revsync/internal/textop"
)

// Harness runs one scenario against a fresh engine and scripted backend.
type Harness struct {
	backend *testutil.ScriptedBackend
	engine  *engine.Engine
	codec   textop.Codec
	result  *Result
	logger  *slog.Logger
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs against a fresh scripted backend with a deterministic
// clock. After every step the harness drains the engine's task queue, so
// a step's effects and notifications land in the trace before the next
// step runs.
//
// Execution flow:
// 1. Seed the backend with the scenario's history and checkpoint
// 2. Create the engine with the scenario's author
// 3. Execute steps in order
// 4. Capture the final state and evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	h := &Harness{
		backend: testutil.NewScriptedBackend(),
		result:  NewResult(),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	h.seed(scenario)

	opts := []engine.Option{
		engine.WithAuthor(scenario.Author),
		engine.WithLogger(h.logger),
	}
	if scenario.CheckpointInterval != nil {
		opts = append(opts, engine.WithCheckpointInterval(*scenario.CheckpointInterval))
	}
	eng, err := engine.New(h.backend, h.codec, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	h.engine = eng
	eng.OnEvent(h.recordEvent)

	for i, step := range scenario.Steps {
		if err := h.execute(step); err != nil {
			return nil, fmt.Errorf("steps[%d] %s: %w", i, step.Action, err)
		}
		eng.RunPending()
	}

	h.result.Final = h.finalState()

	for _, msg := range EvaluateAssertions(h.result, scenario.Assertions, h.backend) {
		h.result.AddError(msg)
	}

	return h.result, nil
}

// seed stores the scenario's history and checkpoint without delivering them.
func (h *Harness) seed(s *Scenario) {
	recs := make([]ir.KeyedRecord, 0, len(s.History))
	for _, spec := range s.History {
		recs = append(recs, ir.KeyedRecord{
			Key:    spec.Key,
			Record: ir.HistoryRecord{Author: spec.Author, Operation: json.RawMessage(spec.Op)},
		})
	}
	h.backend.Seed(recs...)

	if cp := s.Checkpoint; cp != nil {
		h.backend.SetCheckpoint(ir.CheckpointRecord{
			Author:      cp.Author,
			Operation:   json.RawMessage(cp.Op),
			RevisionKey: cp.Key,
		})
	}
}

// execute runs a single step.
func (h *Harness) execute(st Step) error {
	switch st.Action {
	case ActionRun:
		// The queue is drained after every step.
	case ActionSubmit:
		return h.submit(st)
	case ActionInject:
		h.backend.Inject(st.Key, ir.HistoryRecord{Author: st.Author, Operation: json.RawMessage(st.Op)})
	case ActionDeliver:
		h.backend.Deliver(ir.KeyedRecord{
			Key:    st.Key,
			Record: ir.HistoryRecord{Author: st.Author, Operation: json.RawMessage(st.Op)},
		})
	case ActionHoldDeliveries:
		h.backend.HoldDeliveries()
	case ActionRelease:
		return h.backend.ReleaseHeld(st.Keys...)
	case ActionResumeDeliveries:
		h.backend.ResumeDeliveries()
	case ActionHoldReads:
		h.backend.HoldReads()
	case ActionReleaseReads:
		h.backend.ReleaseReads()
	case ActionFailNextWrite:
		h.backend.FailNextWrite(failure(st.Error))
	case ActionFailNextRead:
		h.backend.FailNextRead(failure(st.Error))
	case ActionFailNextCheckpointRead:
		h.backend.FailNextCheckpointRead(failure(st.Error))
	case ActionOffline:
		h.backend.SetOnline(false)
	case ActionOnline:
		h.backend.SetOnline(true)
	case ActionDispose:
		h.engine.Dispose()
	case ActionDocumentAt:
		return h.documentAt(revid.Revision(*st.Revision))
	case ActionEntriesSince:
		since := revid.None
		if st.Revision != nil {
			since = revid.Revision(*st.Revision)
		}
		return h.entriesSince(since)
	default:
		return fmt.Errorf("unknown action %q", st.Action)
	}
	return nil
}

// submit builds the step's operation and submits it. A synchronous
// rejection is recorded in the trace rather than failing the run.
func (h *Harness) submit(st Step) error {
	var op ir.Operation
	if st.Op != "" {
		decoded, err := h.codec.Decode(json.RawMessage(st.Op))
		if err != nil {
			return fmt.Errorf("decode op: %w", err)
		}
		op = decoded
	} else {
		edit, err := textop.Edit(h.engine.Document().TargetLength(), st.Pos, st.Insert, st.Delete)
		if err != nil {
			return err
		}
		op = edit
	}

	err := h.engine.Submit(op, func(res engine.SubmitResult) {
		h.result.AddTrace(TraceEvent{
			Type:     TraceResult,
			Revision: int64(res.Revision),
			Outcome:  res.Outcome.String(),
			Code:     errorCode(res.Err),
		})
	})
	if err != nil {
		h.result.AddTrace(TraceEvent{
			Type:     TraceRejected,
			Revision: errorRevision(err),
			Code:     errorCode(err),
		})
	}
	return nil
}

func (h *Harness) documentAt(target revid.Revision) error {
	err := h.engine.DocumentAtRevision(target, func(doc ir.Operation, err error) {
		ev := TraceEvent{Type: TraceDocumentAt, Revision: int64(target)}
		if err != nil {
			ev.Code = errorCode(err)
		} else if text, terr := textop.DocumentText(doc); terr != nil {
			ev.Code = "UNRENDERABLE"
		} else {
			ev.Text = text
		}
		h.result.AddTrace(ev)
	})
	if err != nil {
		h.result.AddTrace(TraceEvent{Type: TraceRejected, Revision: int64(target), Code: errorCode(err)})
	}
	return nil
}

func (h *Harness) entriesSince(since revid.Revision) error {
	err := h.engine.EntriesSince(since, func(infos []engine.EntryInfo, err error) {
		ev := TraceEvent{Type: TraceEntries, Revision: int64(since)}
		if err != nil {
			ev.Code = errorCode(err)
		} else {
			keys := make([]string, len(infos))
			for i, info := range infos {
				keys[i] = info.Key
			}
			ev.IDs = strings.Join(keys, ",")
		}
		h.result.AddTrace(ev)
	})
	if err != nil {
		h.result.AddTrace(TraceEvent{Type: TraceRejected, Revision: int64(since), Code: errorCode(err)})
	}
	return nil
}

// recordEvent appends an engine notification to the trace.
func (h *Harness) recordEvent(ev engine.Event) {
	te := TraceEvent{
		Type:     ev.Type.String(),
		Revision: int64(ev.Revision),
		Author:   ev.Author,
		Code:     errorCode(ev.Err),
	}
	switch ev.Type {
	case engine.EventReady:
		text, err := textop.DocumentText(ev.Operation)
		if err != nil {
			h.logger.Warn("ready document not renderable", "error", err)
		}
		te.Text = text
	case engine.EventOperation:
		raw, err := ev.Operation.MarshalJSON()
		if err != nil {
			h.logger.Warn("operation not serializable", "error", err)
		}
		te.Op = string(raw)
	}
	h.result.AddTrace(te)
}

// finalState captures the engine and store state after the last step.
func (h *Harness) finalState() FinalState {
	_, pending := h.engine.Pending()
	text, err := textop.DocumentText(h.engine.Document())
	if err != nil {
		h.logger.Warn("final document not renderable", "error", err)
	}
	fs := FinalState{
		State:    h.engine.State().String(),
		Revision: int64(h.engine.LastRevision()),
		Text:     text,
		Pending:  pending,
		Writes:   len(h.backend.Writes()),
	}
	if cp, ok := h.backend.Checkpoint(); ok {
		fs.Checkpoint = cp.RevisionKey
	}
	return fs
}

// failure maps a scenario error class to a backend error.
func failure(class string) error {
	switch class {
	case FailTransient:
		return fmt.Errorf("%w: scripted", ir.ErrTransient)
	case FailPermissionDenied:
		return ir.ErrPermissionDenied
	default:
		return testutil.ErrScripted
	}
}

func errorCode(err error) string {
	if err == nil {
		return ""
	}
	var serr *engine.SyncError
	if errors.As(err, &serr) {
		return string(serr.Code)
	}
	return "UNKNOWN"
}

func errorRevision(err error) int64 {
	var serr *engine.SyncError
	if errors.As(err, &serr) {
		return int64(serr.Revision)
	}
	return int64(revid.None)
}
