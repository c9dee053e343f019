package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/revsync/internal/revid"
)

// Scenario drives one engine through a scripted backend and checks the
// resulting trace and final state.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Author is the engine's author id. Defaults to "alice".
	Author string `yaml:"author,omitempty"`

	// CheckpointInterval overrides the engine's checkpoint interval.
	CheckpointInterval *int64 `yaml:"checkpoint_interval,omitempty"`

	// History is stored before the engine starts, without deliveries.
	History []RecordSpec `yaml:"history,omitempty"`

	// Checkpoint is stored before the engine starts.
	Checkpoint *CheckpointSpec `yaml:"checkpoint,omitempty"`

	// Steps run in order after the engine is created.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	// Supported types: trace_contains, trace_order, trace_count, final_state
	Assertions []Assertion `yaml:"assertions"`
}

// RecordSpec is one history record. Op is the operation's JSON form; it may
// be deliberately malformed.
type RecordSpec struct {
	Key    string `yaml:"key"`
	Author string `yaml:"author"`
	Op     string `yaml:"op"`
}

// CheckpointSpec is the stored checkpoint.
type CheckpointSpec struct {
	Key    string `yaml:"key"`
	Author string `yaml:"author"`
	Op     string `yaml:"op"`
}

// Step is one scripted action. Which fields apply depends on Action.
type Step struct {
	// Action is one of the Action* constants.
	Action string `yaml:"action"`

	// Key is the history key for inject and deliver.
	Key string `yaml:"key,omitempty"`

	// Author is the record author for inject and deliver.
	Author string `yaml:"author,omitempty"`

	// Op is a raw operation for inject, deliver and submit.
	Op string `yaml:"op,omitempty"`

	// Pos, Insert and Delete build a submit edit against the current
	// document when Op is empty.
	Pos    int    `yaml:"pos,omitempty"`
	Insert string `yaml:"insert,omitempty"`
	Delete int    `yaml:"delete,omitempty"`

	// Keys selects held deliveries for release. Empty releases all.
	Keys []string `yaml:"keys,omitempty"`

	// Error is the failure class for fail_next_* steps.
	Error string `yaml:"error,omitempty"`

	// Revision is the target of document_at and the lower bound of
	// entries_since. Nil means none for entries_since.
	Revision *int64 `yaml:"revision,omitempty"`
}

// Step actions.
const (
	ActionRun                    = "run"
	ActionSubmit                 = "submit"
	ActionInject                 = "inject"
	ActionDeliver                = "deliver"
	ActionHoldDeliveries         = "hold_deliveries"
	ActionRelease                = "release"
	ActionResumeDeliveries       = "resume_deliveries"
	ActionHoldReads              = "hold_reads"
	ActionReleaseReads           = "release_reads"
	ActionFailNextWrite          = "fail_next_write"
	ActionFailNextRead           = "fail_next_read"
	ActionFailNextCheckpointRead = "fail_next_checkpoint_read"
	ActionOffline                = "offline"
	ActionOnline                 = "online"
	ActionDispose                = "dispose"
	ActionDocumentAt             = "document_at"
	ActionEntriesSince           = "entries_since"
)

// Failure classes for fail_next_* steps.
const (
	FailTransient        = "transient"
	FailFatal            = "fatal"
	FailPermissionDenied = "permission_denied"
)

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": an event of Event type whose fields include Fields
	// - "trace_order": events of the listed types appear in order
	// - "trace_count": events of Event type appear exactly Count times
	// - "final_state": a row of Table matches Expect
	Type string `yaml:"type"`

	// Event is the trace event type (trace_contains, trace_count).
	Event string `yaml:"event,omitempty"`

	// Fields are the expected event fields (trace_contains).
	// Subset match - only specified fields are validated.
	Fields map[string]interface{} `yaml:"fields,omitempty"`

	// Table is engine, history or checkpoint (final_state).
	Table string `yaml:"table,omitempty"`

	// Where selects a history row by key (final_state).
	Where map[string]interface{} `yaml:"where,omitempty"`

	// Expect contains expected field values (final_state).
	// Subset match - only specified fields are validated.
	Expect map[string]interface{} `yaml:"expect,omitempty"`

	// Count is the expected number of occurrences (trace_count).
	Count int `yaml:"count,omitempty"`

	// Events is the expected event order (trace_order).
	Events []string `yaml:"events,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// Final state tables.
const (
	TableEngine     = "engine"
	TableHistory    = "history"
	TableCheckpoint = "checkpoint"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML with strict field checking.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Author == "" {
		scenario.Author = "alice"
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, rec := range s.History {
		if _, err := revid.DecodeRevision(rec.Key); err != nil {
			return fmt.Errorf("history[%d]: %w", i, err)
		}
	}

	if cp := s.Checkpoint; cp != nil && cp.Op == "" {
		return fmt.Errorf("checkpoint: op is required")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateStep checks the fields each action needs.
func validateStep(index int, st *Step) error {
	switch st.Action {
	case ActionInject, ActionDeliver:
		if st.Key == "" {
			return fmt.Errorf("steps[%d]: key is required for %s", index, st.Action)
		}
		if st.Op == "" {
			return fmt.Errorf("steps[%d]: op is required for %s", index, st.Action)
		}
	case ActionSubmit:
		if st.Op == "" && st.Insert == "" && st.Delete == 0 {
			return fmt.Errorf("steps[%d]: submit needs op, insert or delete", index)
		}
	case ActionFailNextWrite, ActionFailNextRead, ActionFailNextCheckpointRead:
		switch st.Error {
		case FailTransient, FailFatal, FailPermissionDenied:
		default:
			return fmt.Errorf("steps[%d]: unknown error class %q", index, st.Error)
		}
	case ActionDocumentAt:
		if st.Revision == nil {
			return fmt.Errorf("steps[%d]: revision is required for document_at", index)
		}
	case ActionRun, ActionRelease, ActionHoldDeliveries, ActionResumeDeliveries,
		ActionHoldReads, ActionReleaseReads, ActionOffline, ActionOnline,
		ActionDispose, ActionEntriesSince:
	case "":
		return fmt.Errorf("steps[%d]: action is required", index)
	default:
		return fmt.Errorf("steps[%d]: unknown action %q", index, st.Action)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		switch a.Table {
		case TableEngine, TableCheckpoint:
		case TableHistory:
			if _, ok := a.Where["key"]; !ok {
				return fmt.Errorf("assertions[%d]: where.key is required for the history table", index)
			}
		case "":
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		default:
			return fmt.Errorf("assertions[%d]: unknown table %q", index, a.Table)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
