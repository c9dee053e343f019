package harness

import (
	"fmt"
	"strings"
)

// Trace event types recorded by the harness. The first five mirror engine
// events; the rest record submission outcomes and query answers.
const (
	TraceReady      = "ready"
	TraceOperation  = "operation"
	TraceAck        = "ack"
	TraceRetry      = "retry"
	TraceError      = "error"
	TraceResult     = "result"
	TraceRejected   = "rejected"
	TraceDocumentAt = "document_at"
	TraceEntries    = "entries"
)

// TraceEvent is one line of a scenario trace.
type TraceEvent struct {
	Seq      int    `json:"seq"`
	Type     string `json:"type"`
	Revision int64  `json:"revision"`
	Author   string `json:"author,omitempty"`
	Text     string `json:"text,omitempty"`
	Op       string `json:"op,omitempty"`
	Outcome  string `json:"outcome,omitempty"`
	Code     string `json:"code,omitempty"`
	IDs      string `json:"ids,omitempty"`
}

// Fields returns the event as a map for subset matching in assertions.
func (e TraceEvent) Fields() map[string]interface{} {
	m := map[string]interface{}{"revision": e.Revision}
	if e.Author != "" {
		m["author"] = e.Author
	}
	if e.Type == TraceReady || e.Type == TraceDocumentAt {
		m["text"] = e.Text
	}
	if e.Op != "" {
		m["op"] = e.Op
	}
	if e.Outcome != "" {
		m["outcome"] = e.Outcome
	}
	if e.Code != "" {
		m["code"] = e.Code
	}
	if e.Type == TraceEntries {
		m["ids"] = e.IDs
	}
	return m
}

// String renders the event as one golden-file line.
func (e TraceEvent) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d %s rev=%d", e.Seq, e.Type, e.Revision)
	if e.Author != "" {
		fmt.Fprintf(&b, " author=%s", e.Author)
	}
	if e.Op != "" {
		fmt.Fprintf(&b, " op=%s", e.Op)
	}
	if e.Outcome != "" {
		fmt.Fprintf(&b, " outcome=%s", e.Outcome)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " code=%s", e.Code)
	}
	if e.Type == TraceEntries {
		fmt.Fprintf(&b, " ids=[%s]", e.IDs)
	}
	if e.Code == "" && (e.Type == TraceReady || e.Type == TraceDocumentAt) {
		fmt.Fprintf(&b, " text=%q", e.Text)
	}
	return b.String()
}

// FinalState is the engine and store state after the last step.
type FinalState struct {
	State      string `json:"state"`
	Revision   int64  `json:"revision"`
	Text       string `json:"text"`
	Pending    bool   `json:"pending"`
	Writes     int    `json:"writes"`
	Checkpoint string `json:"checkpoint,omitempty"`
}

// String renders the final state as the last golden-file line.
func (f FinalState) String() string {
	s := fmt.Sprintf("final state=%s rev=%d text=%q pending=%t writes=%d", f.State, f.Revision, f.Text, f.Pending, f.Writes)
	if f.Checkpoint != "" {
		s += " checkpoint=" + f.Checkpoint
	}
	return s
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every assertion holds.
	Pass bool `json:"pass"`

	// Trace contains engine events and query answers in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Final is the state after the last step.
	Final FinalState `json:"final"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends ev with the next sequence number.
func (r *Result) AddTrace(ev TraceEvent) {
	ev.Seq = len(r.Trace) + 1
	r.Trace = append(r.Trace, ev)
}

// FormatTrace renders the scenario name, the trace and the final state, one
// line each.
func FormatTrace(name string, r *Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", name)
	for _, ev := range r.Trace {
		b.WriteString(ev.String())
		b.WriteByte('\n')
	}
	b.WriteString(r.Final.String())
	b.WriteByte('\n')
	return b.String()
}
