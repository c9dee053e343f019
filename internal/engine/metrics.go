package engine

// Metrics receives engine counters. Implementations must be safe for
// concurrent use; see package metrics for the Prometheus implementation.
type Metrics interface {
	EntryApplied()
	EntrySkipped()
	SubmissionAcked()
	SubmissionRetried()
	SubmissionResent()
	SubmissionFailed()
	CheckpointWritten()
	BufferedEntries(n int)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) EntryApplied()       {}
func (NopMetrics) EntrySkipped()       {}
func (NopMetrics) SubmissionAcked()    {}
func (NopMetrics) SubmissionRetried()  {}
func (NopMetrics) SubmissionResent()   {}
func (NopMetrics) SubmissionFailed()   {}
func (NopMetrics) CheckpointWritten()  {}
func (NopMetrics) BufferedEntries(int) {}
