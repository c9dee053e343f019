// Package metrics exports engine counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/roach88/revsync/internal/engine"
)

// Metrics holds all Prometheus metrics, labelled by document.
type Metrics struct {
	// Replication
	EntriesApplied  *prometheus.CounterVec
	EntriesSkipped  *prometheus.CounterVec
	BufferedEntries *prometheus.GaugeVec

	// Submissions
	Submissions *prometheus.CounterVec

	// Checkpoints
	CheckpointsWritten *prometheus.CounterVec
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EntriesApplied: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "revsync_entries_applied_total",
				Help: "Total number of history entries composed into the document",
			},
			[]string{"document"},
		),

		EntriesSkipped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "revsync_entries_skipped_total",
				Help: "Total number of malformed history entries skipped",
			},
			[]string{"document"},
		),

		BufferedEntries: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "revsync_buffered_entries",
				Help: "History entries waiting for an earlier revision",
			},
			[]string{"document"},
		),

		Submissions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "revsync_submissions_total",
				Help: "Submission outcomes and resends",
			},
			[]string{"document", "outcome"},
		),

		CheckpointsWritten: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "revsync_checkpoints_written_total",
				Help: "Total number of checkpoints written",
			},
			[]string{"document"},
		),
	}
}

// For returns the engine.Metrics view for one document.
func (m *Metrics) For(docID string) engine.Metrics {
	return &documentMetrics{m: m, doc: docID}
}

type documentMetrics struct {
	m   *Metrics
	doc string
}

var _ engine.Metrics = (*documentMetrics)(nil)

func (d *documentMetrics) EntryApplied() {
	d.m.EntriesApplied.WithLabelValues(d.doc).Inc()
}

func (d *documentMetrics) EntrySkipped() {
	d.m.EntriesSkipped.WithLabelValues(d.doc).Inc()
}

func (d *documentMetrics) SubmissionAcked() {
	d.m.Submissions.WithLabelValues(d.doc, "ack").Inc()
}

func (d *documentMetrics) SubmissionRetried() {
	d.m.Submissions.WithLabelValues(d.doc, "retry").Inc()
}

func (d *documentMetrics) SubmissionResent() {
	d.m.Submissions.WithLabelValues(d.doc, "resend").Inc()
}

func (d *documentMetrics) SubmissionFailed() {
	d.m.Submissions.WithLabelValues(d.doc, "fatal").Inc()
}

func (d *documentMetrics) CheckpointWritten() {
	d.m.CheckpointsWritten.WithLabelValues(d.doc).Inc()
}

func (d *documentMetrics) BufferedEntries(n int) {
	d.m.BufferedEntries.WithLabelValues(d.doc).Set(float64(n))
}
