// Package monitoring exposes prometheus metrics for imports and verification,
// collects a health snapshot from the store and alerts on breached
// thresholds through a webhook.
package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sells-group/dealer-sync/internal/model"
)

const namespace = "dealersync"

// Metrics holds the counters updated by the importer and the verifier. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	RecordsProcessed prometheus.Counter
	RecordErrors     prometheus.Counter
	Chunks           prometheus.Counter
	Jobs             *prometheus.CounterVec
	Verdicts         *prometheus.CounterVec
	FailedBatches    prometheus.Counter
	UnknownBacklog   prometheus.Gauge
}

// NewMetrics registers the metrics on a fresh registry together with the Go
// runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return newMetrics(reg, reg)
}

func newMetrics(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: gatherer,
		RecordsProcessed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "records_processed_total",
			Help:      "Customers reconciled and upserted successfully.",
		}),
		RecordErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "record_errors_total",
			Help:      "Customers whose lookup or upsert failed.",
		}),
		Chunks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "chunks_total",
			Help:      "Import chunks completed.",
		}),
		Jobs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "jobs_total",
			Help:      "Upload jobs finished, by terminal status.",
		}, []string{"status"}),
		Verdicts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "verify",
			Name:      "verdicts_total",
			Help:      "Phones classified by the capability check, by status.",
		}, []string{"status"}),
		FailedBatches: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "verify",
			Name:      "failed_batches_total",
			Help:      "Verification batches skipped after the check call failed.",
		}),
		UnknownBacklog: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "verify",
			Name:      "unknown_backlog",
			Help:      "Customers whose messaging status is still unknown.",
		}),
	}
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveChunk records one finished import chunk.
func (m *Metrics) ObserveChunk(processed, errors int) {
	if m == nil {
		return
	}
	m.Chunks.Inc()
	m.RecordsProcessed.Add(float64(processed))
	m.RecordErrors.Add(float64(errors))
}

// ObserveJob records a job reaching a terminal status.
func (m *Metrics) ObserveJob(status model.JobStatus) {
	if m == nil {
		return
	}
	m.Jobs.WithLabelValues(string(status)).Inc()
}

// ObserveVerdicts records n phones classified as status.
func (m *Metrics) ObserveVerdicts(status model.WhatsAppStatus, n int) {
	if m == nil || n == 0 {
		return
	}
	m.Verdicts.WithLabelValues(string(status)).Add(float64(n))
}

// ObserveFailedBatch records a skipped verification batch.
func (m *Metrics) ObserveFailedBatch() {
	if m == nil {
		return
	}
	m.FailedBatches.Inc()
}

// SetUnknownBacklog records the number of unverified customers.
func (m *Metrics) SetUnknownBacklog(n int) {
	if m == nil {
		return
	}
	m.UnknownBacklog.Set(float64(n))
}
