// Package metrics defines the Prometheus counters and gauges shared by
// the Manager and Worker processes.
//
// Not named by spec.md directly, but implied by its component budget
// (job coordination, the dedupe cache, and upload ingestion are each
// operationally meaningful to an operator) and grounded on
// trillian/migrillian/main.go's promhttp.Handler()-on-/metrics wiring
// and trillian/ctfe/instance.go's MetricFactory field, generalized from
// a single log-signing pipeline's counters to the job/cache/ingest/spool
// counters ctfleet actually has.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every counter/gauge ctfleet exposes on /metrics.
type Registry struct {
	reg *prometheus.Registry

	JobsAcquired  prometheus.Counter
	JobsCompleted prometheus.Counter
	JobsStalled   prometheus.Counter
	JobsAbandoned prometheus.Counter
	JobsFailed    prometheus.Counter

	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
	CacheSize   prometheus.Gauge

	UploadInserted   prometheus.Counter
	UploadDuplicates prometheus.Counter
	UploadFailures   prometheus.Counter

	SpoolFiles prometheus.Gauge
}

// New creates a Registry with every metric registered under the
// ctfleet_ namespace.
func New() *Registry {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Registry{
		reg: reg,
		JobsAcquired: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ctfleet", Subsystem: "jobs", Name: "acquired_total",
			Help: "Total JobRanges acquired by workers.",
		}),
		JobsCompleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ctfleet", Subsystem: "jobs", Name: "completed_total",
			Help: "Total JobRanges marked COMPLETE.",
		}),
		JobsStalled: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ctfleet", Subsystem: "jobs", Name: "stalled_total",
			Help: "Total RUNNING assignments moved to STALLED by the reaper.",
		}),
		JobsAbandoned: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ctfleet", Subsystem: "jobs", Name: "abandoned_total",
			Help: "Total STALLED assignments returned to PENDING by the reaper.",
		}),
		JobsFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ctfleet", Subsystem: "jobs", Name: "failed_total",
			Help: "Total JobRanges marked FAILED.",
		}),
		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ctfleet", Subsystem: "cache", Name: "hits_total",
			Help: "Total dedupe cache hits.",
		}),
		CacheMisses: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ctfleet", Subsystem: "cache", Name: "misses_total",
			Help: "Total dedupe cache misses.",
		}),
		CacheSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "ctfleet", Subsystem: "cache", Name: "size",
			Help: "Current number of fingerprints held in the dedupe cache.",
		}),
		UploadInserted: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ctfleet", Subsystem: "ingest", Name: "inserted_total",
			Help: "Total certificate records inserted.",
		}),
		UploadDuplicates: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ctfleet", Subsystem: "ingest", Name: "duplicates_total",
			Help: "Total certificate records rejected as duplicates.",
		}),
		UploadFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ctfleet", Subsystem: "ingest", Name: "failures_total",
			Help: "Total certificate records that failed to insert.",
		}),
		SpoolFiles: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "ctfleet", Subsystem: "spool", Name: "files",
			Help: "Current number of pending-upload files spooled on a worker.",
		}),
	}
}

// Handler returns the promhttp handler serving this Registry's metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// ObserveUpload records one ingest.Result's counters.
func (r *Registry) ObserveUpload(inserted, duplicates, failures int) {
	r.UploadInserted.Add(float64(inserted))
	r.UploadDuplicates.Add(float64(duplicates))
	r.UploadFailures.Add(float64(failures))
}

// ObserveCache records one ingest.Result's dedupe hit/miss breakdown.
func (r *Registry) ObserveCache(hits, misses int) {
	r.CacheHits.Add(float64(hits))
	r.CacheMisses.Add(float64(misses))
}
