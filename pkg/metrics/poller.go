package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PollerMetrics records status-sync polling activity.
type PollerMetrics struct {
	cycleDuration prometheus.Histogram
	pollTotal     *prometheus.CounterVec
	jobsFailed    prometheus.Counter
}

// NewPollerMetrics registers the poller metrics on the provided registerer.
func NewPollerMetrics(reg prometheus.Registerer) *PollerMetrics {
	if reg == nil {
		return &PollerMetrics{}
	}
	cycleDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "statussync_cycle_duration_seconds",
		Help:    "Duration of one status-sync polling cycle.",
		Buckets: prometheus.DefBuckets,
	})
	pollTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "statussync_polls_total",
		Help: "Engine poll attempts by outcome.",
	}, []string{"outcome"})
	jobsFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "statussync_jobs_failed_total",
		Help: "Jobs marked failed by the status-sync worker.",
	})
	reg.MustRegister(cycleDuration, pollTotal, jobsFailed)
	return &PollerMetrics{
		cycleDuration: cycleDuration,
		pollTotal:     pollTotal,
		jobsFailed:    jobsFailed,
	}
}

// ObserveCycle records the duration of a polling cycle.
func (m *PollerMetrics) ObserveCycle(duration time.Duration) {
	if m == nil || m.cycleDuration == nil {
		return
	}
	m.cycleDuration.Observe(duration.Seconds())
}

// IncPoll counts one engine poll with the given outcome
// (done, running, rejected, transient_error).
func (m *PollerMetrics) IncPoll(outcome string) {
	if m == nil || m.pollTotal == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.pollTotal.WithLabelValues(outcome).Inc()
}

// IncJobFailed counts a job the worker marked failed.
func (m *PollerMetrics) IncJobFailed() {
	if m == nil || m.jobsFailed == nil {
		return
	}
	m.jobsFailed.Inc()
}
