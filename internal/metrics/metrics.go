package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors exported on /metrics. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	JobsTotal         *prometheus.CounterVec
	JobDuration       prometheus.Histogram
	ProgressWrites    prometheus.Counter
	SubmissionsTotal  *prometheus.CounterVec
	ActiveJobs        prometheus.Gauge
	SubscribersActive prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "video_effects_jobs_total",
			Help: "Worker runs by outcome.",
		}, []string{"outcome"}),
		JobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "video_effects_job_duration_seconds",
			Help:    "Wall time of worker runs.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		ProgressWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "video_effects_progress_writes_total",
			Help: "Progress updates written to the status store.",
		}),
		SubmissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "video_effects_submissions_total",
			Help: "Transformation submissions by outcome.",
		}, []string{"outcome"}),
		ActiveJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "video_effects_active_jobs",
			Help: "Worker runs currently executing.",
		}),
		SubscribersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "video_effects_status_subscribers",
			Help: "Open status stream subscriptions.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.JobsTotal, m.JobDuration, m.ProgressWrites, m.SubmissionsTotal, m.ActiveJobs, m.SubscribersActive)
	}
	return m
}

func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.ActiveJobs.Inc()
}

func (m *Metrics) JobFinished(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.ActiveJobs.Dec()
	m.JobsTotal.WithLabelValues(outcome).Inc()
	m.JobDuration.Observe(seconds)
}

func (m *Metrics) ProgressWritten() {
	if m == nil {
		return
	}
	m.ProgressWrites.Inc()
}

func (m *Metrics) Submitted(outcome string) {
	if m == nil {
		return
	}
	m.SubmissionsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SubscriberOpened() {
	if m == nil {
		return
	}
	m.SubscribersActive.Inc()
}

func (m *Metrics) SubscriberClosed() {
	if m == nil {
		return
	}
	m.SubscribersActive.Dec()
}
