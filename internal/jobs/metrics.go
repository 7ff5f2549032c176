package jobmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs          *prometheus.CounterVec
	failures      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	sectorsStats  prometheus.Gauge
	lastRefreshed prometheus.Gauge
}

// NewMetrics registers the job metrics against the provided registerer. A nil
// registerer yields nil metrics; every method is a no-op on nil.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		return nil
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// ObserveStatsRefresh records the outcome of a sector statistics refresh.
func (m *Metrics) ObserveStatsRefresh(sectors int64, at time.Time) {
	if m == nil {
		return
	}
	m.sectorsStats.Set(float64(sectors))
	m.lastRefreshed.Set(float64(at.Unix()))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "topoclimb_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "topoclimb_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "topoclimb_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	sectors := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "topoclimb_sector_stats_sectors",
		Help: "Sectors covered by the last statistics refresh.",
	})
	last := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "topoclimb_sector_stats_refreshed_timestamp_seconds",
		Help: "Unix time of the last successful statistics refresh.",
	})
	registerer.MustRegister(runs, failures, duration, sectors, last)
	return &Metrics{runs: runs, failures: failures, duration: duration, sectorsStats: sectors, lastRefreshed: last}
}
