package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SchedulerMetrics tracks background job health through the Prometheus
// registry scraped at /metrics.
type SchedulerMetrics struct {
	jobRuns     *prometheus.CounterVec
	jobErrors   *prometheus.CounterVec
	jobTimeouts *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
}

var (
	schedulerOnce sync.Once
	scheduler     *SchedulerMetrics
)

// Scheduler returns the process-wide scheduler metrics handle.
func Scheduler() *SchedulerMetrics {
	schedulerOnce.Do(func() {
		scheduler = &SchedulerMetrics{
			jobRuns: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "tirta_scheduler_job_runs_total",
				Help: "Scheduler job executions.",
			}, []string{"job"}),
			jobErrors: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "tirta_scheduler_job_errors_total",
				Help: "Scheduler job executions that returned an error.",
			}, []string{"job"}),
			jobTimeouts: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "tirta_scheduler_job_timeouts_total",
				Help: "Scheduler job executions cut off by their deadline.",
			}, []string{"job"}),
			jobDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "tirta_scheduler_job_duration_seconds",
				Help:    "Scheduler job wall time.",
				Buckets: prometheus.DefBuckets,
			}, []string{"job"}),
		}
	})
	return scheduler
}

func (m *SchedulerMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *SchedulerMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil {
		return
	}
	m.jobErrors.WithLabelValues(job).Inc()
}

func (m *SchedulerMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

func (m *SchedulerMetrics) ObserveJobDuration(job string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}
