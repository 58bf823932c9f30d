package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	jobsSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiln_jobs_submitted_total",
			Help: "Total number of accepted job submissions.",
		},
		[]string{"kind"},
	)

	jobsFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiln_jobs_finished_total",
			Help: "Total number of jobs that reached a terminal status.",
		},
		[]string{"kind", "status"},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kiln_job_duration_seconds",
			Help:    "Time from running to terminal status.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"kind"},
	)

	jobsRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kiln_jobs_running",
		Help: "Number of jobs currently executing.",
	})

	jobsQueued = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kiln_jobs_queued",
		Help: "Number of jobs waiting for a worker.",
	})

	jobsEvictedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kiln_jobs_evicted_total",
		Help: "Total number of finished jobs removed by the sweeper.",
	})
)

func init() {
	prometheus.MustRegister(
		jobsSubmittedTotal,
		jobsFinishedTotal,
		jobDuration,
		jobsRunning,
		jobsQueued,
		jobsEvictedTotal,
	)
}
