package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		jobsEnqueuedTotal,
		jobsProcessedTotal,
		jobDurationSeconds,
		jobsStalledTotal,
		jobsCleanedTotal,
		queueDepth,
		workersBusy,
	)
}

var (
	jobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_jobs_enqueued_total",
			Help: "Jobs accepted by the gateway, labeled by kind.",
		},
		[]string{"kind"},
	)

	jobsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_jobs_processed_total",
			Help: "Job attempts finished by workers, labeled by kind and outcome.",
		},
		[]string{"kind", "status"}, // completed | delayed | failed | lost
	)

	jobDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agent_job_duration_seconds",
			Help:    "Wall time of a job attempt inside a worker.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		},
		[]string{"kind"},
	)

	jobsStalledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_jobs_stalled_total",
			Help: "Jobs found with an expired lock, labeled by what happened to them.",
		},
		[]string{"action"}, // requeued | failed
	)

	workersBusy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agent_workers_busy",
			Help: "Pool goroutines currently running a task.",
		},
	)

	jobsCleanedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agent_jobs_cleaned_total",
			Help: "Finished jobs removed by the retention sweep.",
		},
	)

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agent_queue_jobs",
			Help: "Jobs per status as of the last stats read.",
		},
		[]string{"status"},
	)
)

func IncJobEnqueued(kind string) {
	jobsEnqueuedTotal.WithLabelValues(norm(kind)).Inc()
}

func ObserveJob(kind, status string, d time.Duration) {
	jobsProcessedTotal.WithLabelValues(norm(kind), norm(status)).Inc()
	jobDurationSeconds.WithLabelValues(norm(kind)).Observe(d.Seconds())
}

func AddStalled(requeued, failed int) {
	jobsStalledTotal.WithLabelValues("requeued").Add(float64(requeued))
	jobsStalledTotal.WithLabelValues("failed").Add(float64(failed))
}

func AddCleaned(n int) {
	jobsCleanedTotal.Add(float64(n))
}

func SetQueueDepth(counts map[string]int) {
	for status, n := range counts {
		queueDepth.WithLabelValues(norm(status)).Set(float64(n))
	}
}

func WorkerBusy() { workersBusy.Inc() }
func WorkerIdle() { workersBusy.Dec() }
