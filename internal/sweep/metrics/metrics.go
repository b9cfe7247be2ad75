package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/G-Research/paramsweep/internal/sweep/job"
)

const (
	prefix = "sweep_"

	labelLabel  = "label"
	statusLabel = "status"
)

var (
	labelLabels          = []string{labelLabel}
	labelAndStatusLabels = []string{labelLabel, statusLabel}
)

// Metrics is the prometheus view of a sweep. A nil *Metrics records nothing.
type Metrics struct {
	submissions   *prometheus.CounterVec
	resubmissions *prometheus.CounterVec
	finishedJobs  *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	queueDepth    *prometheus.GaugeVec
	throttleWaits *prometheus.CounterVec
	bestFitness   *prometheus.GaugeVec
	generation    *prometheus.GaugeVec
	stepSize      *prometheus.GaugeVec
}

func New() *Metrics {
	return &Metrics{
		submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "submissions",
				Help: "Number of jobs handed to the scheduler, including resubmissions",
			},
			labelLabels,
		),
		resubmissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "resubmissions",
				Help: "Number of jobs resubmitted after exceeding their timeout",
			},
			labelLabels,
		),
		finishedJobs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "finished_jobs",
				Help: "Number of jobs that reached a terminal status",
			},
			labelAndStatusLabels,
		),
		jobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    prefix + "job_duration_seconds",
				Help:    "Time from first submission until a job reached a terminal status",
				Buckets: prometheus.ExponentialBuckets(60, 2, 12),
			},
			labelLabels,
		),
		queueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: prefix + "queue_depth",
				Help: "Outstanding jobs as last reported by the scheduler",
			},
			labelLabels,
		),
		throttleWaits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "throttle_waits",
				Help: "Number of times a submission waited for the queue to drain",
			},
			labelLabels,
		),
		bestFitness: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: prefix + "best_fitness",
				Help: "Lowest fitness seen so far",
			},
			labelLabels,
		),
		generation: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: prefix + "generation",
				Help: "Optimizer generations completed",
			},
			labelLabels,
		),
		stepSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: prefix + "step_size",
				Help: "Current optimizer step size",
			},
			labelLabels,
		),
	}
}

func (m *Metrics) RecordSubmission(label string, resubmission bool) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(label).Inc()
	if resubmission {
		m.resubmissions.WithLabelValues(label).Inc()
	}
}

func (m *Metrics) RecordFinished(label string, status job.Status, duration time.Duration) {
	if m == nil {
		return
	}
	m.finishedJobs.WithLabelValues(label, status.String()).Inc()
	if duration > 0 {
		m.jobDuration.WithLabelValues(label).Observe(duration.Seconds())
	}
}

func (m *Metrics) SetQueueDepth(label string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(label).Set(float64(depth))
}

func (m *Metrics) RecordThrottleWait(label string) {
	if m == nil {
		return
	}
	m.throttleWaits.WithLabelValues(label).Inc()
}

func (m *Metrics) SetBestFitness(label string, fitness float64) {
	if m == nil {
		return
	}
	m.bestFitness.WithLabelValues(label).Set(fitness)
}

func (m *Metrics) SetGeneration(label string, generation int, stepSize float64) {
	if m == nil {
		return
	}
	m.generation.WithLabelValues(label).Set(float64(generation))
	m.stepSize.WithLabelValues(label).Set(stepSize)
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.submissions,
		m.resubmissions,
		m.finishedJobs,
		m.jobDuration,
		m.queueDepth,
		m.throttleWaits,
		m.bestFitness,
		m.generation,
		m.stepSize,
	}
}

// Describe is necessary to implement the prometheus.Collector interface
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect is necessary to implement the prometheus.Collector interface
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}
