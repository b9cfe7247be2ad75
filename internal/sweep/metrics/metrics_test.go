package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/paramsweep/internal/sweep/job"
)

func TestMetrics_Record(t *testing.T) {
	m := New()
	m.RecordSubmission("sweep", false)
	m.RecordSubmission("sweep", true)
	m.RecordFinished("sweep", job.Completed, time.Minute)
	m.RecordFinished("sweep", job.Failed, 0)
	m.SetQueueDepth("sweep", 7)
	m.RecordThrottleWait("sweep")
	m.SetBestFitness("sweep", 0.25)
	m.SetGeneration("sweep", 3, 0.5)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.submissions.WithLabelValues("sweep")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.resubmissions.WithLabelValues("sweep")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.finishedJobs.WithLabelValues("sweep", "Completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.finishedJobs.WithLabelValues("sweep", "Failed")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.queueDepth.WithLabelValues("sweep")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.throttleWaits.WithLabelValues("sweep")))
	assert.Equal(t, 0.25, testutil.ToFloat64(m.bestFitness.WithLabelValues("sweep")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.generation.WithLabelValues("sweep")))
	assert.Equal(t, 0.5, testutil.ToFloat64(m.stepSize.WithLabelValues("sweep")))
}

func TestMetrics_Register(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New()
	require.NoError(t, registry.Register(m))
	m.RecordSubmission("sweep", false)

	families, err := registry.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "sweep_submissions")
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordSubmission("sweep", true)
		m.RecordFinished("sweep", job.Completed, time.Second)
		m.SetQueueDepth("sweep", 1)
		m.RecordThrottleWait("sweep")
		m.SetBestFitness("sweep", 1)
		m.SetGeneration("sweep", 1, 1)
	})
}
