package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/voxkit/batchd/types"
)

func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewCollector("batchd", reg, zaptest.NewLogger(t)), reg
}

func TestCollector_BatchCollected(t *testing.T) {
	c, reg := newTestCollector(t)

	c.BatchCollected(4, 45*time.Millisecond)
	c.BatchCollected(6, 70*time.Millisecond)

	families, err := reg.Gather()
	require.NoError(t, err)

	byName := make(map[string]bool)
	for _, f := range families {
		byName[f.GetName()] = true
	}
	assert.True(t, byName["batchd_batches_collected_total"])
	assert.True(t, byName["batchd_batch_size"])
	assert.True(t, byName["batchd_batch_window_seconds"])

	assert.Equal(t, 1, testutil.CollectAndCount(c.batchesCollected))
}

func TestCollector_JobFinished(t *testing.T) {
	c, _ := newTestCollector(t)

	c.JobFinished(types.JobStateSucceeded, 200*time.Millisecond)
	c.JobFinished(types.JobStateSucceeded, 300*time.Millisecond)
	c.JobFinished(types.JobStateExecutionFailed, 150*time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(c.jobsFinished.WithLabelValues(string(types.JobStateSucceeded))))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.jobsFinished.WithLabelValues(string(types.JobStateExecutionFailed))))
}

func TestCollector_Gauges(t *testing.T) {
	c, _ := newTestCollector(t)

	c.ExecutingBatches(1)
	assert.Equal(t, float64(1), testutil.ToFloat64(c.executingBatches))
	c.ExecutingBatches(-1)
	assert.Equal(t, float64(0), testutil.ToFloat64(c.executingBatches))

	c.InflightCycles(1)
	c.InflightCycles(1)
	assert.Equal(t, float64(2), testutil.ToFloat64(c.inflightCycles))

	c.SetQueueDepth(17)
	assert.Equal(t, float64(17), testutil.ToFloat64(c.queueDepth))
}

func TestCollector_RecordDelivery(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordDelivery("sync", "ok")
	c.RecordDelivery("callback", "ok")
	c.RecordDelivery("callback", "failed")
	c.RecordDelivery("callback", "failed")

	assert.Equal(t, float64(1), testutil.ToFloat64(c.deliveries.WithLabelValues("sync", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.deliveries.WithLabelValues("callback", "ok")))
	assert.Equal(t, float64(2), testutil.ToFloat64(c.deliveries.WithLabelValues("callback", "failed")))
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordHTTPRequest("POST", "/api/v1/jobs", "202", 5*time.Millisecond)
	c.RecordHTTPRequest("POST", "/api/v1/jobs", "202", 7*time.Millisecond)
	c.RecordHTTPRequest("GET", "/queue_status", "200", time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("POST", "/api/v1/jobs", "202")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("GET", "/queue_status", "200")))
}

func TestCollector_IndependentRegistries(t *testing.T) {
	// Two collectors on separate registries must not collide.
	c1, _ := newTestCollector(t)
	c2, _ := newTestCollector(t)

	c1.BatchCollected(1, time.Millisecond)
	c2.BatchCollected(2, time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(c1.batchesCollected))
	assert.Equal(t, float64(1), testutil.ToFloat64(c2.batchesCollected))
}

func TestCollector_GateWaitObserved(t *testing.T) {
	c, reg := newTestCollector(t)

	c.GateWait(30 * time.Millisecond)

	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == "batchd_gate_wait_seconds" {
			require.Len(t, f.GetMetric(), 1)
			assert.Equal(t, uint64(1), f.GetMetric()[0].GetHistogram().GetSampleCount())
			return
		}
	}
	t.Fatal("gate_wait_seconds not registered")
}
