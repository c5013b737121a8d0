package rotation

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsNoopWithoutInit(t *testing.T) {
	m := NewMetrics()
	if MetricsRegistered() {
		t.Skip("metrics already registered by an earlier test")
	}

	// Must not panic with nil collectors.
	m.RecordStarted("probe", "set")
	m.RecordCompleted("probe", "set", "success", 0.1)
	m.RecordRetry("probe")
	m.RecordRollback("probe", "failed")
}

func TestMetricsRecording(t *testing.T) {
	InitMetrics()
	require.True(t, MetricsRegistered())

	// Label values no other test uses, the registry is process-global.
	m := NewMetrics()
	m.RecordStarted("metrics-probe", "set")
	m.RecordStarted("metrics-probe", "set")
	m.RecordCompleted("metrics-probe", "set", "success", 1.5)
	m.RecordRetry("metrics-probe")
	m.RecordRollback("metrics-probe", "success")

	assert.Equal(t, 2.0, testutil.ToFloat64(rotationStartedTotal.WithLabelValues("metrics-probe", "set")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rotationCompletedTotal.WithLabelValues("metrics-probe", "set", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rotationRetriesTotal.WithLabelValues("metrics-probe")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rollbackTotal.WithLabelValues("metrics-probe", "success")))
}
