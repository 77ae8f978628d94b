package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersOnce(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := New(registry)
	require.NoError(t, err)
	assert.Same(t, registry, m.Registry())

	_, err = New(registry)
	assert.Error(t, err, "registering the same collectors twice must fail")
}

func TestMetrics_Counters(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)

	m.ObserveDetection("cam-1")
	m.ObserveDetection("cam-1")
	m.ObserveMatch("ambiguous", time.Millisecond)
	m.ObserveTransition("active", "lost")
	m.ObserveOutcome("recorded")
	m.IncWriterRetries()
	m.IncWriterSpooled()
	m.IncCameraReconnects("cam-2")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Detections.WithLabelValues("cam-1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MatchResults.WithLabelValues("ambiguous")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TrackTransitions.WithLabelValues("active", "lost")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AttendanceOutcomes.WithLabelValues("recorded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WriterRetries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WriterSpooled))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CameraReconnects.WithLabelValues("cam-2")))
}

func TestMetrics_Gauges(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)

	m.SetWriterDegraded(true)
	m.SetSpoolDepth(7)
	m.SetCameraDegraded("cam-1", true)
	m.SetStoreActiveRecords(42)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.WriterDegraded))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.SpoolDepth))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CameraDegraded.WithLabelValues("cam-1")))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.StoreActiveRecords))

	m.SetWriterDegraded(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.WriterDegraded))
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveDetection("cam-1")
		m.ObserveMatch("matched", time.Millisecond)
		m.ObserveTransition("new", "active")
		m.ObserveOutcome("suppressed")
		m.IncWriterRetries()
		m.IncWriterSpooled()
		m.SetWriterDegraded(true)
		m.SetSpoolDepth(1)
		m.SetCameraDegraded("cam-1", true)
		m.IncCameraReconnects("cam-1")
		m.SetStoreActiveRecords(1)
	})
}
