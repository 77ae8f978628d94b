// Package metrics provides the Prometheus metrics of the attendance engine.
//
// All Observe/Set/Inc helpers are safe to call on a nil *Metrics, so components
// constructed without metrics (tests, CLI commands) need no special casing.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all Prometheus metrics of the engine.
type Metrics struct {
	Detections         *prometheus.CounterVec
	MatchResults       *prometheus.CounterVec
	ResolveLatency     prometheus.Histogram
	TrackTransitions   *prometheus.CounterVec
	AttendanceOutcomes *prometheus.CounterVec
	WriterRetries      prometheus.Counter
	WriterSpooled      prometheus.Counter
	WriterDegraded     prometheus.Gauge
	SpoolDepth         prometheus.Gauge
	CameraDegraded     *prometheus.GaugeVec
	CameraReconnects   *prometheus.CounterVec
	StoreActiveRecords prometheus.Gauge
	registry           *prometheus.Registry
}

// New creates the metrics and registers them on registry.
func New(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register attendance metrics: %w", err)
	}
	return m, nil
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) initMetrics() {
	m.Detections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_detections_total",
		Help: "Total number of face detections received per camera",
	}, []string{"camera"})

	m.MatchResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_match_results_total",
		Help: "Total number of matcher results by outcome (matched or rejection reason)",
	}, []string{"result"})

	m.ResolveLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "attendance_resolve_duration_seconds",
		Help:    "Time spent resolving one detection against the embedding store",
		Buckets: prometheus.ExponentialBuckets(0.00005, 2, 12),
	})

	m.TrackTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_track_transitions_total",
		Help: "Total number of track state transitions",
	}, []string{"from", "to"})

	m.AttendanceOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_outcomes_total",
		Help: "Total number of attendance decisions by outcome",
	}, []string{"outcome"})

	m.WriterRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "attendance_writer_retries_total",
		Help: "Total number of retried attendance writes",
	})

	m.WriterSpooled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "attendance_writer_spooled_total",
		Help: "Total number of attendance events written to the overflow spool",
	})

	m.WriterDegraded = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "attendance_writer_degraded",
		Help: "1 while the persistence sink is failing and events are being spooled",
	})

	m.SpoolDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "attendance_spool_depth",
		Help: "Number of attendance events waiting in the overflow spool",
	})

	m.CameraDegraded = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "attendance_camera_degraded",
		Help: "1 when a camera session gave up reconnecting to its detector feed",
	}, []string{"camera"})

	m.CameraReconnects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_camera_reconnects_total",
		Help: "Total number of detector feed reconnect attempts per camera",
	}, []string{"camera"})

	m.StoreActiveRecords = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "attendance_store_active_records",
		Help: "Number of active enrolled embeddings in the published snapshot",
	})
}

// ObserveDetection counts one detection from camera.
func (m *Metrics) ObserveDetection(camera string) {
	if m == nil {
		return
	}
	m.Detections.WithLabelValues(camera).Inc()
}

// ObserveMatch counts one matcher result and its latency.
func (m *Metrics) ObserveMatch(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.MatchResults.WithLabelValues(result).Inc()
	m.ResolveLatency.Observe(took.Seconds())
}

// ObserveTransition counts one track state transition.
func (m *Metrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.TrackTransitions.WithLabelValues(from, to).Inc()
}

// ObserveOutcome counts one attendance decision.
func (m *Metrics) ObserveOutcome(outcome string) {
	if m == nil {
		return
	}
	m.AttendanceOutcomes.WithLabelValues(outcome).Inc()
}

// IncWriterRetries counts one retried write.
func (m *Metrics) IncWriterRetries() {
	if m == nil {
		return
	}
	m.WriterRetries.Inc()
}

// IncWriterSpooled counts one spooled event.
func (m *Metrics) IncWriterSpooled() {
	if m == nil {
		return
	}
	m.WriterSpooled.Inc()
}

// SetWriterDegraded updates the writer degraded gauge.
func (m *Metrics) SetWriterDegraded(degraded bool) {
	if m == nil {
		return
	}
	m.WriterDegraded.Set(boolToFloat(degraded))
}

// SetSpoolDepth updates the spool depth gauge.
func (m *Metrics) SetSpoolDepth(n int) {
	if m == nil {
		return
	}
	m.SpoolDepth.Set(float64(n))
}

// SetCameraDegraded updates the degraded gauge of camera.
func (m *Metrics) SetCameraDegraded(camera string, degraded bool) {
	if m == nil {
		return
	}
	m.CameraDegraded.WithLabelValues(camera).Set(boolToFloat(degraded))
}

// IncCameraReconnects counts one reconnect attempt of camera.
func (m *Metrics) IncCameraReconnects(camera string) {
	if m == nil {
		return
	}
	m.CameraReconnects.WithLabelValues(camera).Inc()
}

// SetStoreActiveRecords updates the active record gauge.
func (m *Metrics) SetStoreActiveRecords(n int) {
	if m == nil {
		return
	}
	m.StoreActiveRecords.Set(float64(n))
}

// Describe implements the prometheus.Collector interface.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.Detections.Describe(ch)
	m.MatchResults.Describe(ch)
	m.ResolveLatency.Describe(ch)
	m.TrackTransitions.Describe(ch)
	m.AttendanceOutcomes.Describe(ch)
	m.WriterRetries.Describe(ch)
	m.WriterSpooled.Describe(ch)
	m.WriterDegraded.Describe(ch)
	m.SpoolDepth.Describe(ch)
	m.CameraDegraded.Describe(ch)
	m.CameraReconnects.Describe(ch)
	m.StoreActiveRecords.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.Detections.Collect(ch)
	m.MatchResults.Collect(ch)
	m.ResolveLatency.Collect(ch)
	m.TrackTransitions.Collect(ch)
	m.AttendanceOutcomes.Collect(ch)
	m.WriterRetries.Collect(ch)
	m.WriterSpooled.Collect(ch)
	m.WriterDegraded.Collect(ch)
	m.SpoolDepth.Collect(ch)
	m.CameraDegraded.Collect(ch)
	m.CameraReconnects.Collect(ch)
	m.StoreActiveRecords.Collect(ch)
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
