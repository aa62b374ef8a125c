// Package metrics exposes Prometheus counters and gauges for the daemon.
// A Metrics value uses its own registry so tests never collide on the
// global default.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all daemon instruments.
type Metrics struct {
	registry *prometheus.Registry

	FramesTotal       prometheus.Counter
	DetectionsTotal   prometheus.Counter
	RelaySwitches     *prometheus.CounterVec
	WatchdogTrips     prometheus.Counter
	StreamReconnects  prometheus.Counter
	EmergencyStops    prometheus.Counter
	FPS               prometheus.Gauge
	ActiveZones       prometheus.Gauge
	StreamConnected   prometheus.Gauge
	DetectionDuration prometheus.Histogram
}

// New creates and registers all instruments.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		FramesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "switchd_frames_total",
			Help: "Total frames parsed from the camera stream",
		}),
		DetectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "switchd_detections_total",
			Help: "Total detections returned by the detector",
		}),
		RelaySwitches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switchd_relay_switches_total",
			Help: "Relay state transitions by direction",
		}, []string{"direction"}),
		WatchdogTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "switchd_watchdog_trips_total",
			Help: "Times the frame watchdog forced a safe state",
		}),
		StreamReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "switchd_stream_reconnects_total",
			Help: "Camera stream reconnect attempts",
		}),
		EmergencyStops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "switchd_emergency_stops_total",
			Help: "Emergency stop invocations from any surface",
		}),
		FPS: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "switchd_stream_fps",
			Help: "Current frame rate of the camera stream",
		}),
		ActiveZones: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "switchd_active_zones",
			Help: "Zones currently reporting presence",
		}),
		StreamConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "switchd_stream_connected",
			Help: "1 while the camera session is established",
		}),
		DetectionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "switchd_detection_duration_seconds",
			Help:    "Per-frame detection latency",
			Buckets: prometheus.DefBuckets,
		}),
	}

	m.registry.MustRegister(
		m.FramesTotal,
		m.DetectionsTotal,
		m.RelaySwitches,
		m.WatchdogTrips,
		m.StreamReconnects,
		m.EmergencyStops,
		m.FPS,
		m.ActiveZones,
		m.StreamConnected,
		m.DetectionDuration,
	)
	return m
}

// Handler returns the scrape endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
