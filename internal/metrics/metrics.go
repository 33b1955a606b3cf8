// Package metrics exposes pipeline counters to Prometheus. Hot-path updates
// are plain atomics; the registry reads them lazily on scrape.
package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics.
type Metrics struct {
	// Frame processing counters
	FramesCaptured  atomic.Uint64
	FramesProcessed atomic.Uint64
	FramesPublished atomic.Uint64
	FramesDropped   atomic.Uint64

	// Error counters
	CameraReadErrors atomic.Uint64
	DetectErrors     atomic.Uint64

	// Latency tracking
	InferenceLatencyMs atomic.Uint64

	// Occupancy state mirrored for scraping
	PersonsCurrent atomic.Uint64
	PersonsTotal   atomic.Uint64
	PersonsMax     atomic.Uint64

	// Client tracking
	StreamClients atomic.Uint64

	registry *prometheus.Registry
}

// New creates a Metrics instance with its own Prometheus registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) registerPrometheusMetrics() {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "person_counter_frames_captured_total",
			Help: "Total frames captured from the camera",
		},
		func() float64 { return float64(m.FramesCaptured.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "person_counter_frames_processed_total",
			Help: "Total frames run through the detector",
		},
		func() float64 { return float64(m.FramesProcessed.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "person_counter_frames_published_total",
			Help: "Total annotated frames published to stream clients",
		},
		func() float64 { return float64(m.FramesPublished.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "person_counter_frames_dropped_total",
			Help: "Total frames skipped because no stream client was connected",
		},
		func() float64 { return float64(m.FramesDropped.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "person_counter_camera_read_errors_total",
			Help: "Total camera read failures",
		},
		func() float64 { return float64(m.CameraReadErrors.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "person_counter_detect_errors_total",
			Help: "Total detector inference errors",
		},
		func() float64 { return float64(m.DetectErrors.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "person_counter_inference_latency_ms",
			Help: "Latest inference latency in milliseconds",
		},
		func() float64 { return float64(m.InferenceLatencyMs.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "person_counter_persons_current",
			Help: "Smoothed person count in the latest processed frame",
		},
		func() float64 { return float64(m.PersonsCurrent.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "person_counter_persons_total",
			Help: "Cumulative arrivals counted this session",
		},
		func() float64 { return float64(m.PersonsTotal.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "person_counter_persons_max",
			Help: "Peak simultaneous person count this session",
		},
		func() float64 { return float64(m.PersonsMax.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "person_counter_stream_clients",
			Help: "Connected MJPEG stream clients",
		},
		func() float64 { return float64(m.StreamClients.Load()) },
	))
}

// UpdateInferenceLatency records the duration of the latest inference run.
func (m *Metrics) UpdateInferenceLatency(d time.Duration) {
	m.InferenceLatencyMs.Store(uint64(d.Milliseconds()))
}

// UpdateOccupancy mirrors the counter state for scraping.
func (m *Metrics) UpdateOccupancy(current, total, max int) {
	m.PersonsCurrent.Store(uint64(current))
	m.PersonsTotal.Store(uint64(total))
	m.PersonsMax.Store(uint64(max))
}

// Handler returns the Prometheus HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer serves /metrics on addr. It blocks.
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
