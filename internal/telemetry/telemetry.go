// Package telemetry exposes the counters and gauges the debug HTTP
// server serves on /metrics: decode errors, hardware-resurrection
// attempts, cache hit rate, scheduler drops, and clock drift. Grouped
// under one Registry per player instance rather than the global default
// registerer, since an embedding host may run more than one Player.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry owns a private prometheus.Registry and the metric
// collectors the player packages report through.
type Registry struct {
	reg *prometheus.Registry

	DecodeErrors          *prometheus.CounterVec
	HardwareResurrections prometheus.Counter
	HardwareFallbacks     prometheus.Counter
	CacheHits             prometheus.Counter
	CacheMisses           prometheus.Counter
	SchedulerDrops        *prometheus.CounterVec
	ClockDrift            prometheus.Gauge
	SeekDuration          prometheus.Histogram
}

// New constructs a Registry with every collector registered.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		DecodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lumenplay_decode_errors_total",
			Help: "Decoder errors by track kind and backend.",
		}, []string{"kind", "backend"}),
		HardwareResurrections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lumenplay_hardware_resurrections_total",
			Help: "Times the video decoder switched back from software to hardware decoding after a hardware fallback.",
		}),
		HardwareFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lumenplay_hardware_fallbacks_total",
			Help: "Times the video decoder gave up on hardware and switched to software for the rest of playback.",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lumenplay_source_cache_hits_total",
			Help: "Byte-range reads served from the source LRU cache.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lumenplay_source_cache_misses_total",
			Help: "Byte-range reads that required a network or file fetch.",
		}),
		SchedulerDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lumenplay_scheduler_drops_total",
			Help: "Video frames dropped by the presentation scheduler, by reason.",
		}, []string{"reason"}),
		ClockDrift: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lumenplay_clock_drift_seconds",
			Help: "Most recent correction applied by the media clock against the audio clock.",
		}),
		SeekDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lumenplay_seek_duration_seconds",
			Help:    "Wall-clock time from seek() call to the seeked event.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),
	}

	reg.MustRegister(
		r.DecodeErrors,
		r.HardwareResurrections,
		r.HardwareFallbacks,
		r.CacheHits,
		r.CacheMisses,
		r.SchedulerDrops,
		r.ClockDrift,
		r.SeekDuration,
	)
	return r
}

// Handler returns the http.Handler to mount at /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// The methods below satisfy the narrow MetricsSink interfaces declared in
// internal/decode, internal/scheduler, and internal/source, letting those
// packages report into a Registry without importing this package.

// DecodeError implements decode.MetricsSink.
func (r *Registry) DecodeError(kind, backend string) {
	r.DecodeErrors.WithLabelValues(kind, backend).Inc()
}

// HardwareResurrection implements decode.MetricsSink.
func (r *Registry) HardwareResurrection() { r.HardwareResurrections.Inc() }

// HardwareFallback implements decode.MetricsSink.
func (r *Registry) HardwareFallback() { r.HardwareFallbacks.Inc() }

// FrameDropped implements scheduler.MetricsSink.
func (r *Registry) FrameDropped(reason string) {
	r.SchedulerDrops.WithLabelValues(reason).Inc()
}

// CacheHit implements source.MetricsSink.
func (r *Registry) CacheHit() { r.CacheHits.Inc() }

// CacheMiss implements source.MetricsSink.
func (r *Registry) CacheMiss() { r.CacheMisses.Inc() }

// SetDrift implements clock.MetricsSink.
func (r *Registry) SetDrift(seconds float64) { r.ClockDrift.Set(seconds) }
