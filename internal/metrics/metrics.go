// Package metrics tracks capture and session statistics in a prometheus
// registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Stats holds the recorder's metrics. A nil *Stats is valid and records
// nothing.
type Stats struct {
	reg *prometheus.Registry

	blocksCaptured  *prometheus.CounterVec
	blocksDropped   *prometheus.CounterVec
	sessionsStarted *prometheus.CounterVec
	sessionsFailed  *prometheus.CounterVec
	encodeFallbacks prometheus.Counter
	artifactBytes   prometheus.Counter
	recording       prometheus.Gauge
	sessionSeconds  prometheus.Histogram
}

// New creates a Stats with its own registry, including process and Go
// runtime collectors.
func New() *Stats {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())
	return &Stats{
		reg: reg,

		blocksCaptured: f.NewCounterVec(prometheus.CounterOpts{
			Name: "loopmix_blocks_captured_total",
			Help: "Audio blocks handed off by capture streams",
		}, []string{"source"}),
		blocksDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "loopmix_blocks_dropped_total",
			Help: "Audio blocks dropped because the hand-off queue was full",
		}, []string{"source"}),
		sessionsStarted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "loopmix_sessions_started_total",
			Help: "Recording sessions started",
		}, []string{"mode"}),
		sessionsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "loopmix_sessions_failed_total",
			Help: "Recording sessions that failed to start or stop",
		}, []string{"reason"}),
		encodeFallbacks: f.NewCounter(prometheus.CounterOpts{
			Name: "loopmix_encode_fallbacks_total",
			Help: "Artifacts kept uncompressed because compression was unavailable or failed",
		}),
		artifactBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "loopmix_artifact_bytes_total",
			Help: "Bytes of audio artifacts written",
		}),
		recording: f.NewGauge(prometheus.GaugeOpts{
			Name: "loopmix_recording",
			Help: "1 while a session is recording",
		}),
		sessionSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "loopmix_session_duration_seconds",
			Help:    "Duration of written artifacts",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600},
		}),
	}
}

// Registry returns the underlying registry.
func (s *Stats) Registry() *prometheus.Registry {
	if s == nil {
		return nil
	}
	return s.reg
}

// Handler serves the registry in the prometheus text format.
func (s *Stats) Handler() http.Handler {
	return promhttp.InstrumentMetricHandler(s.reg,
		promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}))
}

// CaptureFinished records the block counters of one finished capturer.
func (s *Stats) CaptureFinished(source string, blocks, dropped uint64) {
	if s == nil {
		return
	}
	s.blocksCaptured.WithLabelValues(source).Add(float64(blocks))
	s.blocksDropped.WithLabelValues(source).Add(float64(dropped))
}

// SessionStarted records a session start in mode.
func (s *Stats) SessionStarted(mode string) {
	if s == nil {
		return
	}
	s.sessionsStarted.WithLabelValues(mode).Inc()
	s.recording.Set(1)
}

// SessionEnded clears the recording gauge.
func (s *Stats) SessionEnded() {
	if s == nil {
		return
	}
	s.recording.Set(0)
}

// SessionFailed records a failure classified by reason.
func (s *Stats) SessionFailed(reason string) {
	if s == nil {
		return
	}
	s.sessionsFailed.WithLabelValues(reason).Inc()
}

// ArtifactWritten records a written file.
func (s *Stats) ArtifactWritten(size int64, seconds float64, fallback bool) {
	if s == nil {
		return
	}
	s.artifactBytes.Add(float64(size))
	s.sessionSeconds.Observe(seconds)
	if fallback {
		s.encodeFallbacks.Inc()
	}
}
