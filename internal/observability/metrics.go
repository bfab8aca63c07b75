package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions   prometheus.Gauge
	SessionEvents    *prometheus.CounterVec
	WSMessages       *prometheus.CounterVec
	GestureEvents    *prometheus.CounterVec
	CaptureFrames    *prometheus.CounterVec
	AudioChunks      *prometheus.CounterVec
	CreditsOps       *prometheus.CounterVec
	PaymentEvents    *prometheus.CounterVec
	LiveOpenLatency  prometheus.Histogram
	LiveAdapterError *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of arena sessions currently active.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		GestureEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gesture_events_total",
			Help:      "Gesture classifier outcomes by gesture id.",
		}, []string{"gesture"}),
		CaptureFrames: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_frames_total",
			Help:      "Inbound capture audio frames by outcome (sent, dropped_speaking, dropped_inactive).",
		}, []string{"outcome"}),
		AudioChunks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assistant_audio_chunks_total",
			Help:      "Assistant audio chunks by outcome (scheduled, decode_error).",
		}, []string{"outcome"}),
		CreditsOps: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credits_ops_total",
			Help:      "Credits store operations by op and outcome.",
		}, []string{"op", "outcome"}),
		PaymentEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_events_total",
			Help:      "Payment provider events by type.",
		}, []string{"event"}),
		LiveOpenLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "live_open_latency_ms",
			Help:      "Latency to open the live backend session in milliseconds.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 4000, 8000},
		}),
		LiveAdapterError: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_adapter_errors_total",
			Help:      "Live adapter errors by code.",
		}, []string{"code"}),
	}
}

func (m *Metrics) ObserveLiveOpenLatency(d time.Duration) {
	m.LiveOpenLatency.Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
