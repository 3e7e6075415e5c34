package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the client runtime. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Turns              *prometheus.CounterVec
	StreamChunks       prometheus.Counter
	StreamBytes        prometheus.Counter
	SentencesQueued    *prometheus.CounterVec
	SpeechEvents       *prometheus.CounterVec
	CaptureEvents      *prometheus.CounterVec
	SessionIDUpdates   prometheus.Counter
	WSMessages         *prometheus.CounterVec
	WSWriteErrors      *prometheus.CounterVec
	FirstChunkLatency  prometheus.Histogram
	FirstSpeechLatency prometheus.Histogram

	latency *latencyWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		Turns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Assistant turns by outcome.",
		}, []string{"outcome"}),
		StreamChunks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_chunks_total",
			Help:      "Reply chunks received from the chat stream.",
		}),
		StreamBytes: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_bytes_total",
			Help:      "Reply bytes received from the chat stream.",
		}),
		SentencesQueued: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sentences_queued_total",
			Help:      "Sentences handed to the speech scheduler by kind (sentence, flush).",
		}, []string{"kind"}),
		SpeechEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speech_events_total",
			Help:      "Speech scheduler events by type.",
		}, []string{"event"}),
		CaptureEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_events_total",
			Help:      "Speech capture session events by type.",
		}, []string{"event"}),
		SessionIDUpdates: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_id_updates_total",
			Help:      "Times the stored session id was replaced by a server supplied one.",
		}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		WSWriteErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_write_errors_total",
			Help:      "WebSocket write failures by operation.",
		}, []string{"op"}),
		FirstChunkLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_chunk_latency_ms",
			Help:      "Latency from request to first reply chunk in milliseconds.",
			Buckets:   []float64{100, 200, 300, 500, 700, 900, 1200, 2000, 4000},
		}),
		FirstSpeechLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_speech_latency_ms",
			Help:      "Latency from request to first sentence handed to speech in milliseconds.",
			Buckets:   []float64{200, 400, 700, 900, 1200, 1600, 2500, 4000, 8000},
		}),
		latency: newLatencyWindow(256),
	}
}

func (m *Metrics) ObserveTurn(outcome string) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveChunk(size int) {
	if m == nil {
		return
	}
	m.StreamChunks.Inc()
	m.StreamBytes.Add(float64(size))
}

func (m *Metrics) ObserveSentence(kind string) {
	if m == nil {
		return
	}
	m.SentencesQueued.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveSpeech(event string) {
	if m == nil {
		return
	}
	m.SpeechEvents.WithLabelValues(event).Inc()
	m.latency.speechEvent(event)
}

func (m *Metrics) ObserveCapture(event string) {
	if m == nil {
		return
	}
	m.CaptureEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveSessionIDUpdate() {
	if m == nil {
		return
	}
	m.SessionIDUpdates.Inc()
}

func (m *Metrics) ObserveFirstChunkLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.FirstChunkLatency.Observe(float64(d.Milliseconds()))
	m.latency.observe(StageFirstChunk, d)
}

func (m *Metrics) ObserveFirstSpeechLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.FirstSpeechLatency.Observe(float64(d.Milliseconds()))
	m.latency.observe(StageFirstSentence, d)
}

// ObserveStage records a latency sample in the rolling window served by the inspector.
func (m *Metrics) ObserveStage(stage Stage, d time.Duration) {
	if m == nil {
		return
	}
	m.latency.observe(stage, d)
}

func (m *Metrics) LatencySnapshot() LatencySnapshot {
	if m == nil {
		return newLatencyWindow(1).snapshot()
	}
	return m.latency.snapshot()
}

func (m *Metrics) ObserveWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

func (m *Metrics) ObserveWSWriteError(op string) {
	if m == nil {
		return
	}
	m.WSWriteErrors.WithLabelValues(op).Inc()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
