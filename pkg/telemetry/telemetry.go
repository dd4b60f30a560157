// Package telemetry provides Prometheus metrics for sessions, audio and
// analysis. A nil *Metrics is valid and records nothing.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "soulsmith"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	SessionsStarted  *prometheus.CounterVec
	SessionsEnded    *prometheus.CounterVec
	SessionsFailed   *prometheus.CounterVec
	SessionState     *prometheus.GaugeVec
	Transitions      *prometheus.CounterVec
	SessionDuration  prometheus.Histogram
	AgentCleanupErrs prometheus.Counter

	// Audio metrics
	AudioFramesSent     prometheus.Counter
	AudioFramesReceived prometheus.Counter
	AudioSendErrors     prometheus.Counter
	PlaybackFlushes     prometheus.Counter

	// Analysis metrics
	TranscriptsRetrieved *prometheus.CounterVec
	AnalysesTotal        prometheus.Counter
	AnalysesDegraded     prometheus.Counter
	AnalysisLatency      prometheus.Histogram
}

// New creates the metrics on a fresh registry that also carries the Go
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := NewWithRegisterer(reg)
	m.registry = reg
	return m
}

// NewWithRegisterer creates and registers all metrics on reg.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsStarted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total number of sessions started",
		}, []string{"phase"}),
		SessionsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Total number of sessions ended, by reason",
		}, []string{"reason"}),
		SessionsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_failed_total",
			Help:      "Total number of sessions that failed, by error kind",
		}, []string{"kind"}),
		SessionState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "1 for the current session state, 0 otherwise",
		}, []string{"state"}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Total number of session state transitions",
		}, []string{"from", "to"}),
		SessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of live sessions in seconds",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		AgentCleanupErrs: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_cleanup_errors_total",
			Help:      "Total number of dynamic agents that could not be deleted",
		}),

		AudioFramesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_sent_total",
			Help:      "Total user audio frames sent to the agent",
		}),
		AudioFramesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_received_total",
			Help:      "Total agent audio frames queued for playback",
		}),
		AudioSendErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_send_errors_total",
			Help:      "Total user audio frames that failed to send",
		}),
		PlaybackFlushes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_flushes_total",
			Help:      "Total playback queue flushes",
		}),

		TranscriptsRetrieved: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_retrieved_total",
			Help:      "Total transcript retrievals, by outcome",
		}, []string{"outcome"}),
		AnalysesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_total",
			Help:      "Total metrics reports computed",
		}),
		AnalysesDegraded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_degraded_total",
			Help:      "Total reports whose external assessment was substituted",
		}),
		AnalysisLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_duration_seconds",
			Help:      "Time spent computing a report",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		}),
	}
}

// Handler serves the metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SessionStarted records a new session.
func (m *Metrics) SessionStarted(phase string) {
	if m == nil {
		return
	}
	m.SessionsStarted.WithLabelValues(phase).Inc()
}

// SessionEnded records how a session ended and how long it was live.
func (m *Metrics) SessionEnded(reason string, live time.Duration) {
	if m == nil {
		return
	}
	m.SessionsEnded.WithLabelValues(reason).Inc()
	m.SessionDuration.Observe(live.Seconds())
}

// SessionFailed records a failed session.
func (m *Metrics) SessionFailed(kind string) {
	if m == nil {
		return
	}
	m.SessionsFailed.WithLabelValues(kind).Inc()
}

// Transition records a state change and updates the state gauge.
func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(from, to).Inc()
	m.SessionState.WithLabelValues(from).Set(0)
	m.SessionState.WithLabelValues(to).Set(1)
}

// FrameSent records an outbound audio frame.
func (m *Metrics) FrameSent() {
	if m == nil {
		return
	}
	m.AudioFramesSent.Inc()
}

// FrameReceived records an inbound audio frame.
func (m *Metrics) FrameReceived() {
	if m == nil {
		return
	}
	m.AudioFramesReceived.Inc()
}

// SendFailed records an outbound frame that could not be sent.
func (m *Metrics) SendFailed() {
	if m == nil {
		return
	}
	m.AudioSendErrors.Inc()
}

// Flushed records a playback flush.
func (m *Metrics) Flushed() {
	if m == nil {
		return
	}
	m.PlaybackFlushes.Inc()
}

// TranscriptRetrieved records a retrieval outcome ("ok" or an error kind).
func (m *Metrics) TranscriptRetrieved(outcome string) {
	if m == nil {
		return
	}
	m.TranscriptsRetrieved.WithLabelValues(outcome).Inc()
}

// Analyzed records a computed report.
func (m *Metrics) Analyzed(took time.Duration, degraded bool) {
	if m == nil {
		return
	}
	m.AnalysesTotal.Inc()
	m.AnalysisLatency.Observe(took.Seconds())
	if degraded {
		m.AnalysesDegraded.Inc()
	}
}

// AgentCleanupFailed records a dynamic agent that could not be deleted.
func (m *Metrics) AgentCleanupFailed() {
	if m == nil {
		return
	}
	m.AgentCleanupErrs.Inc()
}
