package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "avatarstage_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "avatarstage_request_duration_seconds",
			Help: "HTTP request duration in seconds",
		},
		[]string{"method", "endpoint"},
	)

	ClipLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "avatarstage_clip_loads_total",
			Help: "Clip load requests by result (hit, miss, shared, error, unknown)",
		},
		[]string{"result"},
	)

	ClipLoadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "avatarstage_clip_load_duration_seconds",
			Help: "Time spent fetching and decoding a clip",
		},
	)

	ClipFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "avatarstage_clip_fallbacks_total",
			Help: "Play requests for unknown clips that fell back to the default",
		},
	)

	CrossFades = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "avatarstage_crossfades_total",
			Help: "Completed cross-fade transitions",
		},
	)

	StateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "avatarstage_state_transitions_total",
			Help: "Conversation state transitions",
		},
		[]string{"from", "to"},
	)

	TranscriptsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "avatarstage_transcripts_dropped_total",
			Help: "Transcripts ignored by the conversation machine",
		},
		[]string{"reason"},
	)

	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "avatarstage_upstream_requests_total",
			Help: "Chat and TTS upstream calls by result",
		},
		[]string{"service", "result"},
	)

	UpstreamLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "avatarstage_upstream_latency_seconds",
			Help: "Chat and TTS upstream latency in seconds",
		},
		[]string{"service"},
	)

	TTSCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "avatarstage_tts_cache_total",
			Help: "TTS cache lookups by result",
		},
		[]string{"result"},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "avatarstage_active_sessions",
			Help: "Number of connected page sessions",
		},
	)
)
