package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts total HTTP requests served by the echo dispatcher
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentrelay_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// RequestDuration tracks request latency
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentrelay_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ActiveStreams tracks streams currently in flight
	ActiveStreams = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agentrelay_active_streams",
			Help: "Number of streams currently in flight",
		},
		[]string{"agent"},
	)

	// StreamsStarted counts sends that opened a channel
	StreamsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentrelay_streams_started_total",
			Help: "Total number of streams started",
		},
		[]string{"agent", "transport"},
	)

	// StreamsFinished counts streams by terminal status
	StreamsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentrelay_streams_finished_total",
			Help: "Total number of streams finished, by status",
		},
		[]string{"agent", "status"},
	)

	// StreamDuration tracks how long streams run
	StreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentrelay_stream_duration_seconds",
			Help:    "Stream duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"agent", "status"},
	)

	// ChunksReceived counts stream_chunk frames accepted
	ChunksReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentrelay_chunks_received_total",
			Help: "Total number of stream chunks received",
		},
		[]string{"agent"},
	)

	// MalformedFrames counts frames that could not be decoded
	MalformedFrames = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agentrelay_malformed_frames_total",
			Help: "Total number of inbound frames that failed to decode",
		},
	)

	// ReconnectAttempts counts scheduled WebSocket reconnects
	ReconnectAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agentrelay_reconnect_attempts_total",
			Help: "Total number of scheduled WebSocket reconnect attempts",
		},
	)

	// LinkState exposes the WebSocket link state (1 for the current state)
	LinkState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agentrelay_link_state",
			Help: "Current WebSocket link state",
		},
		[]string{"state"},
	)

	// ToolCalls tracks MCP tool invocations
	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentrelay_tool_calls_total",
			Help: "Total number of MCP tool calls",
		},
		[]string{"tool", "status"},
	)
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher for SSE support
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the hijacker for WebSocket upgrades
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware creates an HTTP middleware that records metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// WebSocket upgrades need the raw writer for Hijack
		if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
			next.ServeHTTP(w, r)
			RequestsTotal.WithLabelValues(r.Method, normalizePath(r.URL.Path), "101").Inc()
			return
		}

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)

		RequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		RequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// normalizePath normalizes URL paths to avoid high cardinality
func normalizePath(path string) string {
	switch {
	case path == "/health", path == "/ready", path == "/ws", path == "/metrics":
		return path
	case strings.HasPrefix(path, "/agents/") && strings.HasSuffix(path, "/stream"):
		return "/agents/{agent}/stream"
	case strings.HasPrefix(path, "/stream/") && strings.HasSuffix(path, "/cancel"):
		return "/stream/{id}/cancel"
	case strings.HasPrefix(path, "/stream/"):
		return "/stream/{id}"
	default:
		return "other"
	}
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordStreamStart increments the active stream gauge
func RecordStreamStart(agent, transport string) {
	StreamsStarted.WithLabelValues(agent, transport).Inc()
	ActiveStreams.WithLabelValues(agent).Inc()
}

// RecordStreamEnd decrements the active stream gauge and records duration
func RecordStreamEnd(agent, status string, durationSeconds float64) {
	ActiveStreams.WithLabelValues(agent).Dec()
	StreamsFinished.WithLabelValues(agent, status).Inc()
	StreamDuration.WithLabelValues(agent, status).Observe(durationSeconds)
}

// RecordChunk records one accepted chunk
func RecordChunk(agent string) {
	ChunksReceived.WithLabelValues(agent).Inc()
}

// RecordMalformedFrame records a frame that failed to decode
func RecordMalformedFrame() {
	MalformedFrames.Inc()
}

// RecordReconnect records a scheduled reconnect
func RecordReconnect() {
	ReconnectAttempts.Inc()
}

// SetLinkState marks state as the current link state
func SetLinkState(current string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		LinkState.WithLabelValues(s).Set(v)
	}
}

// RecordToolCall records an MCP tool invocation
func RecordToolCall(tool, status string) {
	ToolCalls.WithLabelValues(tool, status).Inc()
}
