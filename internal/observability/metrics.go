package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "transcription_gateway_active_sessions",
		Help: "Number of open transcription sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transcription_gateway_sessions_total",
		Help: "Total number of sessions accepted",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "transcription_gateway_session_duration_seconds",
		Help:    "Duration of transcription sessions in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
	})

	// Chunk metrics
	chunksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transcription_gateway_chunks_total",
		Help: "Audio chunks by outcome",
	}, []string{"status"}) // status: "success", "error", "dropped"

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "transcription_gateway_queue_depth",
		Help: "Chunks queued but not yet started, summed over sessions",
	})

	audioBytesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transcription_gateway_audio_bytes_total",
		Help: "Total decoded audio bytes received",
	})

	// Backend metrics
	backendLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "transcription_gateway_backend_latency_seconds",
		Help:    "Transcription backend latency per chunk in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	}, []string{"backend"})

	segmentsEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transcription_gateway_segments_total",
		Help: "Total segments emitted to clients",
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transcription_gateway_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "transcription_gateway_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transcription_gateway_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

// Metrics tracks metrics for a single session
type Metrics struct {
	backend      string
	startTime    time.Time
	backendStart time.Time
	queued       int
	mu           sync.Mutex
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics(backend string) *Metrics {
	return &Metrics{
		backend:   backend,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a session
func (m *Metrics) RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a session and releases its queue share
func (m *Metrics) RecordSessionEnd() {
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())

	m.mu.Lock()
	queueDepth.Sub(float64(m.queued))
	m.queued = 0
	m.mu.Unlock()
}

// RecordChunkQueued records an accepted chunk of n decoded bytes
func (m *Metrics) RecordChunkQueued(n int) {
	audioBytesReceived.Add(float64(n))
	m.mu.Lock()
	m.queued++
	m.mu.Unlock()
	queueDepth.Inc()
}

// RecordChunkDequeued records a chunk leaving the queue for the worker
func (m *Metrics) RecordChunkDequeued() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queued > 0 {
		m.queued--
		queueDepth.Dec()
	}
}

// RecordChunksDropped records queued chunks discarded on stop or disconnect
func (m *Metrics) RecordChunksDropped(n int) {
	if n <= 0 {
		return
	}
	chunksTotal.WithLabelValues("dropped").Add(float64(n))

	m.mu.Lock()
	defer m.mu.Unlock()
	if n > m.queued {
		n = m.queued
	}
	m.queued -= n
	queueDepth.Sub(float64(n))
}

// RecordBackendStart records the start of a backend call
func (m *Metrics) RecordBackendStart() {
	m.mu.Lock()
	m.backendStart = time.Now()
	m.mu.Unlock()
}

// RecordBackendEnd records the end of a backend call
func (m *Metrics) RecordBackendEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.backendStart.IsZero() {
		backendLatency.WithLabelValues(m.backend).Observe(time.Since(m.backendStart).Seconds())
	}

	status := "success"
	if !success {
		status = "error"
	}
	chunksTotal.WithLabelValues(status).Inc()
}

// RecordSegments records emitted segments
func (m *Metrics) RecordSegments(n int) {
	segmentsEmitted.Add(float64(n))
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// QueueDepth returns the session's current queued chunk count
func (m *Metrics) QueueDepth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queued
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
