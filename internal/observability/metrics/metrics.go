// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "lecture_transcriber"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Session metrics
	SessionsTotal    prometheus.Counter
	SessionsActive   prometheus.Gauge
	SessionsReaped   prometheus.Counter
	SessionDuration  prometheus.Histogram
	SubscriberDrops  prometheus.Counter
	FinalizeFailures prometheus.Counter

	// Chunk metrics
	ChunksTotal        *prometheus.CounterVec
	ChunksSuppressed   *prometheus.CounterVec
	AudioBytesReceived prometheus.Counter
	ChunkLatency       prometheus.Histogram

	// Stage metrics
	VADDecisions     *prometheus.CounterVec
	PreprocessFailed *prometheus.CounterVec
	Hallucinations   *prometheus.CounterVec
	ConfidenceScore  prometheus.Histogram

	// Inference metrics
	InferenceLatency *prometheus.HistogramVec
	InferenceErrors  *prometheus.CounterVec
	Fallbacks        *prometheus.CounterVec
	ModelLoads       *prometheus.CounterVec

	// Batch metrics
	BatchQueueDepth prometheus.Gauge
	BatchSize       prometheus.Histogram
	BatchBypassed   prometheus.Counter
	BatchRejected   prometheus.Counter
	BatchTimeouts   prometheus.Counter

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// gRPC metrics
	GRPCRequests *prometheus.CounterVec

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		// Session metrics
		SessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of transcription sessions started",
		}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of sessions currently registered",
		}),
		SessionsReaped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_reaped_total",
			Help:      "Total number of sessions closed for inactivity",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_audio_duration_seconds",
			Help:      "Audio duration of finalized sessions in seconds",
			Buckets:   []float64{10, 30, 60, 300, 600, 1800, 3600, 7200},
		}),
		SubscriberDrops: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriber_drops_total",
			Help:      "Results not delivered to a slow subscriber",
		}),
		FinalizeFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "finalize_failures_total",
			Help:      "Sessions whose final transcription pass failed",
		}),

		// Chunk metrics
		ChunksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_total",
			Help:      "Total number of chunks processed",
		}, []string{"status"}),
		ChunksSuppressed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_suppressed_total",
			Help:      "Chunks that produced no published transcript",
		}, []string{"reason"}),
		AudioBytesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_received_total",
			Help:      "Total audio bytes received",
		}),
		ChunkLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chunk_latency_seconds",
			Help:      "End-to-end chunk processing latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),

		// Stage metrics
		VADDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vad_decisions_total",
			Help:      "Voice activity gate decisions",
		}, []string{"result"}),
		PreprocessFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "preprocess_stage_failures_total",
			Help:      "Preprocessing stages that failed and passed audio through",
		}, []string{"stage"}),
		Hallucinations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hallucinations_total",
			Help:      "Transcripts flagged as hallucinations",
		}, []string{"category"}),
		ConfidenceScore: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "confidence_score",
			Help:      "Overall confidence of emitted transcripts",
			Buckets:   []float64{0.1, 0.3, 0.5, 0.7, 0.9, 1},
		}),

		// Inference metrics
		InferenceLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_latency_seconds",
			Help:      "Backend inference latency in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"backend", "mode"}),
		InferenceErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inference_errors_total",
			Help:      "Total number of backend inference errors",
		}, []string{"backend", "kind"}),
		Fallbacks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Total number of fallbacks to the secondary backend",
		}, []string{"reason"}),
		ModelLoads: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_loads_total",
			Help:      "Local model load attempts",
		}, []string{"result"}),

		// Batch metrics
		BatchQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batch_queue_depth",
			Help:      "Items waiting in the batch queue",
		}),
		BatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Number of items per dispatched batch group",
			Buckets:   []float64{1, 2, 3, 4, 6, 8, 16},
		}),
		BatchBypassed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_bypassed_total",
			Help:      "High priority items processed outside a full queue",
		}),
		BatchRejected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_rejected_total",
			Help:      "Low priority items rejected by a full queue",
		}),
		BatchTimeouts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_timeouts_total",
			Help:      "Items whose per-item deadline expired",
		}),

		// Kafka publish metrics
		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		// gRPC metrics
		GRPCRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_requests_total",
			Help:      "gRPC calls handled, by method and code",
		}, []string{"method", "code"}),

		// HTTP metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by route pattern and status code",
		}, []string{"route", "code"}),
	}
}

// RecordSessionStart records a new session.
func (m *Metrics) RecordSessionStart() {
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a session leaving the registry.
func (m *Metrics) RecordSessionEnd(reaped bool) {
	m.SessionsActive.Dec()
	if reaped {
		m.SessionsReaped.Inc()
	}
}

// RecordSubscriberDrops counts updates dropped for slow subscribers.
func (m *Metrics) RecordSubscriberDrops(n int) {
	if n > 0 {
		m.SubscriberDrops.Add(float64(n))
	}
}

// RecordFinalized records a finished final pass.
func (m *Metrics) RecordFinalized(audioSeconds float64, failed bool) {
	m.SessionDuration.Observe(audioSeconds)
	if failed {
		m.FinalizeFailures.Inc()
	}
}

// RecordChunk records a processed chunk.
func (m *Metrics) RecordChunk(status string, bytes int, latencySeconds float64) {
	m.ChunksTotal.WithLabelValues(status).Inc()
	m.AudioBytesReceived.Add(float64(bytes))
	m.ChunkLatency.Observe(latencySeconds)
}

// RecordSuppressed records a chunk that produced nothing to publish.
func (m *Metrics) RecordSuppressed(reason string) {
	m.ChunksSuppressed.WithLabelValues(reason).Inc()
}

// RecordVAD records a gate decision.
func (m *Metrics) RecordVAD(result string) {
	m.VADDecisions.WithLabelValues(result).Inc()
}

// RecordPreprocessFailure records a stage that fell back to passthrough.
func (m *Metrics) RecordPreprocessFailure(stage string) {
	m.PreprocessFailed.WithLabelValues(stage).Inc()
}

// RecordHallucination records each category of a flagged transcript.
func (m *Metrics) RecordHallucination(categories []string) {
	for _, c := range categories {
		m.Hallucinations.WithLabelValues(c).Inc()
	}
}

// RecordConfidence records the overall confidence of a transcript.
func (m *Metrics) RecordConfidence(score float64) {
	m.ConfidenceScore.Observe(score)
}

// RecordInference records a backend call.
func (m *Metrics) RecordInference(backend, mode string, latencySeconds float64) {
	m.InferenceLatency.WithLabelValues(backend, mode).Observe(latencySeconds)
}

// RecordInferenceError records a failed backend call.
func (m *Metrics) RecordInferenceError(backend, kind string) {
	m.InferenceErrors.WithLabelValues(backend, kind).Inc()
}

// RecordFallback records a switch to the secondary backend.
func (m *Metrics) RecordFallback(reason string) {
	m.Fallbacks.WithLabelValues(reason).Inc()
}

// RecordModelLoad records a local model load attempt.
func (m *Metrics) RecordModelLoad(err error) {
	if err != nil {
		m.ModelLoads.WithLabelValues("error").Inc()
		return
	}
	m.ModelLoads.WithLabelValues("ok").Inc()
}

// RecordBatch records a dispatched batch group.
func (m *Metrics) RecordBatch(size int) {
	m.BatchSize.Observe(float64(size))
}

// SetQueueDepth sets the current batch queue depth.
func (m *Metrics) SetQueueDepth(depth int) {
	m.BatchQueueDepth.Set(float64(depth))
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordGRPC records a handled gRPC call.
func (m *Metrics) RecordGRPC(method, code string) {
	m.GRPCRequests.WithLabelValues(method, code).Inc()
}

// RecordHTTP records a handled HTTP request.
func (m *Metrics) RecordHTTP(route string, code int) {
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}
