package service

import (
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/consultease/central/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation for the HTTP
// surface, the cache, and broker message delivery. It implements the
// delivery-metrics hook of the broker connection manager.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter

	messagesPublished *prometheus.CounterVec
	messagesAcked     prometheus.Counter
	messagesDropped   prometheus.Counter
	messagesQueued    prometheus.Counter
	presenceUpdates   prometheus.Counter
	transitions       *prometheus.CounterVec

	cacheHitCount        uint64
	cacheMissCount       uint64
	requestCount         uint64
	requestDurationTotal uint64
	publishedCount       uint64
	ackedCount           uint64
	droppedCount         uint64
	queuedCount          uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	messagesPublished := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mqtt_messages_published_total",
		Help: "Messages published to the broker, by topic class",
	}, []string{"topic_class"})

	messagesAcked := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mqtt_messages_acked_total",
		Help: "Tracked deliveries acknowledged by devices",
	})

	messagesDropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mqtt_messages_dropped_total",
		Help: "Tracked deliveries dropped after retry exhaustion",
	})

	messagesQueued := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mqtt_messages_queued_total",
		Help: "Messages queued while the broker was unreachable",
	})

	presenceUpdates := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "presence_updates_total",
		Help: "Presence payloads applied to faculty availability",
	})

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "consultation_transitions_total",
		Help: "Committed consultation lifecycle changes, by resulting status",
	}, []string{"status"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheHits, cacheMisses,
		messagesPublished, messagesAcked, messagesDropped, messagesQueued, presenceUpdates, transitions, goroutines)

	return &MetricsService{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:   requestDuration,
		requestTotal:      requestTotal,
		cacheLatency:      cacheLatency,
		cacheHits:         cacheHits,
		cacheMisses:       cacheMisses,
		messagesPublished: messagesPublished,
		messagesAcked:     messagesAcked,
		messagesDropped:   messagesDropped,
		messagesQueued:    messagesQueued,
		presenceUpdates:   presenceUpdates,
		transitions:       transitions,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordCacheOperation records cache hit/miss metrics.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
}

// MessagePublished counts one outbound broker message.
func (m *MetricsService) MessagePublished(topic string) {
	if m == nil {
		return
	}
	m.messagesPublished.WithLabelValues(topicClass(topic)).Inc()
	atomic.AddUint64(&m.publishedCount, 1)
}

// MessageAcked counts a device acknowledgment.
func (m *MetricsService) MessageAcked() {
	if m == nil {
		return
	}
	m.messagesAcked.Inc()
	atomic.AddUint64(&m.ackedCount, 1)
}

// MessageDropped counts a delivery abandoned after retry exhaustion.
func (m *MetricsService) MessageDropped() {
	if m == nil {
		return
	}
	m.messagesDropped.Inc()
	atomic.AddUint64(&m.droppedCount, 1)
}

// MessageQueued counts a message parked while the broker was unreachable.
func (m *MetricsService) MessageQueued() {
	if m == nil {
		return
	}
	m.messagesQueued.Inc()
	atomic.AddUint64(&m.queuedCount, 1)
}

// RecordPresenceUpdate counts an applied presence payload.
func (m *MetricsService) RecordPresenceUpdate() {
	if m == nil {
		return
	}
	m.presenceUpdates.Inc()
}

// RecordTransition counts a committed lifecycle change.
func (m *MetricsService) RecordTransition(status models.ConsultationStatus) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(status)).Inc()
}

// Snapshot returns aggregated metrics for the operations endpoint.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)

	var cacheRatio float64
	if total := hits + misses; total > 0 {
		cacheRatio = float64(hits) / float64(total)
	}
	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	return models.SystemMetrics{
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		CacheHitRatio:            cacheRatio,
		MessagesPublished:        atomic.LoadUint64(&m.publishedCount),
		MessagesAcked:            atomic.LoadUint64(&m.ackedCount),
		MessagesDropped:          atomic.LoadUint64(&m.droppedCount),
		MessagesQueued:           atomic.LoadUint64(&m.queuedCount),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}

// topicClass collapses per-entity topics into a bounded label set.
func topicClass(topic string) string {
	parts := strings.Split(topic, "/")
	switch {
	case len(parts) >= 3 && parts[1] == "faculty":
		return "faculty/" + parts[len(parts)-1]
	case len(parts) >= 3 && parts[1] == "student":
		return "student/" + parts[len(parts)-1]
	case len(parts) >= 2 && parts[1] == "system":
		return "system"
	case parts[0] == "professor":
		return "legacy"
	default:
		return "other"
	}
}
