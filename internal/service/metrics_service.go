package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsSnapshot aggregates counters for the operational status endpoint.
type MetricsSnapshot struct {
	RequestsTotal            uint64    `json:"requestsTotal"`
	AverageRequestDurationMs float64   `json:"averageRequestDurationMs"`
	UploadsCompleted         uint64    `json:"uploadsCompleted"`
	UploadsFailed            uint64    `json:"uploadsFailed"`
	UploadBytesTotal         uint64    `json:"uploadBytesTotal"`
	CacheHitRatio            float64   `json:"cacheHitRatio"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generatedAt"`
}

// MetricsService encapsulates Prometheus instrumentation plus lightweight
// snapshots for API consumption.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	uploadOutcomes  *prometheus.CounterVec
	uploadBytes     prometheus.Counter
	uploadDuration  prometheus.Observer
	sessionsActive  prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter

	requestCount         uint64
	requestDurationTotal uint64
	uploadsCompleted     uint64
	uploadsFailed        uint64
	uploadBytesTotal     uint64
	cacheHitCount        uint64
	cacheMissCount       uint64
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

	uploadOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "upload_transfers_total",
		Help: "Completed and failed file transfers",
	}, []string{"outcome"})

	uploadBytes := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "upload_bytes_total",
		Help: "Total bytes transferred to object storage",
	})

	uploadDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "upload_transfer_duration_seconds",
		Help:    "Duration of individual file transfers",
		Buckets: prometheus.DefBuckets,
	})

	sessionsActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "upload_sessions_active",
		Help: "Upload sessions currently registered",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, uploadOutcomes, uploadBytes, uploadDuration, sessionsActive, cacheHits, cacheMisses, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		uploadOutcomes:  uploadOutcomes,
		uploadBytes:     uploadBytes,
		uploadDuration:  uploadDuration,
		sessionsActive:  sessionsActive,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
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

// ObserveHTTPRequest records request metrics and aggregates simple stats.
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

// ObserveTransfer records one finished file transfer.
func (m *MetricsService) ObserveTransfer(succeeded bool, bytes int64, duration time.Duration) {
	if m == nil {
		return
	}
	if succeeded {
		m.uploadOutcomes.WithLabelValues("completed").Inc()
		atomic.AddUint64(&m.uploadsCompleted, 1)
		if bytes > 0 {
			m.uploadBytes.Add(float64(bytes))
			atomic.AddUint64(&m.uploadBytesTotal, uint64(bytes))
		}
	} else {
		m.uploadOutcomes.WithLabelValues("failed").Inc()
		atomic.AddUint64(&m.uploadsFailed, 1)
	}
	m.uploadDuration.Observe(duration.Seconds())
}

// SetActiveSessions tracks the registry size.
func (m *MetricsService) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.sessionsActive.Set(float64(n))
}

// RecordCacheOperation records cache hit/miss counters.
func (m *MetricsService) RecordCacheOperation(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
}

// Snapshot returns aggregated metrics for the status endpoint.
func (m *MetricsService) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}
	var cacheRatio float64
	if hits+misses > 0 {
		cacheRatio = float64(hits) / float64(hits+misses)
	}

	return MetricsSnapshot{
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		UploadsCompleted:         atomic.LoadUint64(&m.uploadsCompleted),
		UploadsFailed:            atomic.LoadUint64(&m.uploadsFailed),
		UploadBytesTotal:         atomic.LoadUint64(&m.uploadBytesTotal),
		CacheHitRatio:            cacheRatio,
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
