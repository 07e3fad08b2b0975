// Package apimetrics holds the Prometheus collectors for the admin HTTP
// and WebSocket surface, adapted from the teacher's
// internal/infrastructure/monitoring package and trimmed to the surface
// internal/api actually exposes: request accounting and live event-feed
// connection counts. Port/helper/broadcast domain metrics live separately
// in internal/metrics; nothing here is populated from them.
package apimetrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the admin API's own Prometheus collectors.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	mu       sync.RWMutex
	snapshot Snapshot
}

// Snapshot holds the request and error totals Middleware counts. No admin
// route serves it.
type Snapshot struct {
	TotalRequests int64
	TotalErrors   int64
}

// New registers the admin API's collectors with the default registry.
func New() *Metrics {
	return &Metrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shim_admin_http_requests_total",
				Help: "Total number of admin API HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shim_admin_http_request_duration_seconds",
				Help:    "Admin API HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"method", "path"},
		),
		RequestSize: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shim_admin_http_request_size_bytes",
				Help:    "Admin API HTTP request size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000},
			},
			[]string{"method", "path"},
		),
		ResponseSize: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shim_admin_http_response_size_bytes",
				Help:    "Admin API HTTP response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000},
			},
			[]string{"method", "path"},
		),
		WSConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "shim_admin_ws_connections",
				Help: "Number of open /events WebSocket connections",
			},
		),
		WSMessages: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shim_admin_ws_messages_total",
				Help: "Total number of /events WebSocket messages",
			},
			[]string{"direction", "type"},
		),
	}
}

// Middleware records per-request HTTP metrics, adapted from the teacher's
// monitoring.Middleware.
func Middleware(m *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		method := c.Request.Method

		reqSize := c.Request.ContentLength
		if reqSize < 0 {
			reqSize = 0
		}

		c.Next()

		duration := time.Since(start)
		status := strconv.Itoa(c.Writer.Status())
		respSize := int64(c.Writer.Size())

		m.RequestsTotal.WithLabelValues(method, path, status).Inc()
		m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
		m.RequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
		m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

		m.mu.Lock()
		m.snapshot.TotalRequests++
		if len(status) > 0 && (status[0] == '4' || status[0] == '5') {
			m.snapshot.TotalErrors++
		}
		m.mu.Unlock()
	}
}

// IncWSConnections increments the open WebSocket connection count.
func (m *Metrics) IncWSConnections() { m.WSConnections.Inc() }

// DecWSConnections decrements the open WebSocket connection count.
func (m *Metrics) DecWSConnections() { m.WSConnections.Dec() }

// RecordWSMessage records one WebSocket message in or out.
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// Snapshot returns a copy of the admin API's current request counters.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}
