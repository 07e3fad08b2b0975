// Package metrics holds the Prometheus collectors the helper loop and
// broadcast router update, adapted from the teacher's
// internal/infrastructure/monitoring metrics bundle for the IPC domain.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector the port manager updates.
type Metrics struct {
	WatchedPorts     prometheus.Gauge
	KeepAliveCount   prometheus.Gauge
	HelperState      prometheus.Gauge
	ReconfigureTotal prometheus.Counter
	DispatchTotal    *prometheus.CounterVec
	TeardownTotal    *prometheus.CounterVec
	BroadcastTotal   *prometheus.CounterVec
	AdmitTotal       prometheus.Counter

	Uptime    prometheus.Gauge
	startTime time.Time

	mu       sync.RWMutex
	snapshot Snapshot

	subsMu sync.Mutex
	subs   map[chan Event]struct{}
}

// Event is one change notification published by the Record* calls for
// subscribers like the admin API's /events WebSocket feed.
type Event struct {
	Kind   string         `json:"kind"`
	Fields map[string]any `json:"fields"`
}

// Subscribe registers a new listener and returns the channel it will
// receive events on along with a function to unregister it. The channel
// is buffered; a slow subscriber drops events rather than blocking
// Record* callers on the helper's own goroutine.
func (m *Metrics) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)
	m.subsMu.Lock()
	if m.subs == nil {
		m.subs = make(map[chan Event]struct{})
	}
	m.subs[ch] = struct{}{}
	m.subsMu.Unlock()

	cancel := func() {
		m.subsMu.Lock()
		delete(m.subs, ch)
		m.subsMu.Unlock()
		close(ch)
	}
	return ch, cancel
}

func (m *Metrics) publish(kind string, fields map[string]any) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for ch := range m.subs {
		select {
		case ch <- Event{Kind: kind, Fields: fields}:
		default:
		}
	}
}

// Snapshot holds the values RecordReconfigure last recorded, for cheap
// polling without scraping the registry. No admin route serves it, and
// HelperState is not set by any Record* call.
type Snapshot struct {
	WatchedPorts   int
	KeepAliveCount int
	HelperState    string
	Reconfigures   int64
}

// New creates and registers every collector with the default Prometheus
// registry.
func New() *Metrics {
	m := &Metrics{
		startTime: time.Now(),

		WatchedPorts: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "shim_ipc_watched_ports",
			Help: "Number of ports currently polled by the helper loop",
		}),
		KeepAliveCount: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "shim_ipc_keepalive_count",
			Help: "Number of watched ports carrying the keepalive role",
		}),
		HelperState: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "shim_ipc_helper_state",
			Help: "Current helper state as a small integer (see helper.State)",
		}),
		ReconfigureTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "shim_ipc_reconfigure_total",
			Help: "Total number of times the helper rebuilt its watch set",
		}),
		DispatchTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "shim_ipc_dispatch_total",
			Help: "Total number of messages dispatched, by outcome",
		}, []string{"outcome"}),
		TeardownTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "shim_ipc_teardown_total",
			Help: "Total number of ports torn down, by reason",
		}, []string{"reason"}),
		BroadcastTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "shim_ipc_broadcast_total",
			Help: "Total number of broadcast sends, by outcome",
		}, []string{"outcome"}),
		AdmitTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "shim_ipc_admit_total",
			Help: "Total number of ports admitted to the registry",
		}),
		Uptime: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "shim_ipc_uptime_seconds",
			Help: "Seconds since the port manager started",
		}),
	}

	go m.updateUptime()
	return m
}

func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for range ticker.C {
		m.Uptime.Set(time.Since(m.startTime).Seconds())
	}
}

// RecordReconfigure updates the watched-set/keepalive gauges and bumps
// the reconfigure counter, matching what the helper does on every
// rebuild of its watch set.
func (m *Metrics) RecordReconfigure(watched, keepAlive int, state int32) {
	m.WatchedPorts.Set(float64(watched))
	m.KeepAliveCount.Set(float64(keepAlive))
	m.HelperState.Set(float64(state))
	m.ReconfigureTotal.Inc()

	m.mu.Lock()
	m.snapshot.WatchedPorts = watched
	m.snapshot.KeepAliveCount = keepAlive
	m.snapshot.Reconfigures++
	m.mu.Unlock()

	m.publish("reconfigure", map[string]any{"watched": watched, "keepalive": keepAlive, "state": state})
}

// RecordDispatch increments the dispatch counter for outcome ("ok" or
// "error"; a message with no registered callback counts as "ok").
func (m *Metrics) RecordDispatch(outcome string) {
	m.DispatchTotal.WithLabelValues(outcome).Inc()
	m.publish("dispatch", map[string]any{"outcome": outcome})
}

// RecordTeardown increments the teardown counter for reason
// ("disconnected", "accept_failed", "query_failed").
func (m *Metrics) RecordTeardown(reason string) {
	m.TeardownTotal.WithLabelValues(reason).Inc()
	m.publish("teardown", map[string]any{"reason": reason})
}

// RecordBroadcast increments the broadcast counter for outcome ("sent",
// "error", "excluded").
func (m *Metrics) RecordBroadcast(outcome string) {
	m.BroadcastTotal.WithLabelValues(outcome).Inc()
	m.publish("broadcast", map[string]any{"outcome": outcome})
}

// RecordAdmit increments the admit counter.
func (m *Metrics) RecordAdmit() { m.AdmitTotal.Inc() }

// Snapshot returns the current point-in-time values for the
// administrative JSON API.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}
