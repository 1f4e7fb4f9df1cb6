// Package metrics tracks coordinator runtime statistics and exposes them in
// Prometheus format.
package metrics

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "screenshare"

// Metrics tracks runtime statistics.
// All counters use atomic operations for lock-free concurrent access.
type Metrics struct {
	startTime time.Time

	// Routing-layer connections
	TotalConnections  atomic.Int64 // lifetime user connections accepted
	ActiveConnections atomic.Int64 // current user connections
	RejectedHellos    atomic.Int64 // connections dropped before a valid hello
	ReplacedConns     atomic.Int64 // connections superseded by a newer one for the same user
	TotalDisconnects  atomic.Int64

	// Plugin messages
	MessagesOut       atomic.Int64
	MessagesIn        atomic.Int64
	BytesOut          atomic.Int64
	BytesIn           atomic.Int64
	SendFailures      atomic.Int64 // sends to users without a transport
	MalformedMessages atomic.Int64

	// Location lookups
	LookupsIssued    atomic.Int64
	LookupsResolved  atomic.Int64
	LookupsTimedOut  atomic.Int64
	LookupsCancelled atomic.Int64
	LookupsBusy      atomic.Int64 // rejected because one was already pending
	StrayReplies     atomic.Int64

	// Sessions
	SessionsStarted  atomic.Int64
	SessionsEnded    atomic.Int64
	SessionsDropped  atomic.Int64 // torn down by disconnect
	RequestsRejected atomic.Int64
	EndWarnings      atomic.Int64

	// Console commands
	CommandsDispatched atomic.Int64
	CommandsSkipped    atomic.Int64 // user offline at dispatch time

	// Admin API
	APIRequests atomic.Int64
	APIDenied   atomic.Int64

	mu       sync.RWMutex
	sessions func() int
	pending  func() int

	registry *prometheus.Registry
}

// New creates a Metrics instance with the start time set to now.
func New() *Metrics {
	m := &Metrics{startTime: time.Now()}
	m.registry = prometheus.NewRegistry()
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m.registry.MustRegister(m.collectors()...)
	return m
}

// Observe installs the callbacks reporting live registry sizes. Either may be nil.
func (m *Metrics) Observe(sessions, pending func() int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = sessions
	m.pending = pending
}

func (m *Metrics) activeSessions() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.sessions == nil {
		return 0
	}
	return int64(m.sessions())
}

func (m *Metrics) pendingLookups() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.pending == nil {
		return 0
	}
	return int64(m.pending())
}

func (m *Metrics) collectors() []prometheus.Collector {
	counter := func(name, help string, v *atomic.Int64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Name: name, Help: help,
		}, func() float64 { return float64(v.Load()) })
	}
	gauge := func(name, help string, f func() int64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Name: name, Help: help,
		}, func() float64 { return float64(f()) })
	}
	return []prometheus.Collector{
		gauge("uptime_seconds", "Process uptime in seconds.", func() int64 { return int64(time.Since(m.startTime).Seconds()) }),
		gauge("connections_active", "Current routing-layer user connections.", m.ActiveConnections.Load),
		gauge("sessions_active", "Users currently relocated to the target endpoint.", m.activeSessions),
		gauge("lookups_pending", "Location lookups awaiting a reply.", m.pendingLookups),

		counter("connections_total", "Lifetime user connections accepted.", &m.TotalConnections),
		counter("hello_rejected_total", "Connections dropped before a valid hello.", &m.RejectedHellos),
		counter("connections_replaced_total", "Connections superseded by a newer one for the same user.", &m.ReplacedConns),
		counter("disconnects_total", "User disconnects.", &m.TotalDisconnects),

		counter("messages_out_total", "Plugin messages sent to the routing layer.", &m.MessagesOut),
		counter("messages_in_total", "Plugin messages received from the routing layer.", &m.MessagesIn),
		counter("message_bytes_out_total", "Plugin message payload bytes sent.", &m.BytesOut),
		counter("message_bytes_in_total", "Plugin message payload bytes received.", &m.BytesIn),
		counter("send_failures_total", "Sends dropped because the user had no transport.", &m.SendFailures),
		counter("malformed_messages_total", "Inbound plugin messages that failed to decode.", &m.MalformedMessages),

		counter("lookups_issued_total", "Location queries sent.", &m.LookupsIssued),
		counter("lookups_resolved_total", "Location queries answered.", &m.LookupsResolved),
		counter("lookups_timed_out_total", "Location queries that hit their deadline.", &m.LookupsTimedOut),
		counter("lookups_cancelled_total", "Location queries cancelled by disconnect, context or shutdown.", &m.LookupsCancelled),
		counter("lookups_busy_total", "Location queries refused because one was pending.", &m.LookupsBusy),
		counter("stray_replies_total", "Location replies with no matching query.", &m.StrayReplies),

		counter("sessions_started_total", "Sessions started.", &m.SessionsStarted),
		counter("sessions_ended_total", "Sessions ended by an operator.", &m.SessionsEnded),
		counter("sessions_dropped_total", "Sessions torn down by a disconnect.", &m.SessionsDropped),
		counter("requests_rejected_total", "Start and end requests rejected.", &m.RequestsRejected),
		counter("end_warnings_total", "Ends that proceeded despite a location mismatch.", &m.EndWarnings),

		counter("commands_dispatched_total", "Console commands dispatched.", &m.CommandsDispatched),
		counter("commands_skipped_total", "Console commands skipped because the user went offline.", &m.CommandsSkipped),

		counter("api_requests_total", "Admin API requests.", &m.APIRequests),
		counter("api_denied_total", "Admin API requests denied.", &m.APIDenied),
	}
}

// Handler serves the registry in Prometheus text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Snapshot is a point-in-time view of the headline metrics.
type Snapshot struct {
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Started       string `json:"started"`

	ActiveConnections int64 `json:"active_connections"`
	TotalConnections  int64 `json:"total_connections"`
	ActiveSessions    int64 `json:"active_sessions"`
	PendingLookups    int64 `json:"pending_lookups"`

	SessionsStarted  int64 `json:"sessions_started"`
	SessionsEnded    int64 `json:"sessions_ended"`
	SessionsDropped  int64 `json:"sessions_dropped"`
	RequestsRejected int64 `json:"requests_rejected"`

	LookupsIssued   int64 `json:"lookups_issued"`
	LookupsTimedOut int64 `json:"lookups_timed_out"`

	MessagesOut       int64 `json:"messages_out"`
	MessagesIn        int64 `json:"messages_in"`
	BytesOut          int64 `json:"bytes_out"`
	BytesIn           int64 `json:"bytes_in"`
	MalformedMessages int64 `json:"malformed_messages"`
}

// Snapshot returns a read-consistent snapshot of the headline metrics.
func (m *Metrics) Snapshot() Snapshot {
	uptime := time.Since(m.startTime)
	return Snapshot{
		Uptime:            uptime.Truncate(time.Second).String(),
		UptimeSeconds:     int64(uptime.Seconds()),
		Started:           humanize.Time(m.startTime),
		ActiveConnections: m.ActiveConnections.Load(),
		TotalConnections:  m.TotalConnections.Load(),
		ActiveSessions:    m.activeSessions(),
		PendingLookups:    m.pendingLookups(),
		SessionsStarted:   m.SessionsStarted.Load(),
		SessionsEnded:     m.SessionsEnded.Load(),
		SessionsDropped:   m.SessionsDropped.Load(),
		RequestsRejected:  m.RequestsRejected.Load(),
		LookupsIssued:     m.LookupsIssued.Load(),
		LookupsTimedOut:   m.LookupsTimedOut.Load(),
		MessagesOut:       m.MessagesOut.Load(),
		MessagesIn:        m.MessagesIn.Load(),
		BytesOut:          m.BytesOut.Load(),
		BytesIn:           m.BytesIn.Load(),
		MalformedMessages: m.MalformedMessages.Load(),
	}
}

// JSON returns the metrics snapshot as a JSON string.
func (m *Metrics) JSON() string {
	data, err := json.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// LogSummary writes a metrics summary to the default logger.
func (m *Metrics) LogSummary() {
	s := m.Snapshot()
	slog.Info("metrics",
		"uptime", s.Uptime,
		"started", s.Started,
		"connections", s.ActiveConnections,
		"sessions", s.ActiveSessions,
		"pending_lookups", s.PendingLookups,
		"sessions_started", s.SessionsStarted,
		"lookups_timed_out", s.LookupsTimedOut,
		"traffic_out", humanize.Bytes(uint64(max(s.BytesOut, 0))),
		"traffic_in", humanize.Bytes(uint64(max(s.BytesIn, 0))),
	)
}

// StartPeriodicLog starts a goroutine that logs metrics every interval.
// It stops when the done channel is closed.
func (m *Metrics) StartPeriodicLog(interval time.Duration, done <-chan struct{}) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.LogSummary()
			}
		}
	}()
}
