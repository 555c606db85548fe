package docserver

import (
	"sync/atomic"
	"time"
)

// Metrics collects in-memory server metrics using atomic counters.
type Metrics struct {
	startTime     time.Time
	requests      atomic.Int64
	serverErrors  atomic.Int64
	clientErrors  atomic.Int64
	writes        atomic.Int64
	notModified   atomic.Int64
	subscribers   atomic.Int64
	framesSent    atomic.Int64
	framesDropped atomic.Int64
}

// MetricsSnapshot is a point-in-time view of server metrics.
type MetricsSnapshot struct {
	UptimeSeconds float64 `json:"uptime_seconds"`
	Requests      int64   `json:"requests"`
	ServerErrors  int64   `json:"server_errors"`
	ClientErrors  int64   `json:"client_errors"`
	Writes        int64   `json:"writes"`
	NotModified   int64   `json:"not_modified"`
	Subscribers   int64   `json:"subscribers"`
	FramesSent    int64   `json:"frames_sent"`
	FramesDropped int64   `json:"frames_dropped"`
}

// NewMetrics creates a new Metrics instance with the current time as start.
func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

func (m *Metrics) RecordRequest()     { m.requests.Add(1) }
func (m *Metrics) RecordError()       { m.serverErrors.Add(1) }
func (m *Metrics) RecordClientError() { m.clientErrors.Add(1) }
func (m *Metrics) RecordWrite()       { m.writes.Add(1) }
func (m *Metrics) RecordNotModified() { m.notModified.Add(1) }
func (m *Metrics) RecordFrameSent()   { m.framesSent.Add(1) }

// RecordFrameDropped counts a snapshot replaced before a slow subscriber read it.
func (m *Metrics) RecordFrameDropped() { m.framesDropped.Add(1) }

// AddSubscribers adjusts the open subscription gauge.
func (m *Metrics) AddSubscribers(n int64) { m.subscribers.Add(n) }

// Snapshot returns a point-in-time copy of the metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		UptimeSeconds: time.Since(m.startTime).Seconds(),
		Requests:      m.requests.Load(),
		ServerErrors:  m.serverErrors.Load(),
		ClientErrors:  m.clientErrors.Load(),
		Writes:        m.writes.Load(),
		NotModified:   m.notModified.Load(),
		Subscribers:   m.subscribers.Load(),
		FramesSent:    m.framesSent.Load(),
		FramesDropped: m.framesDropped.Load(),
	}
}
