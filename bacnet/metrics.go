package bacnet

import (
	"sync/atomic"
	"time"
)

// Counter is a thread-safe counter
type Counter struct {
	v atomic.Int64
}

// Inc increments the counter by 1
func (c *Counter) Inc() { c.v.Add(1) }

// Add adds a delta to the counter
func (c *Counter) Add(delta int64) { c.v.Add(delta) }

// Value returns the current counter value
func (c *Counter) Value() int64 { return c.v.Load() }

// Gauge is a thread-safe gauge that can go up and down
type Gauge struct {
	v atomic.Int64
}

// Inc increments the gauge by 1
func (g *Gauge) Inc() { g.v.Add(1) }

// Dec decrements the gauge by 1
func (g *Gauge) Dec() { g.v.Add(-1) }

// Value returns the current gauge value
func (g *Gauge) Value() int64 { return g.v.Load() }

// Latency accumulates request round trip times
type Latency struct {
	count atomic.Int64
	sum   atomic.Int64
}

// Record records a latency measurement
func (l *Latency) Record(d time.Duration) {
	l.count.Add(1)
	l.sum.Add(int64(d))
}

// Metrics holds client counters. They are read by the gateway's
// Prometheus collector through Snapshot.
type Metrics struct {
	RequestsSent      Counter
	RequestsSucceeded Counter
	RequestsFailed    Counter
	RequestsTimedOut  Counter
	Retries           Counter

	ErrorsReceived  Counter
	RejectsReceived Counter
	AbortsReceived  Counter

	WhoIsSent   Counter
	IAmReceived Counter

	SegmentsReceived Counter

	BytesSent     Counter
	BytesReceived Counter

	ActiveRequests Gauge
	RequestLatency Latency

	startTime    time.Time
	lastActivity atomic.Int64
}

// NewMetrics creates a new Metrics instance
func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// RecordActivity records the last activity time
func (m *Metrics) RecordActivity() {
	m.lastActivity.Store(time.Now().UnixNano())
}

// LastActivity returns the last time a datagram was received
func (m *Metrics) LastActivity() time.Time {
	ns := m.lastActivity.Load()
	if ns == 0 {
		return m.startTime
	}
	return time.Unix(0, ns)
}

// Snapshot returns a snapshot of current metrics
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Uptime: time.Since(m.startTime),

		RequestsSent:      m.RequestsSent.Value(),
		RequestsSucceeded: m.RequestsSucceeded.Value(),
		RequestsFailed:    m.RequestsFailed.Value(),
		RequestsTimedOut:  m.RequestsTimedOut.Value(),
		Retries:           m.Retries.Value(),

		ErrorsReceived:  m.ErrorsReceived.Value(),
		RejectsReceived: m.RejectsReceived.Value(),
		AbortsReceived:  m.AbortsReceived.Value(),

		WhoIsSent:        m.WhoIsSent.Value(),
		IAmReceived:      m.IAmReceived.Value(),
		SegmentsReceived: m.SegmentsReceived.Value(),

		BytesSent:     m.BytesSent.Value(),
		BytesReceived: m.BytesReceived.Value(),

		ActiveRequests: m.ActiveRequests.Value(),
		LatencyCount:   m.RequestLatency.count.Load(),
		LatencySum:     time.Duration(m.RequestLatency.sum.Load()),

		LastActivity: m.LastActivity(),
	}
}

// MetricsSnapshot is a point-in-time snapshot of metrics
type MetricsSnapshot struct {
	Uptime time.Duration

	RequestsSent      int64
	RequestsSucceeded int64
	RequestsFailed    int64
	RequestsTimedOut  int64
	Retries           int64

	ErrorsReceived  int64
	RejectsReceived int64
	AbortsReceived  int64

	WhoIsSent        int64
	IAmReceived      int64
	SegmentsReceived int64

	BytesSent     int64
	BytesReceived int64

	ActiveRequests int64
	LatencyCount   int64
	LatencySum     time.Duration

	LastActivity time.Time
}
