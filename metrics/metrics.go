// Package metrics exports gateway counters to prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/edgeo/drivers/bacnetgw/bacnet"
)

const namespace = "bacnetgw"

// Read modes
const (
	ModeMultiple = "rpm"
	ModeSingle   = "single"
)

// Status values
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Metrics holds the engine level collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	DevicesFound    prometheus.Counter
	Devices         prometheus.Gauge
	PollCycles      prometheus.Counter
	PollDuration    prometheus.Histogram
	Reads           *prometheus.CounterVec
	Errors          *prometheus.CounterVec
	CacheWrites     prometheus.Counter
	PersistInterval prometheus.Gauge
}

// New creates the collectors and registers them on reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DevicesFound: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "devices_found_total",
			Help:      "The total number of I-Am answers accepted",
		}),
		Devices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "devices",
			Help:      "The number of devices in the registry",
		}),
		PollCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_cycles_total",
			Help:      "The total number of completed poll cycles",
		}),
		PollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Duration of a full poll cycle",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		Reads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reads_total",
			Help:      "The total number of read requests by mode and status",
		}, []string{"mode", "status"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "The total number of reported errors by kind",
		}, []string{"kind"}),
		CacheWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_writes_total",
			Help:      "The total number of network tree cache writes",
		}),
		PersistInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "persist_interval_seconds",
			Help:      "Current adaptive interval of the tree build timer",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.DevicesFound, m.Devices, m.PollCycles, m.PollDuration,
			m.Reads, m.Errors, m.CacheWrites, m.PersistInterval,
		)
	}
	return m
}

// DeviceFound counts an accepted I-Am and updates the device gauge
func (m *Metrics) DeviceFound(total int) {
	if m == nil {
		return
	}
	m.DevicesFound.Inc()
	m.Devices.Set(float64(total))
}

// SetDevices sets the device gauge
func (m *Metrics) SetDevices(total int) {
	if m == nil {
		return
	}
	m.Devices.Set(float64(total))
}

// PollDone records a completed poll cycle
func (m *Metrics) PollDone(d time.Duration) {
	if m == nil {
		return
	}
	m.PollCycles.Inc()
	m.PollDuration.Observe(d.Seconds())
}

// Read counts one read request
func (m *Metrics) Read(mode string, err error) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusFailed
	}
	m.Reads.WithLabelValues(mode, status).Inc()
}

// Error counts a reported error
func (m *Metrics) Error(kind string) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(kind).Inc()
}

// Persisted records a cache write
func (m *Metrics) Persisted() {
	if m == nil {
		return
	}
	m.CacheWrites.Inc()
}

// SetPersistInterval publishes the adaptive tree timer period
func (m *Metrics) SetPersistInterval(d time.Duration) {
	if m == nil {
		return
	}
	m.PersistInterval.Set(d.Seconds())
}

// ClientCollector exposes the in-process counters of the BACnet client.
// The source is looked up on every scrape since the engine replaces the
// client on reinitialisation.
type ClientCollector struct {
	source func() *bacnet.Metrics

	requests *prometheus.Desc
	errors   *prometheus.Desc
	bytes    *prometheus.Desc
	active   *prometheus.Desc
	latency  *prometheus.Desc
}

// NewClientCollector returns a collector reading from source
func NewClientCollector(source func() *bacnet.Metrics) *ClientCollector {
	return &ClientCollector{
		source: source,
		requests: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "client", "requests_total"),
			"Confirmed requests by outcome", []string{"outcome"}, nil),
		errors: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "client", "responses_total"),
			"Error, reject and abort responses", []string{"type"}, nil),
		bytes: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "client", "bytes_total"),
			"Bytes on the wire", []string{"direction"}, nil),
		active: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "client", "active_requests"),
			"Requests awaiting an answer", nil, nil),
		latency: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "client", "request_latency_seconds"),
			"Confirmed request latency", nil, nil),
	}
}

// Describe implements prometheus.Collector
func (c *ClientCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.requests
	ch <- c.errors
	ch <- c.bytes
	ch <- c.active
	ch <- c.latency
}

// Collect implements prometheus.Collector
func (c *ClientCollector) Collect(ch chan<- prometheus.Metric) {
	m := c.source()
	if m == nil {
		return
	}
	s := m.Snapshot()

	counter := func(desc *prometheus.Desc, v int64, label string) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v), label)
	}
	counter(c.requests, s.RequestsSent, "sent")
	counter(c.requests, s.RequestsSucceeded, "succeeded")
	counter(c.requests, s.RequestsFailed, "failed")
	counter(c.requests, s.RequestsTimedOut, "timeout")
	counter(c.requests, s.Retries, "retry")
	counter(c.errors, s.ErrorsReceived, "error")
	counter(c.errors, s.RejectsReceived, "reject")
	counter(c.errors, s.AbortsReceived, "abort")
	counter(c.bytes, s.BytesSent, "sent")
	counter(c.bytes, s.BytesReceived, "received")

	ch <- prometheus.MustNewConstMetric(c.active, prometheus.GaugeValue, float64(s.ActiveRequests))
	ch <- prometheus.MustNewConstSummary(c.latency,
		uint64(s.LatencyCount), s.LatencySum.Seconds(), nil)
}

// Handler serves the metrics of gatherer
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
