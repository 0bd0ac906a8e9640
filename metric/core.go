package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every bus metric.
const Namespace = "vbus"

// Metrics contains the bus-level metrics of a client
type Metrics struct {
	RequestsSent     *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsHandled  *prometheus.CounterVec
	NoticesPublished *prometheus.CounterVec
	NoticesReceived  *prometheus.CounterVec
	PublishErrors    prometheus.Counter
	PendingRequests  prometheus.Gauge
	LocalElements    prometheus.Gauge
	RemoteProxies    prometheus.Gauge

	// NATS metrics
	NATSConnected      prometheus.Gauge
	NATSReconnects     prometheus.Counter
	NATSCircuitBreaker prometheus.Gauge
}

// NewMetrics creates the bus metrics. They are not registered anywhere yet.
func NewMetrics() *Metrics {
	return &Metrics{
		RequestsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "requests",
				Name:      "sent_total",
				Help:      "Requests sent to remote elements",
			},
			[]string{"verb", "status"},
		),

		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "requests",
				Name:      "duration_seconds",
				Help:      "Round-trip time of remote requests",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"verb"},
		),

		RequestsHandled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "requests",
				Name:      "handled_total",
				Help:      "Incoming requests answered by the local tree",
			},
			[]string{"verb", "code"},
		),

		NoticesPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "notices",
				Name:      "published_total",
				Help:      "Change notices published for the local tree",
			},
			[]string{"verb"},
		),

		NoticesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "notices",
				Name:      "received_total",
				Help:      "Change notices received for remote trees",
			},
			[]string{"verb"},
		),

		PublishErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "notices",
				Name:      "publish_errors_total",
				Help:      "Notices that could not be published",
			},
		),

		PendingRequests: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "requests",
				Name:      "pending",
				Help:      "Outstanding requests waiting for a reply",
			},
		),

		LocalElements: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "tree",
				Name:      "local_elements",
				Help:      "Elements in the local tree",
			},
		),

		RemoteProxies: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "tree",
				Name:      "remote_proxies",
				Help:      "Remote elements tracked by proxies",
			},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),

		NATSCircuitBreaker: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "nats",
				Name:      "circuit_breaker",
				Help:      "NATS circuit breaker status (0=closed, 1=open, 2=half-open)",
			},
		),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.RequestsSent,
		c.RequestDuration,
		c.RequestsHandled,
		c.NoticesPublished,
		c.NoticesReceived,
		c.PublishErrors,
		c.PendingRequests,
		c.LocalElements,
		c.RemoteProxies,
		c.NATSConnected,
		c.NATSReconnects,
		c.NATSCircuitBreaker,
	}
}

// RecordRequest counts an outgoing request and its round-trip time.
func (c *Metrics) RecordRequest(verb string, err error, duration time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.RequestsSent.WithLabelValues(verb, status).Inc()
	c.RequestDuration.WithLabelValues(verb).Observe(duration.Seconds())
}

// RecordHandled counts an answered incoming request. code is empty on success.
func (c *Metrics) RecordHandled(verb, code string) {
	if code == "" {
		code = "ok"
	}
	c.RequestsHandled.WithLabelValues(verb, code).Inc()
}

// RecordNoticePublished increments the published notice counter
func (c *Metrics) RecordNoticePublished(verb string) {
	c.NoticesPublished.WithLabelValues(verb).Inc()
}

// RecordNoticeReceived increments the received notice counter
func (c *Metrics) RecordNoticeReceived(verb string) {
	c.NoticesReceived.WithLabelValues(verb).Inc()
}

// RecordPublishError increments the publish failure counter
func (c *Metrics) RecordPublishError() {
	c.PublishErrors.Inc()
}

// SetPending updates the outstanding request gauge
func (c *Metrics) SetPending(n int) {
	c.PendingRequests.Set(float64(n))
}

// SetLocalElements updates the local tree size gauge
func (c *Metrics) SetLocalElements(n int) {
	c.LocalElements.Set(float64(n))
}

// SetRemoteProxies updates the remote proxy gauge
func (c *Metrics) SetRemoteProxies(n int) {
	c.RemoteProxies.Set(float64(n))
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	c.NATSConnected.Set(value)
}

// RecordNATSReconnect increments reconnection counter
func (c *Metrics) RecordNATSReconnect() {
	c.NATSReconnects.Inc()
}

// RecordCircuitBreakerState updates circuit breaker status
func (c *Metrics) RecordCircuitBreakerState(state int) {
	c.NATSCircuitBreaker.Set(float64(state))
}
