// Package metrics exposes Prometheus instrumentation for the bridge engine.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rustpanel"

// Metrics holds the collectors shared by the bridge, router and pollers.
type Metrics struct {
	registry *prometheus.Registry

	messagesReceived prometheus.Counter
	bytesReceived    prometheus.Counter
	messagesSent     prometheus.Counter
	bytesSent        prometheus.Counter
	transportErrors  prometheus.Counter
	connectionState  prometheus.Gauge
	dispatched       *prometheus.CounterVec
	decodeErrors     *prometheus.CounterVec
	unroutable       prometheus.Counter
	framingErrors    prometheus.Counter
	pollRequests     *prometheus.CounterVec
	decodeDuration   *prometheus.HistogramVec
}

// New creates a Metrics instance backed by its own registry, with the
// standard Go and process collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		messagesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "messages_received_total",
			Help:      "Complete WebSocket messages received from the bridge",
		}),
		bytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "bytes_received_total",
			Help:      "Bytes received from the bridge",
		}),
		messagesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "messages_sent_total",
			Help:      "Frames sent to the bridge",
		}),
		bytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "bytes_sent_total",
			Help:      "Bytes sent to the bridge",
		}),
		transportErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "transport_errors_total",
			Help:      "Transport failures (dial, send, receive)",
		}),
		connectionState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "connection_state",
			Help:      "Connection state: 0 disconnected, 1 connecting, 2 connected, 3 disconnecting",
		}),
		dispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "dispatched_total",
			Help:      "Inbound frames handed to a registered handler",
		}, []string{"rpc"}),
		decodeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "decode_errors_total",
			Help:      "Handler failures while decoding a payload",
		}, []string{"rpc"}),
		unroutable: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "unroutable_total",
			Help:      "Inbound frames with no registered handler",
		}),
		framingErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "framing_errors_total",
			Help:      "Inbound frames too short to carry a header",
		}),
		pollRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "requests_total",
			Help:      "Requests issued by pollers",
		}, []string{"poller"}),
		decodeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "handler_duration_seconds",
			Help:      "Time spent in a handler per inbound frame",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5},
		}, []string{"rpc"}),
	}
}

// Handler returns the HTTP handler serving this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) MessageReceived(size int) {
	if m == nil {
		return
	}
	m.messagesReceived.Inc()
	m.bytesReceived.Add(float64(size))
}

func (m *Metrics) MessageSent(size int) {
	if m == nil {
		return
	}
	m.messagesSent.Inc()
	m.bytesSent.Add(float64(size))
}

func (m *Metrics) TransportError() {
	if m == nil {
		return
	}
	m.transportErrors.Inc()
}

// SetConnectionState records the numeric value of the current state.
func (m *Metrics) SetConnectionState(state int) {
	if m == nil {
		return
	}
	m.connectionState.Set(float64(state))
}

func (m *Metrics) Dispatched(rpc string, seconds float64) {
	if m == nil {
		return
	}
	m.dispatched.WithLabelValues(rpc).Inc()
	m.decodeDuration.WithLabelValues(rpc).Observe(seconds)
}

func (m *Metrics) DecodeError(rpc string) {
	if m == nil {
		return
	}
	m.decodeErrors.WithLabelValues(rpc).Inc()
}

func (m *Metrics) Unroutable() {
	if m == nil {
		return
	}
	m.unroutable.Inc()
}

func (m *Metrics) FramingError() {
	if m == nil {
		return
	}
	m.framingErrors.Inc()
}

func (m *Metrics) PollRequest(poller string) {
	if m == nil {
		return
	}
	m.pollRequests.WithLabelValues(poller).Inc()
}
