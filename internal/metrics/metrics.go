package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/R3duxLabs/EchoMind-Backend/internal/event"
)

const namespace = "echomind"

// Drop reasons.
const (
	DropNoSessions = "no_sessions"
	DropQueueFull  = "queue_full"
	DropClosed     = "closed"
)

// Label values that stand in for client-chosen types, keeping series bounded.
const (
	LabelUnknown   = "unknown"
	LabelOther     = "other"
	LabelMalformed = "malformed"
)

var knownEventTypes = map[string]bool{
	event.TypeHeartbeat:             true,
	event.TypeConnectionEstablished: true,
	event.TypeConnectionClosed:      true,
	event.TypeMemoryUpdate:          true,
	event.TypeNotification:          true,
	event.TypeStreaming:             true,
	event.TypeCodeExecution:         true,
	event.TypeStateSync:             true,
	event.TypeServerBroadcast:       true,
}

// EventLabel returns eventType if it is one of the event types defined by
// package event, and LabelOther for anything else.
func EventLabel(eventType string) string {
	if knownEventTypes[eventType] {
		return eventType
	}
	return LabelOther
}

// Metrics holds the Prometheus registry and the service meters.
type Metrics struct {
	Registry *prometheus.Registry

	sessionsActive  prometheus.Gauge
	sessionsTotal   prometheus.Counter
	eventsPublished *prometheus.CounterVec
	eventsDelivered *prometheus.CounterVec
	eventsDropped   *prometheus.CounterVec
	inboundMessages *prometheus.CounterVec
	batchRequests   prometheus.Counter
	batchOperations *prometheus.CounterVec
	batchOpDuration *prometheus.HistogramVec
	httpRequests    *prometheus.CounterVec
}

// New creates a private registry with the service metrics and the standard
// Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "sessions_active",
			Help:      "Number of live stream sessions.",
		}),
		sessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "sessions_total",
			Help:      "Total number of stream sessions opened.",
		}),
		eventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "events_published_total",
			Help:      "Total number of events published to the bus.",
		}, []string{"type"}),
		eventsDelivered: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "events_delivered_total",
			Help:      "Total number of event deliveries to sessions.",
		}, []string{"type"}),
		eventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "events_dropped_total",
			Help:      "Total number of events or deliveries dropped.",
		}, []string{"reason"}),
		inboundMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "inbound_messages_total",
			Help:      "Total number of messages received from clients.",
		}, []string{"type"}),
		batchRequests: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "requests_total",
			Help:      "Total number of batch requests executed.",
		}),
		batchOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "operations_total",
			Help:      "Total number of batch operations by outcome.",
		}, []string{"type", "status"}),
		batchOpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "operation_duration_seconds",
			Help:      "Duration of batch operations in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by route and status code.",
		}, []string{"route", "code"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// SessionOpened records a new live session.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessionsActive.Inc()
	m.sessionsTotal.Inc()
}

// SessionClosed records a session going away.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
}

// EventPublished records one publish and the number of sessions it reached.
func (m *Metrics) EventPublished(eventType string, delivered int) {
	if m == nil {
		return
	}
	label := EventLabel(eventType)
	m.eventsPublished.WithLabelValues(label).Inc()
	if delivered > 0 {
		m.eventsDelivered.WithLabelValues(label).Add(float64(delivered))
	} else {
		m.eventsDropped.WithLabelValues(DropNoSessions).Inc()
	}
}

// EventDropped records a delivery lost for reason.
func (m *Metrics) EventDropped(reason string) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(reason).Inc()
}

// InboundMessage records a message received from a client.
func (m *Metrics) InboundMessage(eventType string) {
	if m == nil {
		return
	}
	m.inboundMessages.WithLabelValues(EventLabel(eventType)).Inc()
}

// InboundMalformed records a client message that failed to decode.
func (m *Metrics) InboundMalformed() {
	if m == nil {
		return
	}
	m.inboundMessages.WithLabelValues(LabelMalformed).Inc()
}

// BatchExecuted records one batch request.
func (m *Metrics) BatchExecuted() {
	if m == nil {
		return
	}
	m.batchRequests.Inc()
}

// BatchOperation records one operation outcome and its latency. Callers pass
// LabelUnknown for types with no registered handler.
func (m *Metrics) BatchOperation(opType string, success bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.batchOperations.WithLabelValues(opType, status).Inc()
	m.batchOpDuration.WithLabelValues(opType).Observe(elapsed.Seconds())
}

// HTTPRequest records a completed HTTP request.
func (m *Metrics) HTTPRequest(route string, code int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}
