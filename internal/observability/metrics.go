package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	requestCount    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	errorCount      *prometheus.CounterVec
	ticketUpdates   *prometheus.CounterVec
	auditEntries    prometheus.Counter
	casConflicts    prometheus.Counter
	firstResponses  prometheus.Counter
	ticketsCreated  prometheus.Counter
}

// NewMetrics initializes collectors and registers the Go runtime collectors alongside them.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requestCount: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by route, method and status",
		}, []string{"path", "method", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"path", "method"}),
		errorCount: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Domain errors rendered to clients by code",
		}, []string{"path", "method", "code"}),
		ticketUpdates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ticket_updates_total",
			Help: "Ticket update attempts by outcome",
		}, []string{"outcome"}),
		auditEntries: factory.NewCounter(prometheus.CounterOpts{
			Name: "ticket_audit_entries_total",
			Help: "Audit entries appended",
		}),
		casConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "ticket_version_conflicts_total",
			Help: "Conditional ticket writes that lost to a concurrent writer",
		}),
		firstResponses: factory.NewCounter(prometheus.CounterOpts{
			Name: "ticket_first_responses_total",
			Help: "First staff responses stamped on tickets",
		}),
		ticketsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "tickets_created_total",
			Help: "Tickets created",
		}),
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestCount.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(path, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.errorCount.WithLabelValues(path, method, code).Inc()
}

// RecordTicketUpdate counts an update by outcome (applied, noop, conflict, failed).
func (m *Metrics) RecordTicketUpdate(outcome string) {
	if m == nil {
		return
	}
	m.ticketUpdates.WithLabelValues(outcome).Inc()
}

// RecordAuditEntry counts one appended audit entry.
func (m *Metrics) RecordAuditEntry() {
	if m == nil {
		return
	}
	m.auditEntries.Inc()
}

// RecordVersionConflict counts one lost conditional write.
func (m *Metrics) RecordVersionConflict() {
	if m == nil {
		return
	}
	m.casConflicts.Inc()
}

// RecordFirstResponse counts one first-response stamp.
func (m *Metrics) RecordFirstResponse() {
	if m == nil {
		return
	}
	m.firstResponses.Inc()
}

// RecordTicketCreated counts one created ticket.
func (m *Metrics) RecordTicketCreated() {
	if m == nil {
		return
	}
	m.ticketsCreated.Inc()
}
