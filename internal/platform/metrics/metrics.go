package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the HLS monitor engine.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal         prometheus.Counter
	errorsTotal           prometheus.Counter
	pollCyclesTotal       prometheus.Counter
	findingsTotal         *prometheus.CounterVec
	fetchFailuresTotal    prometheus.Counter
	webhookDeliveredTotal prometheus.Counter
	webhookFailedTotal    prometheus.Counter
	webhookDroppedTotal   prometheus.Counter
	findingsDroppedTotal  prometheus.Counter
	monitorsTotal         prometheus.Gauge
	monitorsRunning       prometheus.Gauge
}

// New creates and registers the engine metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hlsmon_http_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hlsmon_http_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		pollCyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hlsmon_poll_cycles_total",
			Help: "Total number of completed poll cycles across all monitors",
		}),
		findingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hlsmon_findings_total",
			Help: "Total findings emitted, by kind and severity",
		}, []string{"kind", "severity"}),
		fetchFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hlsmon_fetch_failures_total",
			Help: "Total failed manifest fetches",
		}),
		webhookDeliveredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hlsmon_webhook_delivered_total",
			Help: "Total webhook notifications delivered",
		}),
		webhookFailedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hlsmon_webhook_failed_total",
			Help: "Total webhook notifications rejected with 4xx or that exhausted their retries",
		}),
		webhookDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hlsmon_webhook_dropped_total",
			Help: "Total webhook notifications dropped on queue overflow",
		}),
		findingsDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hlsmon_findings_dropped_total",
			Help: "Total findings evicted from ring buffers on overflow",
		}),
		monitorsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hlsmon_monitors",
			Help: "Number of registered monitors",
		}),
		monitorsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hlsmon_monitors_running",
			Help: "Number of monitors currently polling",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.pollCyclesTotal,
		m.findingsTotal,
		m.fetchFailuresTotal,
		m.webhookDeliveredTotal,
		m.webhookFailedTotal,
		m.webhookDroppedTotal,
		m.findingsDroppedTotal,
		m.monitorsTotal,
		m.monitorsRunning,
	)

	return m
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() { m.requestsTotal.Inc() }

// IncErrors increments the HTTP error counter.
func (m *Metrics) IncErrors() { m.errorsTotal.Inc() }

// IncPollCycles increments the completed poll cycle counter.
func (m *Metrics) IncPollCycles() { m.pollCyclesTotal.Inc() }

// ObserveFinding counts one emitted finding.
func (m *Metrics) ObserveFinding(kind, severity string) {
	m.findingsTotal.WithLabelValues(kind, severity).Inc()
}

// IncFetchFailures counts one failed manifest fetch.
func (m *Metrics) IncFetchFailures() { m.fetchFailuresTotal.Inc() }

// IncWebhookDelivered counts one delivered webhook notification.
func (m *Metrics) IncWebhookDelivered() { m.webhookDeliveredTotal.Inc() }

// IncWebhookFailed counts one webhook notification that was rejected with a
// 4xx response or exhausted its retries.
func (m *Metrics) IncWebhookFailed() { m.webhookFailedTotal.Inc() }

// IncWebhookDropped counts one notification dropped on queue overflow.
func (m *Metrics) IncWebhookDropped() { m.webhookDroppedTotal.Inc() }

// IncFindingsDropped counts one finding evicted from a ring buffer.
func (m *Metrics) IncFindingsDropped() { m.findingsDroppedTotal.Inc() }

// SetMonitors sets the monitor gauges.
func (m *Metrics) SetMonitors(total, running int) {
	m.monitorsTotal.Set(float64(total))
	m.monitorsRunning.Set(float64(running))
}

// Handler returns an http.Handler that serves the metrics. updateGauges is
// called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
