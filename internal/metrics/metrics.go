package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the service
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts management API requests by method, route and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// WebhookAttempts counts individual delivery attempts by event type and outcome (success|failure)
	WebhookAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bruin_webhook_attempts_total", Help: "Webhook delivery attempts by event type and outcome."},
		[]string{"event_type", "outcome"},
	)
	// WebhookLatency tracks attempt latencies in milliseconds
	WebhookLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "bruin_webhook_attempt_latency_ms", Help: "Webhook attempt latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000, 10000}},
		[]string{"event_type", "outcome"},
	)
	// WebhookSequences counts finished delivery sequences by terminal state
	WebhookSequences = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bruin_webhook_sequences_total", Help: "Webhook delivery sequences by terminal state."},
		[]string{"result"},
	)
	// WebhookInFlight is the number of delivery attempts currently on the wire
	WebhookInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "bruin_webhook_in_flight", Help: "Webhook delivery attempts currently in flight."},
	)
	// DomainEvents counts events received per source (redis|http)
	DomainEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bruin_domain_events_total", Help: "Domain events received by source."},
		[]string{"source"},
	)
	// LogsPruned counts delivery log entries removed by retention
	LogsPruned = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "bruin_delivery_logs_pruned_total", Help: "Delivery log entries removed by retention."},
	)
)

// RegisterDefault registers collectors to the service registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(WebhookAttempts)
		Registry.MustRegister(WebhookLatency)
		Registry.MustRegister(WebhookSequences)
		Registry.MustRegister(WebhookInFlight)
		Registry.MustRegister(DomainEvents)
		Registry.MustRegister(LogsPruned)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
