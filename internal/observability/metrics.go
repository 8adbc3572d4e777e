package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "notification_pipeline"

// Metrics stores Prometheus collectors used by the gateway and worker processes.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal       *prometheus.CounterVec
	httpRequestDuration     *prometheus.HistogramVec
	messagesPublishedTotal  *prometheus.CounterVec
	messagesHandledTotal    *prometheus.CounterVec
	consumerReconnectsTotal *prometheus.CounterVec
	deliveriesTotal         *prometheus.CounterVec
	deliveryAttemptsTotal   *prometheus.CounterVec
	attemptDuration         *prometheus.HistogramVec
	statusWritesTotal       *prometheus.CounterVec
	workerInflight          *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		messagesPublishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "messages_published_total",
				Help:      "Broker publishes grouped by routing key and result.",
			},
			[]string{"routing_key", "result"},
		),
		messagesHandledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "messages_handled_total",
				Help:      "Consumed messages grouped by queue and ack outcome.",
			},
			[]string{"queue", "outcome"},
		),
		consumerReconnectsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "consumer_reconnects_total",
				Help:      "Number of times a durable consumer re-entered the connecting state after a failure.",
			},
			[]string{"queue"},
		),
		deliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "deliveries_total",
				Help:      "Terminal delivery outcomes grouped by channel.",
			},
			[]string{"channel", "outcome"},
		),
		deliveryAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "delivery_attempts_total",
				Help:      "Individual transport attempts grouped by channel and result.",
			},
			[]string{"channel", "result"},
		),
		attemptDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "delivery_attempt_duration_seconds",
				Help:      "Transport attempt duration in seconds grouped by channel.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"channel"},
		),
		statusWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "status_writes_total",
				Help:      "Status writes grouped by target (store, cache) and result.",
			},
			[]string{"target", "result"},
		),
		workerInflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "worker_inflight",
				Help:      "Current number of in-flight worker deliveries grouped by channel.",
			},
			[]string{"channel"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.messagesPublishedTotal,
		m.messagesHandledTotal,
		m.consumerReconnectsTotal,
		m.deliveriesTotal,
		m.deliveryAttemptsTotal,
		m.attemptDuration,
		m.statusWritesTotal,
		m.workerInflight,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) ObservePublish(routingKey string, err error) {
	if m == nil {
		return
	}
	m.messagesPublishedTotal.WithLabelValues(normalizeLabel(routingKey), resultLabel(err)).Inc()
}

func (m *Metrics) IncMessageHandled(queue string, outcome string) {
	if m == nil {
		return
	}
	m.messagesHandledTotal.WithLabelValues(normalizeLabel(queue), normalizeLabel(outcome)).Inc()
}

func (m *Metrics) IncConsumerReconnect(queue string) {
	if m == nil {
		return
	}
	m.consumerReconnectsTotal.WithLabelValues(normalizeLabel(queue)).Inc()
}

func (m *Metrics) IncDelivery(channel string, outcome string) {
	if m == nil {
		return
	}
	m.deliveriesTotal.WithLabelValues(normalizeLabel(channel), normalizeLabel(outcome)).Inc()
}

func (m *Metrics) ObserveDeliveryAttempt(channel string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	channelLabel := normalizeLabel(channel)
	m.deliveryAttemptsTotal.WithLabelValues(channelLabel, resultLabel(err)).Inc()
	m.attemptDuration.WithLabelValues(channelLabel).Observe(seconds)
}

func (m *Metrics) ObserveStatusWrite(target string, err error) {
	if m == nil {
		return
	}
	m.statusWritesTotal.WithLabelValues(normalizeLabel(target), resultLabel(err)).Inc()
}

func (m *Metrics) IncWorkerInFlight(channel string) {
	if m == nil {
		return
	}
	m.workerInflight.WithLabelValues(normalizeLabel(channel)).Inc()
}

func (m *Metrics) DecWorkerInFlight(channel string) {
	if m == nil {
		return
	}
	m.workerInflight.WithLabelValues(normalizeLabel(channel)).Dec()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
