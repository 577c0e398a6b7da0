// Package observability provides the Prometheus registry and the /metrics
// endpoint for fieldwatch.
package observability

import (
	"fmt"
	stdlog "log"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tphakala/fieldwatch/internal/errors"
	"github.com/tphakala/fieldwatch/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry *prometheus.Registry
	Engine   *metrics.EngineMetrics
	MQTT     *metrics.MQTTMetrics
	Push     *metrics.PushMetrics

	// Errors counts built errors by component and category
	Errors *prometheus.CounterVec
}

// NewMetrics creates a private registry and initializes every collector.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	engineMetrics, err := metrics.NewEngineMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine metrics: %w", err)
	}

	mqttMetrics, err := metrics.NewMQTTMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create MQTT metrics: %w", err)
	}

	pushMetrics, err := metrics.NewPushMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create push metrics: %w", err)
	}

	errorsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Name:      "errors_total",
		Help:      "Total number of errors raised by component and category",
	}, []string{"component", "category"})
	if err := registry.Register(errorsTotal); err != nil {
		return nil, fmt.Errorf("failed to register error counter: %w", err)
	}

	return &Metrics{
		registry: registry,
		Engine:   engineMetrics,
		MQTT:     mqttMetrics,
		Push:     pushMetrics,
		Errors:   errorsTotal,
	}, nil
}

// ObserveError counts ee. It is installed as an errors hook by serve.
func (m *Metrics) ObserveError(ee *errors.EnhancedError) {
	m.Errors.WithLabelValues(ee.GetComponent(), string(ee.Category)).Inc()
}

// Registry exposes the underlying registry for tests and extra collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      stdlog.New(os.Stderr, "metrics handler: ", stdlog.LstdFlags),
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}

// RegisterHandlers registers the metrics endpoint with the provided http.ServeMux.
func (m *Metrics) RegisterHandlers(mux *http.ServeMux) {
	mux.Handle("/metrics", m.Handler())
}
