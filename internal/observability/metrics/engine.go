package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics holds collectors for the evaluation pipeline, the fan-out
// hub and the history writer.
type EngineMetrics struct {
	ReadingsTotal           *prometheus.CounterVec
	ReadingsRejected        *prometheus.CounterVec
	AlertTransitions        *prometheus.CounterVec
	NotificationsSuppressed *prometheus.CounterVec
	FanoutObservers         prometheus.Gauge
	FanoutDropped           *prometheus.CounterVec
	FanoutDisconnects       prometheus.Counter
	HistoryAppends          *prometheus.CounterVec
	HistoryRetryAttempts    prometheus.Counter
	HistoryBacklog          prometheus.Gauge
	HistoryBreakerState     prometheus.Gauge
	IngestDuration          prometheus.Histogram
}

// NewEngineMetrics creates the collectors and registers them on registry.
func NewEngineMetrics(registry prometheus.Registerer) (*EngineMetrics, error) {
	m := &EngineMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register engine metrics: %w", err)
	}
	return m, nil
}

func (m *EngineMetrics) initMetrics() {
	m.ReadingsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "readings_total",
		Help:      "Total number of ingested readings by result",
	}, []string{"result"})

	m.ReadingsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "readings_rejected_total",
		Help:      "Total number of rejected readings by reject reason",
	}, []string{"reason"})

	m.AlertTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "alert_transitions_total",
		Help:      "Total number of alert lifecycle events by alert type and event",
	}, []string{"alert_type", "event"})

	m.NotificationsSuppressed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "notifications_suppressed_total",
		Help:      "Total number of notifications suppressed by the dedup window",
	}, []string{"alert_type"})

	m.FanoutObservers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "fanout_observers",
		Help:      "Number of connected observers",
	})

	m.FanoutDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "fanout_dropped_total",
		Help:      "Total number of events dropped from observer queues by reason",
	}, []string{"reason"})

	m.FanoutDisconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "fanout_disconnects_total",
		Help:      "Total number of observers disconnected for lagging",
	})

	m.HistoryAppends = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "history_appends_total",
		Help:      "Total number of history appends by status",
	}, []string{"status"})

	m.HistoryRetryAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "history_retry_attempts_total",
		Help:      "Total number of history append retries",
	})

	m.HistoryBacklog = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "history_backlog",
		Help:      "Number of records waiting in the degraded backlog",
	})

	m.HistoryBreakerState = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "history_breaker_state",
		Help:      "History circuit breaker state (0=closed, 1=half-open, 2=open)",
	})

	m.IngestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "ingest_duration_seconds",
		Help:      "Time spent evaluating one reading",
		Buckets:   ingestBuckets,
	})
}

// RecordReading counts an ingested reading. reason is empty for accepted readings.
func (m *EngineMetrics) RecordReading(reason string) {
	if reason == "" {
		m.ReadingsTotal.WithLabelValues(ResultAccepted).Inc()
		return
	}
	m.ReadingsTotal.WithLabelValues(ResultRejected).Inc()
	m.ReadingsRejected.WithLabelValues(reason).Inc()
}

// RecordTransition counts a published lifecycle event
func (m *EngineMetrics) RecordTransition(alertType, event string) {
	m.AlertTransitions.WithLabelValues(alertType, event).Inc()
}

// RecordSuppressed counts a notification held back by the dedup window
func (m *EngineMetrics) RecordSuppressed(alertType string) {
	m.NotificationsSuppressed.WithLabelValues(alertType).Inc()
}

// ObserveIngest records how long one Ingest call took
func (m *EngineMetrics) ObserveIngest(d time.Duration) {
	m.IngestDuration.Observe(d.Seconds())
}

// SetObservers sets the connected observer gauge
func (m *EngineMetrics) SetObservers(n int) {
	m.FanoutObservers.Set(float64(n))
}

// ObserverDropped counts an event dropped from an observer queue
func (m *EngineMetrics) ObserverDropped(reason string) {
	m.FanoutDropped.WithLabelValues(reason).Inc()
}

// ObserverDisconnected counts a forced observer disconnect
func (m *EngineMetrics) ObserverDisconnected(string) {
	m.FanoutDisconnects.Inc()
}

// RecordAppend counts a history append outcome
func (m *EngineMetrics) RecordAppend(status string) {
	m.HistoryAppends.WithLabelValues(status).Inc()
}

// RecordRetry counts one history retry attempt
func (m *EngineMetrics) RecordRetry() {
	m.HistoryRetryAttempts.Inc()
}

// SetBacklog sets the degraded backlog gauge
func (m *EngineMetrics) SetBacklog(n int) {
	m.HistoryBacklog.Set(float64(n))
}

// SetBreakerState sets the breaker gauge (0=closed, 1=half-open, 2=open)
func (m *EngineMetrics) SetBreakerState(state int) {
	m.HistoryBreakerState.Set(float64(state))
}

// Describe implements the prometheus.Collector interface.
func (m *EngineMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.ReadingsTotal.Describe(ch)
	m.ReadingsRejected.Describe(ch)
	m.AlertTransitions.Describe(ch)
	m.NotificationsSuppressed.Describe(ch)
	m.FanoutObservers.Describe(ch)
	m.FanoutDropped.Describe(ch)
	m.FanoutDisconnects.Describe(ch)
	m.HistoryAppends.Describe(ch)
	m.HistoryRetryAttempts.Describe(ch)
	m.HistoryBacklog.Describe(ch)
	m.HistoryBreakerState.Describe(ch)
	m.IngestDuration.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *EngineMetrics) Collect(ch chan<- prometheus.Metric) {
	m.ReadingsTotal.Collect(ch)
	m.ReadingsRejected.Collect(ch)
	m.AlertTransitions.Collect(ch)
	m.NotificationsSuppressed.Collect(ch)
	m.FanoutObservers.Collect(ch)
	m.FanoutDropped.Collect(ch)
	m.FanoutDisconnects.Collect(ch)
	m.HistoryAppends.Collect(ch)
	m.HistoryRetryAttempts.Collect(ch)
	m.HistoryBacklog.Collect(ch)
	m.HistoryBreakerState.Collect(ch)
	m.IngestDuration.Collect(ch)
}
