package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// MQTT error stages
const (
	StageConnect        = "connect"
	StageSubscribe      = "subscribe"
	StageConnectionLost = "connection_lost"
	StagePublish        = "publish"
)

// MQTTMetrics covers the broker subscription that feeds readings in and
// the rejection topic it publishes to.
type MQTTMetrics struct {
	ConnectionStatus  prometheus.Gauge
	LastConnectTime   prometheus.Gauge
	ReconnectAttempts prometheus.Counter
	MessagesReceived  prometheus.Counter
	MessageSize       prometheus.Histogram
	MessagesRejected  *prometheus.CounterVec // by reject reason
	Errors            *prometheus.CounterVec // by stage
	PublishLatency    prometheus.Histogram
}

// NewMQTTMetrics creates the collectors and registers them on registry.
func NewMQTTMetrics(registry prometheus.Registerer) (*MQTTMetrics, error) {
	m := &MQTTMetrics{
		ConnectionStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "mqtt_connection_status",
			Help:      "1 while subscribed to the broker, 0 otherwise",
		}),
		LastConnectTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "mqtt_last_connect_time_seconds",
			Help:      "Unix time of the last successful broker connection",
		}),
		ReconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "mqtt_reconnect_attempts_total",
			Help:      "Broker connection attempts after the first",
		}),
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "mqtt_messages_received_total",
			Help:      "Reading messages received from the broker",
		}),
		MessageSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "mqtt_message_size_bytes",
			Help:      "Size of received reading messages",
			Buckets:   prometheus.ExponentialBuckets(64, 2, 8),
		}),
		MessagesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "mqtt_messages_rejected_total",
			Help:      "Reading messages rejected by reason",
		}, []string{"reason"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "mqtt_errors_total",
			Help:      "Broker errors by stage",
		}, []string{"stage"}),
		PublishLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "mqtt_publish_latency_seconds",
			Help:      "Time to publish a rejection notice",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 10),
		}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register MQTT metrics: %w", err)
	}
	return m, nil
}

// UpdateConnectionStatus records a connect or disconnect
func (m *MQTTMetrics) UpdateConnectionStatus(connected bool) {
	if !connected {
		m.ConnectionStatus.Set(0)
		return
	}
	m.ConnectionStatus.Set(1)
	m.LastConnectTime.SetToCurrentTime()
}

// ObserveMessage counts a received message and its size
func (m *MQTTMetrics) ObserveMessage(sizeBytes int) {
	m.MessagesReceived.Inc()
	m.MessageSize.Observe(float64(sizeBytes))
}

// IncrementRejected counts a rejected message
func (m *MQTTMetrics) IncrementRejected(reason string) {
	m.MessagesRejected.WithLabelValues(reason).Inc()
}

// IncrementErrors counts an error at stage
func (m *MQTTMetrics) IncrementErrors(stage string) {
	m.Errors.WithLabelValues(stage).Inc()
}

// IncrementReconnectAttempts counts a reconnect
func (m *MQTTMetrics) IncrementReconnectAttempts() {
	m.ReconnectAttempts.Inc()
}

// StartPublishTimer times one rejection publish
func (m *MQTTMetrics) StartPublishTimer() *prometheus.Timer {
	return prometheus.NewTimer(m.PublishLatency)
}

func (m *MQTTMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ConnectionStatus, m.LastConnectTime, m.ReconnectAttempts,
		m.MessagesReceived, m.MessageSize, m.MessagesRejected,
		m.Errors, m.PublishLatency,
	}
}

// Collect implements prometheus.Collector
func (m *MQTTMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

// Describe implements prometheus.Collector
func (m *MQTTMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}
