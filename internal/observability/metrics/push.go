package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PushMetrics tracks outbound push notifications
type PushMetrics struct {
	Deliveries       *prometheus.CounterVec
	DeliveryDuration prometheus.Histogram
}

// NewPushMetrics creates and registers the push collectors
func NewPushMetrics(registry prometheus.Registerer) (*PushMetrics, error) {
	m := &PushMetrics{
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "push_deliveries_total",
			Help:      "Total number of push notifications by status",
		}, []string{"status"}),
		DeliveryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "push_delivery_duration_seconds",
			Help:      "Time taken to deliver one push notification to all services",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
		}),
	}
	for _, c := range []prometheus.Collector{m.Deliveries, m.DeliveryDuration} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register push metrics: %w", err)
		}
	}
	return m, nil
}

// RecordDelivery counts a push outcome and, for sends, its duration
func (m *PushMetrics) RecordDelivery(status string, d time.Duration) {
	m.Deliveries.WithLabelValues(status).Inc()
	if status == PushSent || status == PushFailed {
		m.DeliveryDuration.Observe(d.Seconds())
	}
}
