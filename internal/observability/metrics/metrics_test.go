package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineMetricsCounters(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	m, err := NewEngineMetrics(registry)
	require.NoError(t, err)

	m.RecordReading("")
	m.RecordReading("")
	m.RecordReading("out_of_range")
	m.RecordTransition("threshold", "created")
	m.RecordSuppressed("battery")
	m.SetObservers(4)
	m.ObserverDropped("queue_full")
	m.ObserverDisconnected("delivery_failed")
	m.RecordAppend(StatusDegraded)
	m.RecordRetry()
	m.SetBacklog(7)
	m.SetBreakerState(2)
	m.ObserveIngest(3 * time.Millisecond)

	assert.InDelta(t, 2, testutil.ToFloat64(m.ReadingsTotal.WithLabelValues(ResultAccepted)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ReadingsTotal.WithLabelValues(ResultRejected)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ReadingsRejected.WithLabelValues("out_of_range")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.AlertTransitions.WithLabelValues("threshold", "created")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.NotificationsSuppressed.WithLabelValues("battery")), 0)
	assert.InDelta(t, 4, testutil.ToFloat64(m.FanoutObservers), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.FanoutDisconnects), 0)
	assert.InDelta(t, 7, testutil.ToFloat64(m.HistoryBacklog), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.HistoryBreakerState), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.IngestDuration))

	expected := `
# HELP fieldwatch_history_appends_total Total number of history appends by status
# TYPE fieldwatch_history_appends_total counter
fieldwatch_history_appends_total{status="degraded"} 1
`
	require.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected), "fieldwatch_history_appends_total"))
}

func TestDuplicateRegistrationFails(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	_, err := NewMQTTMetrics(registry)
	require.NoError(t, err)
	_, err = NewMQTTMetrics(registry)
	assert.Error(t, err)
}

func TestMQTTAndPushMetrics(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	mqtt, err := NewMQTTMetrics(registry)
	require.NoError(t, err)
	push, err := NewPushMetrics(registry)
	require.NoError(t, err)

	mqtt.UpdateConnectionStatus(true)
	mqtt.ObserveMessage(128)
	mqtt.IncrementRejected("malformed_payload")
	mqtt.IncrementErrors(StageConnectionLost)
	mqtt.StartPublishTimer().ObserveDuration()

	push.RecordDelivery(PushSent, 100*time.Millisecond)
	push.RecordDelivery(PushRateLimited, 0)

	assert.InDelta(t, 1, testutil.ToFloat64(mqtt.ConnectionStatus), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(mqtt.MessagesReceived), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(mqtt.MessagesRejected.WithLabelValues("malformed_payload")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(mqtt.Errors.WithLabelValues(StageConnectionLost)), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(mqtt.PublishLatency))
	assert.InDelta(t, 1, testutil.ToFloat64(push.Deliveries.WithLabelValues(PushSent)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(push.Deliveries.WithLabelValues(PushRateLimited)), 0)

	mqtt.UpdateConnectionStatus(false)
	assert.InDelta(t, 0, testutil.ToFloat64(mqtt.ConnectionStatus), 0)
}
