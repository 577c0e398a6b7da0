package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/fieldwatch/internal/conf"
	"github.com/tphakala/fieldwatch/internal/engine"
	"github.com/tphakala/fieldwatch/internal/history"
	"github.com/tphakala/fieldwatch/internal/observability/metrics"
	"github.com/tphakala/fieldwatch/internal/sensor"
	"github.com/tphakala/fieldwatch/internal/thresholds"
)

type published struct {
	topic   string
	payload []byte
}

type recorder struct {
	mu   sync.Mutex
	msgs []published
}

func (r *recorder) publish(topic string, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, published{topic: topic, payload: payload})
	return nil
}

func (r *recorder) all() []published {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]published(nil), r.msgs...)
}

func newTestSubscriber(t *testing.T) (*Subscriber, *recorder, *metrics.MQTTMetrics) {
	t.Helper()

	cfg := engine.DefaultConfig()
	cfg.DedupCleanup = 0
	cfg.CleanupInterval = 0
	eng := engine.New(cfg, thresholds.NewRegistry(), history.NewMemoryStore())
	require.NoError(t, eng.Start(t.Context()))
	t.Cleanup(eng.Stop)

	m, err := metrics.NewMQTTMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	rec := &recorder{}
	s := NewSubscriber(Config{TopicPrefix: "farm", QoS: 1, PublishRejections: true}, eng, WithMetrics(m))
	s.publish = rec.publish
	return s, rec, m
}

func payload(sensorID string, value float64) []byte {
	return fmt.Appendf(nil, `{"sensorId":%q,"sensorType":"soilMoisture","value":%v,"timestamp":%q}`,
		sensorID, value, time.Now().UTC().Format(time.RFC3339))
}

func TestConfigFrom(t *testing.T) {
	t.Parallel()

	cfg := ConfigFrom(conf.MQTTSettings{
		Broker:      "tcp://broker:1883",
		TopicPrefix: "/farm/",
		QoS:         1,
	}, "north")

	assert.Equal(t, "fieldwatch-north", cfg.ClientID)
	assert.Equal(t, "farm/readings/+", cfg.ReadingsTopic())
	assert.Equal(t, "farm/rejected/node-01", cfg.RejectedTopic("node-01"))
}

func TestHandlePayloadAccepted(t *testing.T) {
	t.Parallel()
	s, rec, m := newTestSubscriber(t)

	res, err := s.HandlePayload(t.Context(), "farm/readings/node-01", payload("node-01", 18))
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	require.Len(t, res.Events, 1)
	assert.Equal(t, "node-01", res.Events[0].Alert.SensorID)

	assert.Empty(t, rec.all())
	assert.InDelta(t, 1, testutil.ToFloat64(m.MessagesReceived), 0)
	assert.Equal(t, 0, testutil.CollectAndCount(m.MessagesRejected))
}

func TestHandlePayloadSensorFromTopic(t *testing.T) {
	t.Parallel()
	s, _, _ := newTestSubscriber(t)

	body := fmt.Appendf(nil, `{"sensorType":"temperature","value":22,"timestamp":%q}`,
		time.Now().UTC().Format(time.RFC3339))
	res, err := s.HandlePayload(t.Context(), "farm/readings/node-09", body)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
}

func TestHandlePayloadRejected(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		topic   string
		payload []byte
		reason  sensor.RejectReason
	}{
		{"malformed", "farm/readings/node-01", []byte(`{"value":`), ReasonMalformed},
		{"topic mismatch", "farm/readings/node-01", payload("node-02", 50), ReasonTopicMismatch},
		{"out of range", "farm/readings/node-01", payload("node-01", 140), sensor.ReasonOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, rec, m := newTestSubscriber(t)

			res, err := s.HandlePayload(t.Context(), tt.topic, tt.payload)
			require.Error(t, err)
			assert.False(t, res.Accepted)
			assert.Equal(t, tt.reason, res.Reason)

			msgs := rec.all()
			require.Len(t, msgs, 1)
			assert.Equal(t, "farm/rejected/node-01", msgs[0].topic)
			var rej Rejection
			require.NoError(t, json.Unmarshal(msgs[0].payload, &rej))
			assert.Equal(t, tt.reason, rej.Reason)
			assert.NotEmpty(t, rej.Error)
			assert.InDelta(t, 1, testutil.ToFloat64(m.MessagesRejected.WithLabelValues(string(tt.reason))), 0)
		})
	}
}

func TestRejectionsNotPublishedWhenDisabled(t *testing.T) {
	t.Parallel()
	s, rec, _ := newTestSubscriber(t)
	s.config.PublishRejections = false

	_, err := s.HandlePayload(t.Context(), "farm/readings/node-01", payload("node-01", 140))
	require.Error(t, err)
	assert.Empty(t, rec.all())
}

func TestRunStopsWhileBrokerUnreachable(t *testing.T) {
	t.Parallel()
	s, _, _ := newTestSubscriber(t)
	s.config.Broker = "tcp://127.0.0.1:1"
	s.config.MaxRetryInterval = 50 * time.Millisecond

	ctx, cancel := context.WithTimeout(t.Context(), 200*time.Millisecond)
	defer cancel()
	assert.NoError(t, s.Run(ctx))
}
