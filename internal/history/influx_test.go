package history

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/fieldwatch/internal/conf"
	"github.com/tphakala/fieldwatch/internal/errors"
	"github.com/tphakala/fieldwatch/internal/sensor"
)

type influxRecorder struct {
	mu     sync.Mutex
	bodies []string
	query  string
	status int
}

func (r *influxRecorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	body, _ := io.ReadAll(req.Body)
	r.mu.Lock()
	r.bodies = append(r.bodies, string(body))
	r.query = req.URL.RawQuery
	status := r.status
	r.mu.Unlock()

	if req.URL.Path != "/api/v2/write" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if status != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"code":"invalid","message":"bad point"}`))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func TestInfluxSinkWritesLineProtocol(t *testing.T) {
	t.Parallel()

	rec := &influxRecorder{}
	server := httptest.NewServer(rec)
	defer server.Close()

	sink, err := NewInfluxSink(conf.InfluxSettings{
		URL:     server.URL,
		Token:   "test-token",
		Org:     "farm",
		Bucket:  "readings",
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)
	defer sink.Close()

	battery := 77.0
	require.NoError(t, sink.AppendReading(context.Background(), sensor.Reading{
		SensorID:     "node-01",
		SensorType:   sensor.SoilMoisture,
		Value:        18,
		Timestamp:    t0,
		BatteryLevel: &battery,
	}))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.bodies, 1)
	assert.Contains(t, rec.bodies[0], "sensor_reading,sensor_id=node-01,sensor_type=soilMoisture")
	assert.Contains(t, rec.bodies[0], "battery=77")
	assert.Contains(t, rec.bodies[0], "value=18")
	assert.NotContains(t, rec.bodies[0], "signal=")
	assert.Contains(t, rec.query, "bucket=readings")
	assert.Contains(t, rec.query, "org=farm")
}

func TestInfluxSinkReportsWriteErrors(t *testing.T) {
	t.Parallel()

	rec := &influxRecorder{status: http.StatusBadRequest}
	server := httptest.NewServer(rec)
	defer server.Close()

	sink, err := NewInfluxSink(conf.InfluxSettings{URL: server.URL, Org: "farm", Bucket: "readings"})
	require.NoError(t, err)
	defer sink.Close()

	err = sink.AppendReading(context.Background(), sensor.Reading{
		SensorID:   "node-01",
		SensorType: sensor.Humidity,
		Value:      55,
		Timestamp:  t0,
	})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryIntegration))
}

func TestInfluxSinkRequiresConfig(t *testing.T) {
	t.Parallel()

	_, err := NewInfluxSink(conf.InfluxSettings{URL: "http://localhost:8086"})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}
