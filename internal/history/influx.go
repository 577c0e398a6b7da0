package history

import (
	"context"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/tphakala/fieldwatch/internal/conf"
	"github.com/tphakala/fieldwatch/internal/errors"
	"github.com/tphakala/fieldwatch/internal/privacy"
	"github.com/tphakala/fieldwatch/internal/sensor"
)

// MeasurementReading is the InfluxDB measurement for readings
const MeasurementReading = "sensor_reading"

// InfluxSink writes readings to InfluxDB v2
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	timeout  time.Duration
}

// NewInfluxSink creates a sink for the configured bucket
func NewInfluxSink(settings conf.InfluxSettings) (*InfluxSink, error) {
	if settings.URL == "" || settings.Org == "" || settings.Bucket == "" {
		return nil, errors.Newf("influx config incomplete").
			Component("history").
			Category(errors.CategoryConfiguration).
			Context("url", privacy.AnonymizeURL(settings.URL)).
			Build()
	}

	opts := influxdb2.DefaultOptions()
	if settings.Timeout > 0 {
		opts.SetHTTPRequestTimeout(uint(settings.Timeout.Seconds()))
	}
	client := influxdb2.NewClientWithOptions(settings.URL, settings.Token, opts)

	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(settings.Org, settings.Bucket),
		timeout:  settings.Timeout,
	}, nil
}

// AppendReading writes one point tagged by sensor id and type
func (s *InfluxSink) AppendReading(ctx context.Context, r sensor.Reading) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	tags := map[string]string{
		"sensor_id":   r.SensorID,
		"sensor_type": string(r.SensorType),
	}
	fields := map[string]any{"value": r.Value}
	if r.BatteryLevel != nil {
		fields["battery"] = *r.BatteryLevel
	}
	if r.SignalStrength != nil {
		fields["signal"] = *r.SignalStrength
	}

	point := influxdb2.NewPoint(MeasurementReading, tags, fields, r.Timestamp)
	if err := s.writeAPI.WritePoint(ctx, point); err != nil {
		return errors.New(err).
			Component("history").
			Category(errors.CategoryIntegration).
			SensorContext(r.SensorID, string(r.SensorType)).
			Context("sink", "influxdb").
			Build()
	}
	return nil
}

// Close releases the client
func (s *InfluxSink) Close() {
	s.client.Close()
}
